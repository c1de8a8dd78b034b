package domain

// Player is one roster entry, keyed by user id for the session lifetime.
// Leaving marks the entry offline; entries are never removed mid-session.
type Player struct {
	UserID        string
	CharacterID   string
	Username      string
	CharacterName string
	IsOnline      bool
	Initiative    *int
	CurrentHP     *int
	MaxHP         *int
}

// InitiativeEntry is one slot in the encounter turn order.
type InitiativeEntry struct {
	CharacterID   string
	CharacterName string
	Initiative    int
	IsPlayer      bool
	IsActive      bool
}
