package dice

import (
	"fmt"
	"strings"
)

// Result is a roll outcome received from the server or the REST fallback.
type Result struct {
	Notation        string         `json:"notation"`
	IndividualRolls []int          `json:"individual_rolls"`
	Modifiers       map[string]int `json:"modifiers,omitempty"`
	Total           int            `json:"total"`
	IsCritical      bool           `json:"is_critical"`
	IsFumble        bool           `json:"is_fumble"`
	IsAdvantage     bool           `json:"is_advantage,omitempty"`
	IsDisadvantage  bool           `json:"is_disadvantage,omitempty"`
	PlayerName      string         `json:"player_name,omitempty"`
	Purpose         string         `json:"purpose,omitempty"`
}

// Summary renders the result for the message feed, e.g.
// "2d6+3: [4 + 5] + 3 (base) = 12".
func (r Result) Summary() string {
	var b strings.Builder
	b.WriteString(r.Notation)
	b.WriteString(": [")
	for i, roll := range r.IndividualRolls {
		if i > 0 {
			b.WriteString(" + ")
		}
		fmt.Fprintf(&b, "%d", roll)
	}
	b.WriteString("]")
	for _, name := range sortedModifierNames(r.Modifiers) {
		value := r.Modifiers[name]
		switch {
		case value > 0:
			fmt.Fprintf(&b, " + %d (%s)", value, name)
		case value < 0:
			fmt.Fprintf(&b, " - %d (%s)", -value, name)
		}
	}
	fmt.Fprintf(&b, " = %d", r.Total)

	if r.IsCritical {
		b.WriteString(" (critical!)")
	}
	if r.IsFumble {
		b.WriteString(" (fumble)")
	}
	if r.IsAdvantage {
		b.WriteString(" (advantage)")
	}
	if r.IsDisadvantage {
		b.WriteString(" (disadvantage)")
	}
	return b.String()
}

func sortedModifierNames(modifiers map[string]int) []string {
	if len(modifiers) == 0 {
		return nil
	}
	names := make([]string, 0, len(modifiers))
	for name := range modifiers {
		names = append(names, name)
	}
	for i := 1; i < len(names); i++ {
		for j := i; j > 0 && names[j] < names[j-1]; j-- {
			names[j], names[j-1] = names[j-1], names[j]
		}
	}
	return names
}
