// Package domain defines the entities and transitions for a client-side
// session view.
//
// A SessionState mirrors the shared state of one multiplayer game session:
// the message feed, the player roster, the initiative order, the active
// turn, and the current scene. It is mutated exclusively through the Apply*
// transitions, each of which restores the state invariants before returning:
//
//   - the initiative order is sorted descending by value, ties keeping
//     arrival order
//   - exactly the entry matching the current turn is marked active
//   - the message feed holds at most MaxMessages entries, newest first
//   - the roster holds one entry per user id; rejoining marks the existing
//     entry online instead of duplicating it
//   - the turn counter never decreases
package domain
