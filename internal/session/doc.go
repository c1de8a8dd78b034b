// Package session serves as an umbrella for the client-side view of a live
// game session, including the canonical session state and the store that
// keeps it synchronized with server-pushed events.
//
// The package is organized into two primary subpackages:
//   - domain: Defines the session state (messages, roster, initiative, turn,
//     scene) and the pure transitions that keep its invariants.
//   - service: Implements the store that applies semantic events in order and
//     exposes the user-facing action methods.
package session
