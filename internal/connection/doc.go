// Package connection implements the client side of the sync layer.
//
// A Manager represents one user's live link into one session:
//   - Announces presence and requests a full resync on every (re)connect
//   - Queues outbound intents in order while the link is down and drains
//     them, before anything new, once the resync has completed
//   - Sends a liveness ping on a fixed interval while connected
//   - Reconnects with exponential backoff and gives up after a fixed
//     number of attempts, emitting a single reconnect_failed event
//   - Stays down when the server closes the link with CloseSuperseded,
//     because a second Manager for the same user took the session over;
//     it moves to gave_up with ErrSuperseded instead of evicting that one
//   - Keeps read-only caches of the last known roster and lock table
//
// The connection lifecycle is an explicit state machine (see State) and
// every timer goes through an injected clock so tests can drive it.
package connection
