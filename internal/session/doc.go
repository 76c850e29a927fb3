// Package session is the server-side hub every connection for a document
// attaches to.
//
// Each Session is a single goroutine draining an ordered inbox. Frames from
// every connection, detaches and the periodic sweep are all inbox entries,
// so the Presence Tracker and Lock Table are only ever touched by that one
// goroutine and every connection observes broadcasts in the same order.
//
// Sessions are created by a Registry on first attach. When the last
// connection leaves, the session is parked for an idle grace period and
// discarded if nobody re-attaches in time.
package session
