// Package writer persists relayed edits to an append-only PostgreSQL
// journal.
//
// The sync layer does not own documents; the journal is an audit trail of
// what was relayed and when. Rows are keyed by a server-assigned edit id and
// inserted with ON CONFLICT DO NOTHING, so replaying a batch is harmless.
package writer
