// Package database provides the PostgreSQL connection pool behind the edit
// journal.
package database
