// Package database opens the PostgreSQL pool used by the message recorder.
package database
