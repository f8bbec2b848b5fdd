// Package database opens the PostgreSQL pool used for the conversation
// archive.
package database
