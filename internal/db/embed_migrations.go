package db

import "embed"

// MigrationFS holds the schema for users, collab_sessions and session_participants.
// cmd/migrate applies it through the migrate runner.
//
//go:embed migrations/*.sql
var MigrationFS embed.FS
