// Package db embeds the schema the server applies at startup.
package db

import _ "embed"

// Schema holds the DDL for the snapshot and API key tables.
//
//go:embed migrations/001_schema.sql
var Schema string
