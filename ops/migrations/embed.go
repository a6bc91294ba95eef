// Package migrations embeds the SQL schema and seed files.
package migrations

import "embed"

// SQL holds sql/*.up.sql and sql/*.down.sql.
//
//go:embed sql/*.sql
var SQL embed.FS

// Seeds holds seeds/*.sql.
//
//go:embed seeds/*.sql
var Seeds embed.FS
