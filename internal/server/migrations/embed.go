// Package migrations embeds the goose SQL migrations. The schema sticks to
// TEXT and BIGINT columns so the same files run on PostgreSQL and SQLite.
package migrations

import "embed"

//go:embed *.sql
var Migrations embed.FS
