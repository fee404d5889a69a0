// Package migrations embeds the SQL files goose applies at startup.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
