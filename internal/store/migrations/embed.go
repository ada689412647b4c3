// Package migrations embeds the store schema.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
