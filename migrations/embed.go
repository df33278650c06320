// Package migrations embeds the queue's schema so the binary can apply it
// without files on disk.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
