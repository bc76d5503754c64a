// Package migrations holds the review service schema.
package migrations

import "embed"

// FS contains the *.up.sql files applied at startup.
//
//go:embed *.sql
var FS embed.FS
