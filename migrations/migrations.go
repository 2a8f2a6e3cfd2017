// Package migrations carries the job history schema
package migrations

import "embed"

// FS holds the ordered *.sql files
//
//go:embed *.sql
var FS embed.FS
