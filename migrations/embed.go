// Package migrations holds the prospecting schema: companies and their
// emails, campaigns with sent emails, the contact blacklist and profiles.
package migrations

import "embed"

// FS is read by the migrator at startup.
//
//go:embed *.up.sql *.down.sql
var FS embed.FS
