// Package migrations embeds the SQL schema applied by `meetcap db migrate`.
package migrations

import "embed"

// FS holds the numbered .sql migration files.
//
//go:embed *.sql
var FS embed.FS
