// Package migrations embeds the grace object store's schema migrations for
// golang-migrate's iofs source driver.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
