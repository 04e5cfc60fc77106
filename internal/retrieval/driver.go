//go:build !sqlite_vec || !cgo

package retrieval

import (
	_ "modernc.org/sqlite"
)

// Pure-Go SQLite driver. No CGO toolchain needed.
const sqliteDriver = "sqlite"
