//go:build sqlite_vec && cgo

package retrieval

import (
	vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	_ "github.com/mattn/go-sqlite3"
)

// CGO SQLite driver with the sqlite-vec extension auto-loaded, for
// deployments that want ANN search over large history exports.
const sqliteDriver = "sqlite3"

func init() {
	vec.Auto()
}
