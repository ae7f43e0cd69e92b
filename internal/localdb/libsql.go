//go:build libsql

package localdb

import (
	_ "github.com/tursodatabase/go-libsql"
)

func init() {
	drivers[DriverLibSQL] = true
}
