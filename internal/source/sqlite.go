package source

import (
	"database/sql"
	"fmt"
	"os"
	"strings"

	_ "github.com/mattn/go-sqlite3"
)

// openExternal opens a foreign sqlite store read-only, distinguishing a
// missing store from denied access.
func openExternal(sourceName, path string) (*sql.DB, error) {
	if path == "" {
		return nil, NotAvailable(sourceName, fmt.Errorf("no path configured"))
	}
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil, NotAvailable(sourceName, err)
		}
		return nil, NotAuthorized(sourceName, err)
	}

	db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?mode=ro", path))
	if err != nil {
		return nil, NotAvailable(sourceName, err)
	}
	// sql.Open is lazy; force a real read so permission denials surface
	// here instead of mid-query.
	if _, err := db.Exec("SELECT count(*) FROM sqlite_master"); err != nil {
		db.Close()
		return nil, NotAuthorized(sourceName, err)
	}
	return db, nil
}

// hasTable reports whether the store contains the named table. Missing
// tables are the usual symptom of an upstream schema change.
func hasTable(db *sql.DB, table string) bool {
	var n int
	err := db.QueryRow(`SELECT count(*) FROM sqlite_master WHERE type = 'table' AND name = ?`, table).Scan(&n)
	return err == nil && n > 0
}

// canOpenExternal is the shared CheckAvailability implementation for the
// sqlite-backed sources: an actual read-only connection attempt, not a stat.
func canOpenExternal(sourceName, path, table string) bool {
	db, err := openExternal(sourceName, path)
	if err != nil {
		return false
	}
	defer db.Close()
	return hasTable(db, table)
}

// handleAddress splits a messaging handle into its phone or email half.
// iMessage-style handles are either a phone number or an email address.
func handleAddress(handle string) (phone, email string) {
	if strings.Contains(handle, "@") {
		return "", handle
	}
	return handle, ""
}
