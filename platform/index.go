package platform

import (
	"database/sql"
	"errors"
	"fmt"
	"hash/fnv"

	_ "modernc.org/sqlite"
)

// Index is a persistent class-location index: for each (classpath,
// class name) pair it remembers which entry produced the class last
// time, so large classpaths skip the miss-walk on later runs. Rows are
// keyed by a hash of the classpath string, so a changed classpath
// simply stops matching and the stale rows age out via Purge.
type Index struct {
	db   *sql.DB
	hash int64
}

// hashClasspath folds the ordered entry labels into the row key.
func hashClasspath(entries []Entry) int64 {
	h := fnv.New64a()
	for _, e := range entries {
		h.Write([]byte(e.String()))
		h.Write([]byte{0})
	}
	return int64(h.Sum64())
}

// OpenIndex opens or creates the index database at path for the given
// classpath.
func OpenIndex(path string, entries []Entry) (*Index, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("class index %s: %w", path, err)
	}
	if _, err = db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("class index %s: %w", path, err)
	}
	if _, err = db.Exec(`CREATE TABLE IF NOT EXISTS class_locations (
		classpath_hash INTEGER NOT NULL,
		name           TEXT NOT NULL,
		entry_idx      INTEGER NOT NULL,
		PRIMARY KEY (classpath_hash, name)
	)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("class index %s: %w", path, err)
	}
	return &Index{db: db, hash: hashClasspath(entries)}, nil
}

// Lookup returns the entry index last known to hold name.
func (ix *Index) Lookup(name string) (int, bool) {
	var idx int
	err := ix.db.QueryRow(
		"SELECT entry_idx FROM class_locations WHERE classpath_hash = ? AND name = ?",
		ix.hash, name).Scan(&idx)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false
	}
	if err != nil {
		log.Warningf("class index lookup %s: %v", name, err)
		return 0, false
	}
	return idx, true
}

// Record stores the entry index that produced name.
func (ix *Index) Record(name string, idx int) {
	if _, err := ix.db.Exec(
		"INSERT OR REPLACE INTO class_locations (classpath_hash, name, entry_idx) VALUES (?, ?, ?)",
		ix.hash, name, idx); err != nil {
		log.Warningf("class index record %s: %v", name, err)
	}
}

// Purge drops rows recorded for other classpaths.
func (ix *Index) Purge() error {
	_, err := ix.db.Exec("DELETE FROM class_locations WHERE classpath_hash <> ?", ix.hash)
	return err
}

// Close releases the database handle.
func (ix *Index) Close() error { return ix.db.Close() }
