package storage

import (
	"fmt"
	"log"
	"strings"

	"github.com/dgraph-io/badger/v4"
)

// OpenBadger opens (or creates) a badger database at path.
// An empty path opens an in-memory database, which is what tests use.
func OpenBadger(path string) (*badger.DB, error) {
	path = strings.TrimSpace(path)

	var opts badger.Options
	if path == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		opts = badger.DefaultOptions(path)
	}
	opts = opts.WithLogger(nil)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("storage: open badger at %q: %w", path, err)
	}
	if path != "" {
		log.Printf("[storage] badger opened at %s", path)
	}
	return db, nil
}
