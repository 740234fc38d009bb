package repository

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// sqlitePragmas favour concurrent readers: rating is read-heavy and admin writes are rare.
var sqlitePragmas = []string{
	"journal_mode(WAL)",
	"synchronous(NORMAL)",
	"busy_timeout(5000)",
	"foreign_keys(ON)",
}

// sqliteDSN builds a modernc.org/sqlite connection string, creating the
// database directory when needed. ":memory:" yields a shared in-memory database.
func sqliteDSN(cfg domain.RepositoryConfig) (string, error) {
	path := cfg.SQLitePath
	if path == "" {
		path = "./kestrel.db"
	}

	q := url.Values{}
	for _, p := range sqlitePragmas {
		q.Add("_pragma", p)
	}

	if path == ":memory:" {
		return "file::memory:?cache=shared&" + q.Encode(), nil
	}

	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	return "file:" + path + "?" + q.Encode(), nil
}
