// Copyright 2022 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package trust

import (
	"crypto/x509"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/logger"
	_ "github.com/mattn/go-sqlite3"
)

const crlSchema = `
CREATE TABLE IF NOT EXISTS crls (
    url             TEXT PRIMARY KEY,
    der             BLOB NOT NULL,
    this_update_ns  INTEGER NOT NULL,
    next_update_ns  INTEGER NOT NULL,
    fetched_at_ns   INTEGER NOT NULL
);
`

// SQLiteCRLCache persists fetched CRLs across processes. A stored CRL is served until its
// NextUpdate time, after which it is fetched again from Provider.
type SQLiteCRLCache struct {
	// Provider fetches CRLs that are missing or stale.
	Provider CRLProvider
	// Now returns the current time. If nil, uses time.Now.
	Now func() time.Time

	mu sync.Mutex
	db *sql.DB
}

// OpenSQLiteCRLCache opens or creates the cache database at path.
func OpenSQLiteCRLCache(path string, provider CRLProvider) (*SQLiteCRLCache, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create cache directory: %w", err)
	}
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("open CRL cache: %w", err)
	}
	if _, err := db.Exec(crlSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply CRL cache schema: %w", err)
	}
	return &SQLiteCRLCache{Provider: provider, db: db}, nil
}

// Close closes the database connection.
func (c *SQLiteCRLCache) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

func (c *SQLiteCRLCache) now() time.Time {
	if c.Now == nil {
		return time.Now()
	}
	return c.Now()
}

func (c *SQLiteCRLCache) lookup(url string) (*x509.RevocationList, error) {
	var der []byte
	var nextUpdate int64
	err := c.db.QueryRow(`SELECT der, next_update_ns FROM crls WHERE url = ?`, url).Scan(&der, &nextUpdate)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query CRL cache: %w", err)
	}
	if !c.now().Before(time.Unix(0, nextUpdate)) {
		return nil, nil
	}
	crl, err := x509.ParseRevocationList(der)
	if err != nil {
		logger.Warningf("discarding unparseable cached CRL for %s: %v", url, err)
		return nil, nil
	}
	return crl, nil
}

func (c *SQLiteCRLCache) store(url string, crl *x509.RevocationList) error {
	_, err := c.db.Exec(`
		INSERT INTO crls (url, der, this_update_ns, next_update_ns, fetched_at_ns)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(url) DO UPDATE SET
			der = excluded.der,
			this_update_ns = excluded.this_update_ns,
			next_update_ns = excluded.next_update_ns,
			fetched_at_ns = excluded.fetched_at_ns`,
		url, crl.Raw, crl.ThisUpdate.UnixNano(), crl.NextUpdate.UnixNano(), c.now().UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("store CRL: %w", err)
	}
	return nil
}

// GetCRL returns the stored CRL for url if it is still current, or fetches and stores it.
// A failure to write the cache is logged and does not fail the fetch.
func (c *SQLiteCRLCache) GetCRL(url string) (*x509.RevocationList, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	crl, err := c.lookup(url)
	if err != nil {
		return nil, err
	}
	if crl != nil {
		return crl, nil
	}
	crl, err = c.Provider.GetCRL(url)
	if err != nil {
		return nil, err
	}
	if crl.NextUpdate.IsZero() {
		return crl, nil
	}
	if err := c.store(url, crl); err != nil {
		logger.Warningf("could not cache CRL for %s: %v", url, err)
	}
	return crl, nil
}

// Entries returns the number of CRLs stored in the cache.
func (c *SQLiteCRLCache) Entries() (int, error) {
	var n int
	if err := c.db.QueryRow(`SELECT COUNT(*) FROM crls`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count CRL cache: %w", err)
	}
	return n, nil
}
