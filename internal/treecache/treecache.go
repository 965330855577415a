// Package treecache implements the tree structure cache of spec.md §4.10: a
// persisted (tree digest) -> (shape-only projection digest) mapping, where
// every leaf blob of a tree is replaced by the digest of the empty blob,
// every symlink is preserved by its target, and every subtree is projected
// recursively. Grounded on original_source's
// tree_structure/tree_structure_cache.{hpp,cpp} and tree_structure_utils.hpp,
// and on internal/cas's own generational-CAS idioms (schema-in-const-string,
// modernc.org/sqlite, uplink-on-read).
package treecache

import (
	"database/sql"
	"fmt"
	"sync"

	_ "modernc.org/sqlite"

	"github.com/buildforge/justb/internal/artifact"
	"github.com/buildforge/justb/internal/cas"
	"github.com/buildforge/justb/internal/hashinfo"
)

const schema = `
CREATE TABLE IF NOT EXISTS tree_structure (
	key_hash   TEXT NOT NULL PRIMARY KEY,
	value_hash TEXT NOT NULL,
	value_size INTEGER NOT NULL
);
`

// Cache is the persisted key(tree digest) -> value(structure digest)
// coupling. A coupling is only honoured while both its key and value trees
// remain live in the backing CAS: Get uplinks both across generations on
// access (mirroring the CAS's own uplink-on-read behavior), and a coupling
// whose key or value has since been garbage collected is reported as a miss
// and dropped, matching TreeStructureCache::Get's staleness check.
type Cache struct {
	mu      sync.Mutex
	db      *sql.DB
	storage *cas.Storage
}

// Open creates or opens the tree structure cache backed by dbPath, coupled
// to storage for the liveness checks and uplinking described on Cache.
func Open(dbPath string, storage *cas.Storage) (*Cache, error) {
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("treecache: open index: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("treecache: create schema: %w", err)
	}
	return &Cache{db: db, storage: storage}, nil
}

func (c *Cache) Close() error { return c.db.Close() }

// Get looks up key's cached structure digest. A stale coupling, whose key or
// value is no longer present in the CAS, is reported as a miss and removed
// rather than returned.
func (c *Cache) Get(key artifact.Digest) (artifact.Digest, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var valueHash string
	var valueSize int64
	err := c.db.QueryRow(
		`SELECT value_hash, value_size FROM tree_structure WHERE key_hash = ?`, key.Hash(),
	).Scan(&valueHash, &valueSize)
	if err == sql.ErrNoRows {
		return artifact.Digest{}, false, nil
	}
	if err != nil {
		return artifact.Digest{}, false, fmt.Errorf("treecache: query %s: %w", key.Hash(), err)
	}

	if _, ok, err := c.storage.Get(key, artifact.Tree); err != nil {
		return artifact.Digest{}, false, err
	} else if !ok {
		c.dropLocked(key.Hash())
		return artifact.Digest{}, false, nil
	}

	valueInfo, err := hashinfo.Create(key.HashInfo().HashType(), valueHash, true)
	if err != nil {
		return artifact.Digest{}, false, fmt.Errorf("treecache: stored value hash invalid: %w", err)
	}
	value := artifact.NewDigest(valueInfo, valueSize)
	if _, ok, err := c.storage.Get(value, artifact.Tree); err != nil {
		return artifact.Digest{}, false, err
	} else if !ok {
		c.dropLocked(key.Hash())
		return artifact.Digest{}, false, nil
	}

	return value, true, nil
}

func (c *Cache) dropLocked(keyHash string) {
	c.db.Exec(`DELETE FROM tree_structure WHERE key_hash = ?`, keyHash)
}

// Set records that key's structure projection is value. Both must already be
// present in the CAS. Tree structure is a pure function of tree content, so
// a key already mapped to a different value indicates a programming error
// rather than a legitimate update, and is rejected.
func (c *Cache) Set(key, value artifact.Digest) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok, err := c.storage.Get(key, artifact.Tree); err != nil {
		return err
	} else if !ok {
		return fmt.Errorf("treecache: key %s not present in CAS", key.Hash())
	}
	if _, ok, err := c.storage.Get(value, artifact.Tree); err != nil {
		return err
	} else if !ok {
		return fmt.Errorf("treecache: value %s not present in CAS", value.Hash())
	}

	var existing string
	err := c.db.QueryRow(`SELECT value_hash FROM tree_structure WHERE key_hash = ?`, key.Hash()).Scan(&existing)
	if err != nil && err != sql.ErrNoRows {
		return fmt.Errorf("treecache: query %s: %w", key.Hash(), err)
	}
	if err == nil && existing != value.Hash() {
		return fmt.Errorf("treecache: key %s already maps to %s, refusing to overwrite with %s", key.Hash(), existing, value.Hash())
	}

	if _, err := c.db.Exec(
		`INSERT OR REPLACE INTO tree_structure (key_hash, value_hash, value_size) VALUES (?, ?, ?)`,
		key.Hash(), value.Hash(), value.Size(),
	); err != nil {
		return fmt.Errorf("treecache: insert %s: %w", key.Hash(), err)
	}
	return nil
}

// emptyBlobDigest is the digest every leaf file or executable entry is
// replaced by when computing a tree's structure projection (spec.md §4.10).
func emptyBlobDigest(family hashinfo.Family) artifact.Digest {
	hi := hashinfo.HashData(family, nil, false)
	return artifact.NewDigest(hi, 0)
}

const symlinkMode = "120000"

// Compute builds the shape-only structure projection of tree (spec.md
// §4.10): every leaf blob's digest is replaced by the empty blob's digest,
// every symlink entry is preserved unchanged (its target text is part of its
// shape), and every subtree is projected recursively. The projection's
// object graph is written into storage so it can itself be read back as an
// ordinary tree, and each level is memoised in cache.
func Compute(tree artifact.Digest, storage *cas.Storage, cache *Cache) (artifact.Digest, error) {
	if cached, ok, err := cache.Get(tree); err != nil {
		return artifact.Digest{}, err
	} else if ok {
		return cached, nil
	}

	content, ok, err := storage.Get(tree, artifact.Tree)
	if err != nil {
		return artifact.Digest{}, err
	}
	if !ok {
		return artifact.Digest{}, fmt.Errorf("treecache: tree %s not present in CAS", tree.Hash())
	}
	entries, err := artifact.ParseGitTreeBytes(content)
	if err != nil {
		return artifact.Digest{}, fmt.Errorf("treecache: parse tree %s: %w", tree.Hash(), err)
	}

	family := tree.HashInfo().HashType()
	empty := emptyBlobDigest(family)

	projected := make([]artifact.TreeEntry, len(entries))
	for i, e := range entries {
		switch {
		case e.IsTree:
			subInfo, err := hashinfo.Create(family, e.Hash, true)
			if err != nil {
				return artifact.Digest{}, fmt.Errorf("treecache: subtree hash for %q: %w", e.Name, err)
			}
			subDigest, err := Compute(artifact.NewDigest(subInfo, 0), storage, cache)
			if err != nil {
				return artifact.Digest{}, err
			}
			projected[i] = artifact.TreeEntry{Name: e.Name, Hash: subDigest.Hash(), Mode: e.Mode, IsTree: true}
		case e.Mode == symlinkMode:
			projected[i] = e
		default:
			projected[i] = artifact.TreeEntry{Name: e.Name, Hash: empty.Hash(), Mode: e.Mode, IsTree: false}
		}
	}

	newDigest, raw, err := artifact.BuildTreeDigest(projected)
	if err != nil {
		return artifact.Digest{}, fmt.Errorf("treecache: rebuild tree for %s: %w", tree.Hash(), err)
	}
	if err := storage.Put(artifact.NewMemoryBlob(newDigest, raw, false), artifact.Tree); err != nil {
		return artifact.Digest{}, fmt.Errorf("treecache: write projected tree for %s: %w", tree.Hash(), err)
	}

	if err := cache.Set(tree, newDigest); err != nil {
		return artifact.Digest{}, err
	}
	return newDigest, nil
}
