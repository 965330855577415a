// Package cas implements the generational local content-addressable storage
// layer of spec.md §4.8/§6.4: sharded-by-hex-prefix object trees for file,
// executable, and tree blobs, a SQLite metadata index in the teacher's
// schema-in-const-string idiom, uplinking on older-generation hits, and
// generation rotation for garbage collection.
package cas

import (
	"database/sql"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	_ "modernc.org/sqlite"
	"golang.org/x/sync/errgroup"

	"github.com/buildforge/justb/internal/artifact"
)

// uplinkClosureConcurrency bounds how many sibling tree entries Get uplinks
// in parallel while walking a tree's closure.
const uplinkClosureConcurrency = 8

const schema = `
CREATE TABLE IF NOT EXISTS objects (
	hash TEXT NOT NULL,
	hash_type INTEGER NOT NULL,
	is_tree INTEGER NOT NULL,
	size INTEGER NOT NULL,
	is_executable INTEGER NOT NULL DEFAULT 0,
	generation INTEGER NOT NULL,
	PRIMARY KEY (hash, hash_type, is_tree)
);

CREATE INDEX IF NOT EXISTS idx_objects_generation ON objects(generation);
`

// bucketFor names the sharded directory family an object lives in, mirroring
// the original's cas_f (files), cas_x (executables), cas_t (trees).
type bucket string

const (
	bucketFile       bucket = "cas_f"
	bucketExecutable bucket = "cas_x"
	bucketTree       bucket = "cas_t"
)

func bucketFor(objType artifact.ObjectType) bucket {
	switch objType {
	case artifact.Executable:
		return bucketExecutable
	case artifact.Tree:
		return bucketTree
	default:
		return bucketFile
	}
}

// Storage is a generational local CAS rooted at a build directory. Index 0
// is the youngest generation; TriggerGarbageCollection rotates older
// generations out, dropping the oldest.
type Storage struct {
	root        string
	generations int
	db          *sql.DB
	mu          sync.Mutex
}

// Open creates or opens the CAS rooted at root, with the given number of
// generations (minimum 2, so GC always has an older generation to rotate
// into before reclaiming space).
func Open(root string, generations int) (*Storage, error) {
	if generations < 2 {
		generations = 2
	}
	for g := 0; g < generations; g++ {
		for _, b := range []bucket{bucketFile, bucketExecutable, bucketTree} {
			if err := os.MkdirAll(genDir(root, g, b), 0o755); err != nil {
				return nil, fmt.Errorf("cas: create generation dir: %w", err)
			}
		}
	}

	dbPath := filepath.Join(root, "index.db")
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("cas: open index: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("cas: create schema: %w", err)
	}

	return &Storage{root: root, generations: generations, db: db}, nil
}

func (s *Storage) Close() error {
	return s.db.Close()
}

func genDir(root string, generation int, b bucket) string {
	return filepath.Join(root, fmt.Sprintf("generation-%d", generation), string(b))
}

func shardedPath(root string, generation int, b bucket, hexHash string) string {
	return filepath.Join(genDir(root, generation, b), hexHash[:2], hexHash[2:])
}

// Put stores blob's content in generation 0 and records its metadata.
// Writing an already-present digest is a no-op beyond metadata refresh.
func (s *Storage) Put(blob artifact.Blob, objType artifact.ObjectType) error {
	content, err := blob.ReadContent()
	if err != nil {
		return fmt.Errorf("cas: read blob content: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	b := bucketFor(objType)
	path := shardedPath(s.root, 0, b, blob.Digest().Hash())
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("cas: mkdir for %s: %w", path, err)
	}
	if err := os.WriteFile(path, content, 0o644); err != nil {
		return fmt.Errorf("cas: write %s: %w", path, err)
	}

	_, err = s.db.Exec(
		`INSERT OR REPLACE INTO objects (hash, hash_type, is_tree, size, is_executable, generation)
		 VALUES (?, ?, ?, ?, ?, 0)`,
		blob.Digest().Hash(), int(blob.Digest().HashInfo().HashType()), boolToInt(blob.Digest().IsTree()),
		blob.Digest().Size(), boolToInt(blob.IsExecutable()),
	)
	if err != nil {
		return fmt.Errorf("cas: index %s: %w", blob.Digest().Hash(), err)
	}
	return nil
}

// Get reads an object's content, uplinking it into generation 0 if it was
// only found in an older generation (spec.md §8 invariant 8). For a tree
// object this uplinks its entire reachable closure (every referenced blob
// and subtree, recursively), not just the tree object itself, so a later
// TriggerGarbageCollection can never drop a child the tree still
// references (spec.md §4.8).
func (s *Storage) Get(digest artifact.Digest, objType artifact.ObjectType) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, ok, err := s.findAndUplinkLocked(digest.Hash(), objType)
	if err != nil || !ok {
		return nil, ok, err
	}
	if objType == artifact.Tree {
		if err := s.uplinkClosureLocked(data); err != nil {
			return nil, false, err
		}
	}
	return data, true, nil
}

// findAndUplinkLocked locates hexHash/objType across generations, uplinking
// it into generation 0 on an older-generation hit. Caller must hold s.mu.
func (s *Storage) findAndUplinkLocked(hexHash string, objType artifact.ObjectType) ([]byte, bool, error) {
	b := bucketFor(objType)
	for g := 0; g < s.generations; g++ {
		path := shardedPath(s.root, g, b, hexHash)
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		if g != 0 {
			if err := s.uplinkLocked(b, hexHash, data); err != nil {
				return nil, false, err
			}
		}
		return data, true, nil
	}
	return nil, false, nil
}

func (s *Storage) uplinkLocked(b bucket, hexHash string, data []byte) error {
	dst := shardedPath(s.root, 0, b, hexHash)
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("cas: mkdir for uplink: %w", err)
	}
	if _, err := os.Stat(dst); err == nil {
		return nil
	}
	if err := os.WriteFile(dst, data, 0o644); err != nil {
		return fmt.Errorf("cas: uplink to %s: %w", dst, err)
	}
	_, err := s.db.Exec(`UPDATE objects SET generation = 0 WHERE hash = ?`, hexHash)
	if err != nil {
		return fmt.Errorf("cas: update generation for uplink: %w", err)
	}
	return nil
}

// uplinkClosureLocked parses treeContent's entries and uplinks every
// referenced blob/subtree, recursing into subtrees so the whole closure
// ends up in generation 0 alongside the tree itself. Entries are uplinked
// with bounded concurrency via errgroup, since sibling entries share no
// state beyond the already-held s.mu and the underlying sql.DB (both safe
// for concurrent use). A child missing from every generation is left
// alone rather than treated as fatal: that is a pre-existing inconsistency
// this walk cannot repair, not one newly introduced by reading the tree.
func (s *Storage) uplinkClosureLocked(treeContent []byte) error {
	entries, err := artifact.ParseGitTreeBytes(treeContent)
	if err != nil {
		return fmt.Errorf("cas: parse tree entries for uplink: %w", err)
	}

	g := new(errgroup.Group)
	g.SetLimit(uplinkClosureConcurrency)
	for _, entry := range entries {
		entry := entry
		g.Go(func() error {
			return s.uplinkTreeEntryLocked(entry)
		})
	}
	return g.Wait()
}

func (s *Storage) uplinkTreeEntryLocked(entry artifact.TreeEntry) error {
	objType := objectTypeForTreeMode(entry.Mode)
	data, ok, err := s.findAndUplinkLocked(entry.Hash, objType)
	if err != nil || !ok {
		return err
	}
	if objType != artifact.Tree {
		return nil
	}
	return s.uplinkClosureLocked(data)
}

// objectTypeForTreeMode maps a Git tree entry's mode to the CAS bucket its
// referenced object lives in, mirroring fileroot's own entryTypeForMode: a
// symlink's target text is stored as an ordinary file blob, same as any
// other leaf.
func objectTypeForTreeMode(mode string) artifact.ObjectType {
	switch mode {
	case "40000", "040000":
		return artifact.Tree
	case "100755":
		return artifact.Executable
	default:
		return artifact.File
	}
}

// Contains reports whether digest is present in any generation, without
// uplinking. Used by FindMissingBlobs-style checks that must stay cheap.
func (s *Storage) Contains(digest artifact.Digest, objType artifact.ObjectType) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	b := bucketFor(objType)
	for g := 0; g < s.generations; g++ {
		if _, err := os.Stat(shardedPath(s.root, g, b, digest.Hash())); err == nil {
			return true
		}
	}
	return false
}

// StreamTo copies an object's content directly to w without buffering the
// whole object in memory, for large blobs served over ByteStream Read.
func (s *Storage) StreamTo(w io.Writer, digest artifact.Digest, objType artifact.ObjectType) error {
	s.mu.Lock()
	b := bucketFor(objType)
	var path string
	for g := 0; g < s.generations; g++ {
		p := shardedPath(s.root, g, b, digest.Hash())
		if _, err := os.Stat(p); err == nil {
			path = p
			break
		}
	}
	s.mu.Unlock()
	if path == "" {
		return fmt.Errorf("cas: object %s not found", digest.Hash())
	}
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("cas: open %s: %w", path, err)
	}
	defer f.Close()
	if _, err := io.Copy(w, f); err != nil {
		return fmt.Errorf("cas: stream %s: %w", path, err)
	}
	return nil
}

// TriggerGarbageCollection rotates generations: youngest becomes generation
// 1, ..., the current oldest generation is deleted from disk and from the
// index. A fresh, empty generation 0 is created for subsequent writes.
func (s *Storage) TriggerGarbageCollection() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	oldest := s.generations - 1
	oldestDir := filepath.Join(s.root, fmt.Sprintf("generation-%d", oldest))
	if err := os.RemoveAll(oldestDir); err != nil {
		return fmt.Errorf("cas: remove oldest generation: %w", err)
	}
	for g := oldest; g > 0; g-- {
		from := filepath.Join(s.root, fmt.Sprintf("generation-%d", g-1))
		to := filepath.Join(s.root, fmt.Sprintf("generation-%d", g))
		if _, err := os.Stat(from); err == nil {
			if err := os.Rename(from, to); err != nil {
				return fmt.Errorf("cas: rotate generation %d -> %d: %w", g-1, g, err)
			}
		}
	}
	for _, b := range []bucket{bucketFile, bucketExecutable, bucketTree} {
		if err := os.MkdirAll(genDir(s.root, 0, b), 0o755); err != nil {
			return fmt.Errorf("cas: recreate generation 0: %w", err)
		}
	}

	if _, err := s.db.Exec(
		`UPDATE objects SET generation = generation + 1`,
	); err != nil {
		return fmt.Errorf("cas: bump generation counters: %w", err)
	}
	if _, err := s.db.Exec(`DELETE FROM objects WHERE generation >= ?`, s.generations); err != nil {
		return fmt.Errorf("cas: prune stale index rows: %w", err)
	}
	return nil
}

// GenerationCounts returns the number of indexed objects per generation,
// for metrics exposition. Index 0 is the youngest generation.
func (s *Storage) GenerationCounts() (map[int]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(`SELECT generation, COUNT(*) FROM objects GROUP BY generation`)
	if err != nil {
		return nil, fmt.Errorf("cas: query generation counts: %w", err)
	}
	defer rows.Close()

	counts := make(map[int]int64, s.generations)
	for rows.Next() {
		var gen int
		var count int64
		if err := rows.Scan(&gen, &count); err != nil {
			return nil, fmt.Errorf("cas: scan generation count: %w", err)
		}
		counts[gen] = count
	}
	return counts, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
