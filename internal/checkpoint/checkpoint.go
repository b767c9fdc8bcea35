// Package checkpoint implements the durable, versioned, atomic progress
// record that lets init resume a partially-completed run.
package checkpoint

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/pgbridge/pgbridge/internal/errkind"
)

// initCheckpointVersion is the current on-disk schema version. A checkpoint
// written by a different version fails to load.
const initCheckpointVersion = 1

// Metadata captures the identity of a run: hashed source/target URLs, the
// table-rules fingerprint, and the two boolean flags that affect
// resumability semantics.
type Metadata struct {
	SourceHash   string `json:"source_hash"`
	TargetHash   string `json:"target_hash"`
	FilterHash   string `json:"filter_hash"`
	DropExisting bool   `json:"drop_existing"`
	EnableSync   bool   `json:"enable_sync"`
}

// NewMetadata hashes the given URLs and builds a Metadata value.
func NewMetadata(sourceURL, targetURL, filterHash string, dropExisting, enableSync bool) Metadata {
	return Metadata{
		SourceHash:   hashString(sourceURL),
		TargetHash:   hashString(targetURL),
		FilterHash:   filterHash,
		DropExisting: dropExisting,
		EnableSync:   enableSync,
	}
}

func hashString(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

type data struct {
	Version   int      `json:"version"`
	Metadata  Metadata `json:"metadata"`
	Databases []string `json:"databases"`
	Completed []string `json:"completed"`
}

// Checkpoint is the in-memory, mutable view of an init run's progress. Every
// mutation (MarkCompleted) should be followed by a Save to remain durable.
type Checkpoint struct {
	d data
}

// New creates a fresh checkpoint for the given metadata and ordered database
// list, with nothing yet completed.
func New(metadata Metadata, databases []string) *Checkpoint {
	return &Checkpoint{d: data{
		Version:   initCheckpointVersion,
		Metadata:  metadata,
		Databases: append([]string(nil), databases...),
		Completed: []string{},
	}}
}

// Load reads a checkpoint from path. A missing file returns (nil, nil) —
// absence is not an error. A version mismatch fails with
// CheckpointDivergence naming the remedy.
func Load(path string) (*Checkpoint, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errkind.New(errkind.Io, "failed to read checkpoint at %s: %w", path, err)
	}

	var d data
	if err := json.Unmarshal(raw, &d); err != nil {
		return nil, errkind.New(errkind.Io, "failed to parse checkpoint JSON at %s: %w", path, err)
	}

	if d.Version != initCheckpointVersion {
		return nil, errkind.New(errkind.CheckpointDivergence,
			"checkpoint version mismatch (found %d, expected %d); run with --no-resume to start fresh",
			d.Version, initCheckpointVersion)
	}

	return &Checkpoint{d: d}, nil
}

// Save writes the checkpoint to path atomically: write to a temp file in
// the same directory, then rename over the target path.
func (c *Checkpoint) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errkind.New(errkind.Io, "failed to create checkpoint directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".checkpoint-*.tmp")
	if err != nil {
		return errkind.New(errkind.Io, "failed to create temp checkpoint in %s: %w", dir, err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	encoder := json.NewEncoder(tmp)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(c.d); err != nil {
		tmp.Close()
		return errkind.New(errkind.Io, "failed to serialize checkpoint at %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return errkind.New(errkind.Io, "failed to close temp checkpoint at %s: %w", tmpPath, err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return errkind.New(errkind.Io, "failed to persist checkpoint at %s: %w", path, err)
	}
	return nil
}

// Databases returns the ordered database list captured at checkpoint
// creation time.
func (c *Checkpoint) Databases() []string { return c.d.Databases }

// Metadata returns the run identity this checkpoint was created with.
func (c *Checkpoint) Metadata() Metadata { return c.d.Metadata }

// MarkCompleted records db as done; idempotent.
func (c *Checkpoint) MarkCompleted(db string) {
	for _, existing := range c.d.Completed {
		if existing == db {
			return
		}
	}
	c.d.Completed = append(c.d.Completed, db)
	sort.Strings(c.d.Completed)
}

// IsCompleted reports whether db has already been marked done.
func (c *Checkpoint) IsCompleted(db string) bool {
	for _, existing := range c.d.Completed {
		if existing == db {
			return true
		}
	}
	return false
}

// CompletedCount returns the number of databases marked done.
func (c *Checkpoint) CompletedCount() int { return len(c.d.Completed) }

// TotalDatabases returns the number of databases tracked by this checkpoint.
func (c *Checkpoint) TotalDatabases() int { return len(c.d.Databases) }

// Validate fails with CheckpointDivergence if metadata or the database list
// differs from what was recorded at creation time.
func (c *Checkpoint) Validate(metadata Metadata, databases []string) error {
	if c.d.Metadata != metadata {
		return errkind.New(errkind.CheckpointDivergence,
			"checkpoint metadata mismatch; run with --no-resume to discard the previous state")
	}
	if !stringSlicesEqual(c.d.Databases, databases) {
		return errkind.New(errkind.CheckpointDivergence,
			"checkpoint database list differs from current discovery; run with --no-resume to start fresh")
	}
	return nil
}

func stringSlicesEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Path computes the deterministic checkpoint file location for a
// (source, target) URL pair: <tempdir>/pgbridge-checkpoints/init-<16hex>.json.
func Path(sourceURL, targetURL string) (string, error) {
	base := filepath.Join(os.TempDir(), "pgbridge-checkpoints")
	if err := os.MkdirAll(base, 0o755); err != nil {
		return "", errkind.New(errkind.Io, "failed to create checkpoint base directory %s: %w", base, err)
	}

	h := sha256.New()
	h.Write([]byte(sourceURL))
	h.Write([]byte("::"))
	h.Write([]byte(targetURL))
	digest := hex.EncodeToString(h.Sum(nil))
	short := digest
	if len(short) > 16 {
		short = short[:16]
	}

	return filepath.Join(base, fmt.Sprintf("init-%s.json", short)), nil
}

// Remove deletes the checkpoint file at path, if present.
func Remove(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return errkind.New(errkind.Io, "failed to remove checkpoint at %s: %w", path, err)
	}
	return nil
}
