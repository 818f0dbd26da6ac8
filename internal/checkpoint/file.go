package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Repository defines persistence operations for the run checkpoint.
type Repository interface {
	Load(ctx context.Context) (*Checkpoint, error)
	Save(ctx context.Context, record *Checkpoint) error
}

// FileRepository persists the checkpoint to a JSON file on disk. Writes go
// through a temporary file and rename so an interrupted run never leaves a
// truncated record behind.
type FileRepository struct {
	// path is the filesystem location of the JSON checkpoint file.
	path string
	// mu protects concurrent access to the checkpoint file.
	mu sync.Mutex
}

var (
	// ErrNotFound is returned when the checkpoint file does not exist yet.
	ErrNotFound = errors.New("checkpoint not found")
	// ErrSchemaMismatch is returned when the file was written by an
	// incompatible tool version.
	ErrSchemaMismatch = errors.New("checkpoint schema mismatch")
)

// checkpointFileMode keeps the record readable by the operator only.
const checkpointFileMode os.FileMode = 0o600

// NewFileRepository creates a repository that reads/writes JSON at the provided path.
func NewFileRepository(path string) *FileRepository {
	return &FileRepository{
		path: filepath.Clean(path),
	}
}

// Load reads the checkpoint from disk.
func (r *FileRepository) Load(_ context.Context) (*Checkpoint, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	contents, err := os.ReadFile(r.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNotFound
		}

		return nil, fmt.Errorf("read checkpoint file: %w", err)
	}

	var record Checkpoint
	if err = json.Unmarshal(contents, &record); err != nil {
		return nil, fmt.Errorf("decode checkpoint file: %w", err)
	}

	if record.SchemaVersion != SchemaVersion {
		return nil, fmt.Errorf("version %d: %w", record.SchemaVersion, ErrSchemaMismatch)
	}

	return &record, nil
}

// Save writes the checkpoint to disk, stamping the update time.
func (r *FileRepository) Save(_ context.Context, record *Checkpoint) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	record.SchemaVersion = SchemaVersion
	record.UpdatedAt = time.Now().UTC()

	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return fmt.Errorf("encode checkpoint: %w", err)
	}

	tmp := r.path + ".tmp"
	if err = os.WriteFile(tmp, data, checkpointFileMode); err != nil {
		return fmt.Errorf("write checkpoint file: %w", err)
	}

	if err = os.Rename(tmp, r.path); err != nil {
		return fmt.Errorf("replace checkpoint file: %w", err)
	}

	return nil
}
