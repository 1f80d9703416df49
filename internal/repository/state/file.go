package state

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	api "github.com/oshokin/mqtt-alarm/internal/api/grpc/alarm"
	"github.com/oshokin/mqtt-alarm/internal/config"
	domain "github.com/oshokin/mqtt-alarm/internal/domain/alarm"
)

// Repository defines persistence operations for the settled alarm status.
type Repository interface {
	Load(ctx context.Context) (*domain.Status, error)
	Save(ctx context.Context, status *domain.Status) error
}

// FileRepository persists the alarm status to a JSON file on disk.
// The document is a google.protobuf.Struct encoded with protojson, the same
// shape the control API returns.
type FileRepository struct {
	// path is the filesystem location of the JSON state file.
	path string
	// mu protects concurrent access to the state file.
	mu sync.Mutex
}

// ErrNotFound is returned when the state file does not exist yet.
var ErrNotFound = errors.New("state not found")

// NewFileRepository creates a repository that reads/writes JSON at the provided path.
func NewFileRepository(path string) *FileRepository {
	return &FileRepository{
		path: filepath.Clean(path),
	}
}

// Load reads the status from disk. Only the phase, mode, timestamp and actor
// are restored; countdowns are never persisted.
func (r *FileRepository) Load(_ context.Context) (*domain.Status, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	contents, err := os.ReadFile(r.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNotFound
		}

		return nil, fmt.Errorf("read state file: %w", err)
	}

	var document structpb.Struct
	if err = protojson.Unmarshal(contents, &document); err != nil {
		return nil, fmt.Errorf("decode state file: %w", err)
	}

	status, err := api.StatusFromStruct(&document)
	if err != nil {
		return nil, fmt.Errorf("decode state file: %w", err)
	}

	status.Countdown = 0

	return status, nil
}

// Save writes the status to disk.
func (r *FileRepository) Save(_ context.Context, status *domain.Status) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	settled := status.Clone()
	settled.Countdown = 0

	document, err := api.StatusToStruct(settled)
	if err != nil {
		return err
	}

	marshalOptions := protojson.MarshalOptions{
		Multiline:       true,
		EmitUnpopulated: true,
	}

	data, err := marshalOptions.Marshal(document)
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}

	if err = os.WriteFile(r.path, data, config.DefaultFilePermissions); err != nil {
		return fmt.Errorf("write state file: %w", err)
	}

	return nil
}
