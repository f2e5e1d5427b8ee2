package tokenstore

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
)

// JSONFile stores an opaque JSON document with the same atomic write discipline as FileStore.
type JSONFile struct {
	filePath string
}

// Compile-time check to ensure JSONFile implements BlobStore
var _ BlobStore = (*JSONFile)(nil)

// NewJSONFile creates a JSONFile for the given path.
func NewJSONFile(filePath string) (*JSONFile, error) {
	if filePath == "" {
		return nil, fmt.Errorf("file path cannot be empty")
	}
	return &JSONFile{filePath: filePath}, nil
}

// Read returns the stored document. Returns error if the file is missing or not valid JSON.
func (j *JSONFile) Read(ctx context.Context) (json.RawMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(j.filePath)
	if err != nil {
		return nil, err
	}
	if !json.Valid(data) {
		return nil, fmt.Errorf("invalid JSON in %s", j.filePath)
	}
	return json.RawMessage(data), nil
}

// Write replaces the file with blob, byte for byte. The blob must be valid JSON.
func (j *JSONFile) Write(ctx context.Context, blob json.RawMessage) error {
	if !json.Valid(blob) {
		return fmt.Errorf("refusing to write invalid JSON to %s", j.filePath)
	}
	return writeFileAtomic(ctx, j.filePath, blob)
}
