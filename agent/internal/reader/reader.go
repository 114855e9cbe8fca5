package reader

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fieldgrid/fieldgrid/pkg/types"
)

// ErrUnsupported is returned for files whose extension is neither .csv nor .json.
var ErrUnsupported = errors.New("unsupported export format")

// ParseError locates a malformed row or item in an export.
type ParseError struct {
	Row   int // 1-based data row or array index + 1
	Field string
	Err   error
}

func (e *ParseError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("row %d: %v", e.Row, e.Err)
	}
	return fmt.Sprintf("row %d: %s: %v", e.Row, e.Field, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// File is one parsed export.
type File struct {
	Path   string
	Digest string // hex sha256 of the raw bytes
	Items  []types.BatchItem
}

// Defaults fill item fields the export left empty.
type Defaults struct {
	Source     string
	Technician string
}

// Supported reports whether name has an extension Read understands.
func Supported(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".csv", ".json":
		return true
	}
	return false
}

// Read loads and parses the export at path.
func Read(path string) (*File, error) {
	if !Supported(path) {
		return nil, fmt.Errorf("reader: %s: %w", filepath.Base(path), ErrUnsupported)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reader: %w", err)
	}

	var items []types.BatchItem
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		items, err = ParseCSV(bytes.NewReader(data))
	case ".json":
		items, err = ParseJSON(data)
	}
	if err != nil {
		return nil, fmt.Errorf("reader: %s: %w", filepath.Base(path), err)
	}

	sum := sha256.Sum256(data)
	return &File{Path: path, Digest: hex.EncodeToString(sum[:]), Items: items}, nil
}

// Batches splits f into requests of at most size items. Keys derive from the
// file digest, the chunk size and the chunk index, so re-shipping an
// unchanged file replays the same keys.
func (f *File) Batches(size int, d Defaults) []types.BatchRequest {
	if size <= 0 {
		size = len(f.Items)
	}
	prefix := f.Digest
	if len(prefix) > 32 {
		prefix = prefix[:32]
	}

	var out []types.BatchRequest
	for i := 0; i*size < len(f.Items); i++ {
		end := min((i+1)*size, len(f.Items))
		chunk := make([]types.BatchItem, end-i*size)
		copy(chunk, f.Items[i*size:end])
		for j := range chunk {
			if chunk[j].Source == "" {
				chunk[j].Source = d.Source
			}
			if chunk[j].Technician == "" {
				chunk[j].Technician = d.Technician
			}
		}
		out = append(out, types.BatchRequest{
			IdempotencyKey: fmt.Sprintf("%s-%d-%d", prefix, size, i),
			Items:          chunk,
		})
	}
	return out
}
