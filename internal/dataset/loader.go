package dataset

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"strings"

	"github.com/ecomdwh/ecomdwh-go/internal/platform/objectstore"
)

const defaultMaxBytes int64 = 512 << 20

// DataAccessError marks a dataset that could not be read or decoded. Checks
// record it as an error result, distinct from a threshold failure.
type DataAccessError struct {
	Source string
	Err    error
}

func (e *DataAccessError) Error() string {
	return fmt.Sprintf("data access %s: %v", e.Source, e.Err)
}

func (e *DataAccessError) Unwrap() error { return e.Err }

// NotFound reports whether the underlying object was missing.
func (e *DataAccessError) NotFound() bool {
	return errors.Is(e.Err, objectstore.ErrNotFound) || errors.Is(e.Err, os.ErrNotExist)
}

// Loader reads CSV datasets from object storage.
type Loader struct {
	Store    objectstore.Store
	MaxBytes int64
}

func (l Loader) Load(ctx context.Context, name, bucket, key string) (*Dataset, error) {
	source := bucket + "/" + key
	if l.Store == nil {
		return nil, &DataAccessError{Source: source, Err: errors.New("object store is not configured")}
	}
	if !IsCSV(key) {
		return nil, &DataAccessError{Source: source, Err: fmt.Errorf("unsupported file type %q", path.Ext(key))}
	}

	body, _, err := l.Store.Get(ctx, bucket, key)
	if err != nil {
		return nil, &DataAccessError{Source: source, Err: err}
	}
	defer body.Close()

	ds, err := ReadCSV(name, l.limit(body))
	if err != nil {
		return nil, &DataAccessError{Source: source, Err: err}
	}
	return ds, nil
}

// LoadFile reads a CSV dataset from the local filesystem.
func LoadFile(name, filename string) (*Dataset, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, &DataAccessError{Source: filename, Err: err}
	}
	defer f.Close()
	ds, err := ReadCSV(name, f)
	if err != nil {
		return nil, &DataAccessError{Source: filename, Err: err}
	}
	return ds, nil
}

func (l Loader) limit(r io.Reader) io.Reader {
	max := l.MaxBytes
	if max <= 0 {
		max = defaultMaxBytes
	}
	return io.LimitReader(r, max)
}

// IsCSV reports whether key names a CSV file.
func IsCSV(key string) bool {
	return strings.EqualFold(path.Ext(strings.TrimSpace(key)), ".csv")
}
