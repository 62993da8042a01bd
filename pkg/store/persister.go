package store

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/hyp3rd/ewrap"

	"github.com/maidsafe/antstore/internal/sentinel"
)

// metricsFileName is the on-disk name of the persisted quoting metrics.
const metricsFileName = "quoting_metrics.json"

// Persister is the durable byte store behind a node-mode record store.
// Records are keyed by their hex-encoded address name; the quoting metrics
// blob lives beside them.
type Persister interface {
	// Write stores data under name, overwriting any previous value.
	Write(ctx context.Context, name string, data []byte) error
	// Read returns the data stored under name, or sentinel.ErrNotFound.
	Read(ctx context.Context, name string) ([]byte, error)
	// Delete removes the data stored under name. Absent names are not an error.
	Delete(ctx context.Context, name string) error
	// List returns every stored record name.
	List(ctx context.Context) ([]string, error)
	// WriteMetrics persists the quoting metrics blob.
	WriteMetrics(ctx context.Context, data []byte) error
	// ReadMetrics returns the persisted quoting metrics blob, or
	// sentinel.ErrNotFound when none was ever written.
	ReadMetrics(ctx context.Context) ([]byte, error)
}

// Disk persists one file per record under a root directory.
type Disk struct {
	root string
}

// NewDisk creates the root directory if needed and returns a disk persister.
func NewDisk(root string) (*Disk, error) {
	err := os.MkdirAll(root, 0o700)
	if err != nil {
		return nil, ewrap.Wrap(err, "creating record store directory")
	}

	return &Disk{root: root}, nil
}

// Write stores data under name.
func (d *Disk) Write(_ context.Context, name string, data []byte) error {
	err := os.WriteFile(filepath.Join(d.root, name), data, 0o600)
	if err != nil {
		return ewrap.Wrap(err, "writing record file")
	}

	return nil
}

// Read returns the data stored under name.
func (d *Disk) Read(_ context.Context, name string) ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(d.root, name))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, sentinel.ErrNotFound
		}

		return nil, ewrap.Wrap(err, "reading record file")
	}

	return data, nil
}

// Delete removes the record file for name.
func (d *Disk) Delete(_ context.Context, name string) error {
	err := os.Remove(filepath.Join(d.root, name))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return ewrap.Wrap(err, "removing record file")
	}

	return nil
}

// List returns every record name in the root directory.
func (d *Disk) List(_ context.Context) ([]string, error) {
	entries, err := os.ReadDir(d.root)
	if err != nil {
		return nil, ewrap.Wrap(err, "listing record store directory")
	}

	names := make([]string, 0, len(entries))

	for _, entry := range entries {
		if entry.IsDir() || entry.Name() == metricsFileName {
			continue
		}

		names = append(names, entry.Name())
	}

	return names, nil
}

// WriteMetrics persists the quoting metrics blob beside the records.
func (d *Disk) WriteMetrics(ctx context.Context, data []byte) error {
	return d.Write(ctx, metricsFileName, data)
}

// ReadMetrics returns the persisted quoting metrics blob.
func (d *Disk) ReadMetrics(ctx context.Context) ([]byte, error) {
	return d.Read(ctx, metricsFileName)
}
