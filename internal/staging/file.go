package staging

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

// Source opens the content of a pending file.
type Source interface {
	Open() (io.ReadCloser, error)
}

// Releaser is implemented by sources that hold resources (spooled bytes,
// temp files) which must be freed once the file leaves the store.
type Releaser interface {
	Release() error
}

// PendingFile is a selected file awaiting submission.
type PendingFile struct {
	ID      string    `json:"id"`
	Name    string    `json:"name"`
	Size    int64     `json:"size"`
	AddedAt time.Time `json:"addedAt"`
	Source  Source    `json:"-"`
}

// NewPendingFile wraps a source with its display name and size.
func NewPendingFile(name string, size int64, src Source) PendingFile {
	return PendingFile{
		ID:      uuid.New().String(),
		Name:    name,
		Size:    size,
		AddedAt: time.Now(),
		Source:  src,
	}
}

// Open opens the file content.
func (f PendingFile) Open() (io.ReadCloser, error) {
	if f.Source == nil {
		return nil, fmt.Errorf("pending file %q has no source", f.Name)
	}
	return f.Source.Open()
}

// release frees the source's resources, if it holds any.
func (f PendingFile) release() error {
	if r, ok := f.Source.(Releaser); ok {
		return r.Release()
	}
	return nil
}

// LocalFile is a Source backed by a path on disk.
type LocalFile string

func (p LocalFile) Open() (io.ReadCloser, error) { return os.Open(string(p)) }

// PendingLocalFile stats path and returns a PendingFile that reads from it.
func PendingLocalFile(path string) (PendingFile, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return PendingFile{}, err
	}
	if fi.IsDir() {
		return PendingFile{}, fmt.Errorf("%s is a directory", path)
	}
	return NewPendingFile(filepath.Base(path), fi.Size(), LocalFile(path)), nil
}

// Bytes is an in-memory Source.
type Bytes []byte

func (b Bytes) Open() (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(b)), nil
}
