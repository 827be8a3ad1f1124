package filestore

import (
	"io"
)

// FileStore keeps attachment blobs addressed by the hex sha256 of their content.
type FileStore interface {
	// Save stores the content under id. Saving an id that already exists is a no-op.
	Save(r io.Reader, id string) error

	// Open returns the content stored under id, wrapping models.ErrNotFound
	// when there is none.
	Open(id string) (io.ReadCloser, error)
}
