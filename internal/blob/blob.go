// Package blob stores image content addressed by id. The rest of the system
// only relies on put/get/delete by id; rendering fetches blobs through
// /images/{id}.
package blob

import (
	"context"
	"errors"
)

// ErrNotFound is returned when no blob exists under the requested id.
var ErrNotFound = errors.New("blob not found")

// Store is the image blob collaborator. Put persists the content under a
// fresh id and returns it.
type Store interface {
	Put(ctx context.Context, data []byte, contentType string) (string, error)
	Get(ctx context.Context, id string) ([]byte, string, error)
	Delete(ctx context.Context, id string) error
}
