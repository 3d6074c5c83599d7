// Package objectstore writes uploaded bytes to the remote object store and
// removes them again.
package objectstore

import "context"

// Object identifies a stored blob. Key is opaque to callers; URL is what
// clients download from.
type Object struct {
	URL string
	Key string
}

// Gateway is the narrow contract the file services depend on.
type Gateway interface {
	Put(ctx context.Context, data []byte, mimeType string) (Object, error)
	Delete(ctx context.Context, key string) error
}
