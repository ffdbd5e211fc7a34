package service

import (
	"context"
	"io"
)

// ObjectStore uploads message attachments and returns their public URL.
type ObjectStore interface {
	Upload(ctx context.Context, file io.Reader, contentType, path string) (string, error)
	Delete(ctx context.Context, fileURL string) error
	Close() error
}
