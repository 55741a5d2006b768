package domain

import (
	"context"
	"io"
)

// BlobWriter uploads objects to blob storage.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
}

// Archiver moves the trade logs of resolved markets into cold storage.
type Archiver interface {
	// ArchiveMarket uploads the full trade log of one resolved market and
	// returns the number of records archived.
	ArchiveMarket(ctx context.Context, marketID string) (int64, error)
}
