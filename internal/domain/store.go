package domain

import (
	"context"
	"io"
)

// TokenStore is the durable client storage for the bearer token. It holds
// exactly one key; absence means an anonymous session.
type TokenStore interface {
	// Load returns the stored token, or ErrNotFound when none is stored.
	Load(ctx context.Context) (string, error)
	Save(ctx context.Context, token string) error
	Delete(ctx context.Context) error
}

// TapeArchive persists trades observed on the public tape.
type TapeArchive interface {
	// Append stores trades that are not yet archived and returns how many
	// were new.
	Append(ctx context.Context, trades []Trade) (int64, error)
	ListRecent(ctx context.Context, limit int) ([]Trade, error)
}

// BlobWriter uploads data to object storage.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
	PutMultipart(ctx context.Context, path string, data io.Reader, partSize int64) error
}

// SignalBus fans view updates out to other processes.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
}
