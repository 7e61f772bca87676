// Package store is the key/value collaborator behind the items API.
package store

import (
	"context"

	"github.com/pkg/errors"
)

var (
	ErrNotFound = errors.New("key not found")
	// ErrUnavailable means the backing store could not be reached. It is never
	// returned for a missing key.
	ErrUnavailable = errors.New("store unavailable")
)

type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	Keys(ctx context.Context) ([]string, error)
	Ping(ctx context.Context) error
}
