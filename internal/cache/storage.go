// Handles storage of cache generations
package cache

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrNotFound is returned by Bucket.Get when no entry exists for a key.
var ErrNotFound = errors.New("cache entry not found")

const (
	BackendDisk   = "disk"
	BackendSQLite = "sqlite"
)

// Storage holds every cache generation known to the host.
// Generations survive restarts; only Delete removes them.
type Storage interface {
	// Open returns the bucket for a generation, creating it when absent.
	Open(ctx context.Context, generation string) (Bucket, error)
	// Generations lists the identifiers of all existing generations.
	Generations(ctx context.Context) ([]string, error)
	// Delete removes a generation with all of its entries.
	// Deleting an unknown generation is not an error.
	Delete(ctx context.Context, generation string) error
	Close() error
}

// Bucket is a single cache generation.
// Set replaces the whole value stored under a key; values are never patched.
type Bucket interface {
	Name() string
	// Get returns ErrNotFound when the key is absent.
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	// Delete removes a single entry. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error
	Keys(ctx context.Context) ([]string, error)
}

// New builds the storage backend named by backend, rooted at folder.
func New(backend, folder string) (Storage, error) {
	var storage Storage
	var err error
	switch backend {
	case BackendDisk, "":
		storage, err = NewDisk(folder)
	case BackendSQLite:
		storage, err = NewSQLite(folder)
	default:
		return nil, fmt.Errorf("unknown cache backend: %s", backend)
	}
	if err != nil {
		return nil, err
	}
	return storage, nil
}

// ValidateGeneration rejects identifiers that cannot be used as a storage name.
func ValidateGeneration(generation string) error {
	if generation == "" {
		return errors.New("generation name is required")
	}
	if strings.HasPrefix(generation, ".") {
		return fmt.Errorf("generation name must not start with '.': %s", generation)
	}
	if strings.ContainsAny(generation, `/\`) {
		return fmt.Errorf("generation name must not contain path separators: %s", generation)
	}
	return nil
}
