package storage

import (
	"fmt"

	"github.com/pratikychavan/PyPI-clone/internal/config"
)

// Factory builds a backend from the loaded configuration.
type Factory func(*config.Config) (Storage, error)

var backends = make(map[string]Factory)

// Register makes a backend available under the given name. It follows the
// database/sql convention: called from init, and panics on a duplicate or
// nil registration since either is a programming error.
func Register(name string, factory Factory) {
	if factory == nil {
		panic("storage: Register factory is nil")
	}
	if _, dup := backends[name]; dup {
		panic("storage: Register called twice for backend " + name)
	}
	backends[name] = factory
}

// NewStorage builds the backend selected by storage.default_backend.
func NewStorage(cfg *config.Config) (Storage, error) {
	factory, ok := backends[cfg.Storage.DefaultBackend]
	if !ok {
		return nil, fmt.Errorf("no storage backend registered as %q (compiled in: local, s3, azure, gcs)", cfg.Storage.DefaultBackend)
	}
	return factory(cfg)
}
