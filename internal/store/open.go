package store

import (
	"context"
	"fmt"
)

// Supported backend drivers.
const (
	DriverMemory = "memory"
	DriverSQLite = "sqlite"
	DriverNATS   = "nats"
)

// Options selects and configures a backend.
type Options struct {
	Driver  string `yaml:"driver"`
	Path    string `yaml:"path"`     // sqlite database file
	NATSURL string `yaml:"nats_url"` // nats server
	Bucket  string `yaml:"bucket"`   // nats KV bucket
}

// Open creates the backend described by opts.
func Open(ctx context.Context, opts Options) (Backend, error) {
	switch opts.Driver {
	case "", DriverMemory:
		return NewMemoryBackend(), nil
	case DriverSQLite:
		path := opts.Path
		if path == "" {
			path = "handoff.db"
		}
		return NewSQLiteBackend(path)
	case DriverNATS:
		if opts.NATSURL == "" {
			return nil, fmt.Errorf("nats store requires nats_url")
		}
		bucket := opts.Bucket
		if bucket == "" {
			bucket = "handoff-state"
		}
		return NewNATSBackend(ctx, opts.NATSURL, bucket)
	default:
		return nil, fmt.Errorf("unknown store driver %q", opts.Driver)
	}
}
