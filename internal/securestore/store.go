// Package securestore provides the keyed string stores that persist
// tokens between runs. Each backend is a narrow get/set/remove-all
// store. Encryption at rest is layered on with Sealed.
package securestore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// Backend is a keyed string store.
type Backend interface {
	// Get returns the value stored under key and whether it exists.
	Get(ctx context.Context, key string) (string, bool, error)

	// Set stores value under key, replacing any previous value.
	Set(ctx context.Context, key, value string) error

	// RemoveAll deletes every value this store owns.
	RemoveAll(ctx context.Context) error

	// Close releases any resources held by the store.
	Close() error
}

// Watcher is implemented by backends that can report writes made by
// other processes. onChange is called after each external change
// until ctx is cancelled.
type Watcher interface {
	Watch(ctx context.Context, onChange func()) error
}

// Kind names a backend implementation.
type Kind string

const (
	KindBolt    Kind = "bolt"
	KindKeyring Kind = "keyring"
	KindFile    Kind = "file"
	KindRedis   Kind = "redis"
)

// Options selects and configures a backend.
type Options struct {
	Kind Kind

	// Path is the bolt database file or the JSON credentials file.
	// Defaults to a file under ~/.authkeeper/.
	Path string

	// Namespace scopes keyring services and redis keys.
	Namespace string

	// RedisURL is a redis:// URL, required for KindRedis.
	RedisURL string

	// Passphrase, when set, wraps the backend in Sealed.
	Passphrase string
}

// Open builds the backend described by opts.
func Open(opts Options) (Backend, error) {
	if opts.Namespace == "" {
		opts.Namespace = "authkeeper"
	}

	var (
		b   Backend
		err error
	)

	switch opts.Kind {
	case KindBolt, "":
		b, err = OpenBolt(defaultPath(opts.Path, "tokens.db"))
	case KindKeyring:
		b = NewKeyringStore(opts.Namespace)
	case KindFile:
		b = NewFileStore(defaultPath(opts.Path, "credentials.json"))
	case KindRedis:
		b, err = OpenRedis(opts.RedisURL, opts.Namespace)
	default:
		return nil, fmt.Errorf("unknown store backend %q", opts.Kind)
	}

	if err != nil {
		return nil, err
	}

	if opts.Passphrase != "" {
		sealed, err := NewSealed(b, opts.Passphrase, opts.Namespace)
		if err != nil {
			b.Close()
			return nil, err
		}

		return sealed, nil
	}

	return b, nil
}

func defaultPath(path, name string) string {
	if path != "" {
		return path
	}

	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return filepath.Join(os.TempDir(), "authkeeper", name)
	}

	return filepath.Join(home, ".authkeeper", name)
}
