// Package storage hides the object-storage backend behind a small Put API.
package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"

	appconfig "cryptoingest/config"
)

// ErrMissingCredential is wrapped by ConfigError when the selected backend has
// nothing to authenticate with.
var ErrMissingCredential = errors.New("storage credential not configured")

// ConfigError reports a storage configuration fault. It is never retried.
type ConfigError struct {
	Backend string
	Err     error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("storage config (%s): %v", e.Backend, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// Object is a single blob write. An existing object at the same key is
// replaced.
type Object struct {
	Container       string
	Key             string
	Body            []byte
	ContentType     string
	ContentEncoding string
	Metadata        map[string]string
}

// Store writes objects to a backend.
type Store interface {
	Put(ctx context.Context, obj Object) error
	Backend() string
}

// Opener resolves a Store for one invocation.
type Opener interface {
	Open(ctx context.Context) (Store, error)
}

// OpenerFunc adapts a function to Opener.
type OpenerFunc func(ctx context.Context) (Store, error)

func (f OpenerFunc) Open(ctx context.Context) (Store, error) { return f(ctx) }

// Static returns an Opener that always yields s.
func Static(s Store) Opener {
	return OpenerFunc(func(context.Context) (Store, error) { return s, nil })
}

type configOpener struct {
	cfg appconfig.StorageConfig

	memOnce sync.Once
	mem     *MemoryStore
}

// NewOpener returns an Opener for the backend named in cfg. S3 and Azure
// clients are built fresh on every Open so credential changes are picked up
// between invocations.
func NewOpener(cfg appconfig.StorageConfig) Opener {
	return &configOpener{cfg: cfg}
}

func (o *configOpener) Open(ctx context.Context) (Store, error) {
	switch o.cfg.Backend {
	case appconfig.BackendMemory:
		o.memOnce.Do(func() { o.mem = NewMemoryStore() })
		return o.mem, nil
	case appconfig.BackendAzure:
		return NewAzureStore(o.cfg.Azure)
	case appconfig.BackendS3, "":
		return NewS3Store(ctx, o.cfg.S3)
	default:
		return nil, &ConfigError{Backend: o.cfg.Backend, Err: fmt.Errorf("unknown backend %q", o.cfg.Backend)}
	}
}
