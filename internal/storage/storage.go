// Package storage provides durable per-origin key/value storage for client-side
// session state. Every backend can notify other handles of the same origin when a
// key changes, which lets several processes sharing one origin stay consistent.
package storage

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
)

// Event describes a change made to a key by another handle of the same origin.
type Event struct {
	Key     string // key that changed
	Value   string // new value, empty when removed
	Present bool   // false when the key was removed
}

// Storage is a per-origin key/value store. Writes made through one handle are
// reported through Watch to every other handle of the same origin, never to the
// writer itself.
type Storage interface {
	Get(key string) (string, bool, error)
	Set(key, value string) error
	Remove(key string) error
	Watch(fn func(Event)) (stop func(), err error)
	Close() error
}

const (
	BackendMemory = "memory"
	BackendFile   = "file"
	BackendRedis  = "redis"
)

var (
	ErrUnknownBackend = errors.New("unknown storage backend")
	ErrInvalidOptions = errors.New("invalid storage options")
	ErrClosed         = errors.New("storage closed")
)

// Options is the union of backend options as they appear in configuration.
type Options struct {
	Dir          string        `mapstructure:"dir"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	Addr         string        `mapstructure:"addr"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	Prefix       string        `mapstructure:"prefix"`
	OpTimeout    time.Duration `mapstructure:"op_timeout"`
}

// DecodeOptions converts a loosely typed options map into Options.
// Durations may be given as strings such as "500ms".
func DecodeOptions(raw map[string]any) (Options, error) {
	var opts Options
	if len(raw) == 0 {
		return opts, nil
	}
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		Result:           &opts,
	})
	if err != nil {
		return opts, err
	}
	if err := dec.Decode(raw); err != nil {
		return opts, fmt.Errorf("%w: %v", ErrInvalidOptions, err)
	}
	return opts, nil
}

// Open returns the storage backend for the given origin.
func Open(backend, origin string, raw map[string]any) (Storage, error) {
	opts, err := DecodeOptions(raw)
	if err != nil {
		return nil, err
	}
	switch backend {
	case BackendMemory:
		return NewMemoryOrigin().Open(), nil
	case BackendFile, "":
		return NewFile(origin, FileOptions{Dir: opts.Dir, PollInterval: opts.PollInterval})
	case BackendRedis:
		return NewRedis(origin, RedisOptions{
			Addr:      opts.Addr,
			Password:  opts.Password,
			DB:        opts.DB,
			Prefix:    opts.Prefix,
			OpTimeout: opts.OpTimeout,
		})
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownBackend, backend)
	}
}

// OriginSlug reduces a server URL to its origin (scheme://host[:port]).
func OriginSlug(serverURL string) (string, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return "", fmt.Errorf("invalid server url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("invalid server url: %q has no scheme or host", serverURL)
	}
	return strings.ToLower(u.Scheme + "://" + u.Host), nil
}

// fileName turns an origin into a name usable on every filesystem.
func fileName(origin string) string {
	r := strings.NewReplacer("://", "_", ":", "_", "/", "_", "\\", "_")
	return r.Replace(origin)
}
