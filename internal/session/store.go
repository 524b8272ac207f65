// Package session holds the authentication state of the running client: the
// current access token and refresh token. A Store is the single source of truth
// for both values. It persists them to per-origin storage, follows changes made
// by other processes sharing that storage, and notifies subscribers whenever the
// access token changes.
//
// An empty string means the token is absent.
package session

import (
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/supplyops/opsconsole/internal/storage"
)

const (
	DefaultAccessKey  = "access_token"
	DefaultRefreshKey = "refresh_token"
)

// Listener receives the new access token after every change.
type Listener func(token string)

// Store is safe for concurrent use.
type Store struct {
	storage    storage.Storage
	accessKey  string
	refreshKey string
	logger     zerolog.Logger

	// writeMu orders local writes so memory and storage end on the same value.
	writeMu sync.Mutex

	mu        sync.RWMutex
	access    string
	refresh   string
	listeners map[uint64]Listener
	nextID    uint64

	stopWatch func()
}

// Option configures a Store.
type Option func(*Store)

// WithKeys overrides the storage keys used for the two tokens.
func WithKeys(accessKey, refreshKey string) Option {
	return func(s *Store) {
		s.accessKey = accessKey
		s.refreshKey = refreshKey
	}
}

// WithLogger sets the logger used for swallowed storage errors.
func WithLogger(l zerolog.Logger) Option {
	return func(s *Store) {
		s.logger = l
	}
}

// New loads the persisted tokens from st and starts following changes made to
// st by other handles. Storage failures leave the corresponding token absent.
func New(st storage.Storage, opts ...Option) *Store {
	s := &Store{
		storage:    st,
		accessKey:  DefaultAccessKey,
		refreshKey: DefaultRefreshKey,
		logger:     log.With().Str("component", "session").Logger(),
		listeners:  make(map[uint64]Listener),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.access = s.load(s.accessKey)
	s.refresh = s.load(s.refreshKey)

	stop, err := st.Watch(s.onStorageEvent)
	if err != nil {
		s.logger.Debug().Err(err).Msg("storage change notifications unavailable")
	} else {
		s.stopWatch = stop
	}
	return s
}

func (s *Store) load(key string) string {
	v, ok, err := s.storage.Get(key)
	if err != nil {
		s.logger.Debug().Err(err).Str("key", key).Msg("unable to read persisted token")
		return ""
	}
	if !ok {
		return ""
	}
	return v
}

func (s *Store) persist(key, value string) {
	var err error
	if value == "" {
		err = s.storage.Remove(key)
	} else {
		err = s.storage.Set(key, value)
	}
	if err != nil {
		s.logger.Debug().Err(err).Str("key", key).Msg("unable to persist token")
	}
}

// Get returns the current access token.
func (s *Store) Get() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.access
}

// Set replaces the access token, persists it and notifies subscribers.
func (s *Store) Set(token string) {
	s.writeMu.Lock()
	s.mu.Lock()
	s.access = token
	s.mu.Unlock()
	s.persist(s.accessKey, token)
	s.writeMu.Unlock()

	s.notify(token)
}

// GetRefresh returns the current refresh token.
func (s *Store) GetRefresh() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.refresh
}

// SetRefresh replaces the refresh token and persists it. Subscribers are not notified.
func (s *Store) SetRefresh(token string) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.mu.Lock()
	s.refresh = token
	s.mu.Unlock()
	s.persist(s.refreshKey, token)
}

// Clear removes both tokens.
func (s *Store) Clear() {
	s.Set("")
	s.SetRefresh("")
}

// Subscribe registers fn for access-token changes, including those made by
// other processes. The returned function removes the subscription.
func (s *Store) Subscribe(fn Listener) func() {
	s.mu.Lock()
	s.nextID++
	id := s.nextID
	s.listeners[id] = fn
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.listeners, id)
			s.mu.Unlock()
		})
	}
}

func (s *Store) notify(token string) {
	s.mu.RLock()
	fns := make([]Listener, 0, len(s.listeners))
	for _, fn := range s.listeners {
		fns = append(fns, fn)
	}
	s.mu.RUnlock()

	for _, fn := range fns {
		fn(token)
	}
}

// onStorageEvent applies a change made through another storage handle. The
// value is already persisted, so it is only applied in memory. Subscribers hear
// only about values that differ from the current one.
func (s *Store) onStorageEvent(ev storage.Event) {
	value := ev.Value
	if !ev.Present {
		value = ""
	}
	switch ev.Key {
	case s.accessKey:
		s.mu.Lock()
		if s.access == value {
			s.mu.Unlock()
			return
		}
		s.access = value
		s.mu.Unlock()
		s.notify(value)
	case s.refreshKey:
		s.mu.Lock()
		s.refresh = value
		s.mu.Unlock()
	}
}

// Close stops following storage changes. The storage itself is left open.
func (s *Store) Close() {
	if s.stopWatch != nil {
		s.stopWatch()
	}
}
