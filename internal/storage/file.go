package storage

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

const (
	defaultPollInterval = time.Second
	lockTimeout         = 5 * time.Second
	lockRetryDelay      = 10 * time.Millisecond
)

// FileOptions configures a File backend.
type FileOptions struct {
	Dir          string        // directory holding one document per origin
	PollInterval time.Duration // how often Watch checks the document
}

// fileDocument is the on-disk layout of one origin.
type fileDocument struct {
	Origin string            `yaml:"origin"`
	Values map[string]string `yaml:"values"`
}

// File stores the values of one origin in a YAML document. Writers on the same
// document, in this process or others, take turns through a lock file next to
// it. Other writers are detected by polling.
type File struct {
	origin string
	path   string
	poll   time.Duration
	lock   *flock.Flock

	mu     sync.Mutex
	seen   map[string]string // last state written or observed by this handle
	stop   chan struct{}
	wg     sync.WaitGroup
	closed bool
}

var _ Storage = (*File)(nil)

// DefaultDir returns the default session directory, e.g. ~/.config/opsctl/sessions.
func DefaultDir() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", errors.Wrap(err, "failed to get user config directory")
	}
	return filepath.Join(dir, "opsctl", "sessions"), nil
}

// NewFile opens the document for origin under opts.Dir.
func NewFile(origin string, opts FileOptions) (*File, error) {
	if opts.Dir == "" {
		dir, err := DefaultDir()
		if err != nil {
			return nil, err
		}
		opts.Dir = dir
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultPollInterval
	}
	if err := os.MkdirAll(opts.Dir, 0700); err != nil {
		return nil, errors.Wrap(err, "unable to create session directory")
	}
	f := &File{
		origin: origin,
		path:   filepath.Join(opts.Dir, fileName(origin)+".yaml"),
		poll:   opts.PollInterval,
		stop:   make(chan struct{}),
	}
	f.lock = flock.New(f.path + ".lock")
	values, err := f.read()
	if err != nil {
		values = map[string]string{}
	}
	f.seen = values
	return f, nil
}

// Path returns the location of the document.
func (f *File) Path() string {
	return f.path
}

func (f *File) read() (map[string]string, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]string{}, nil
		}
		return nil, errors.Wrap(err, "unable to read session file")
	}
	var doc fileDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, errors.Wrap(err, "unable to parse session file")
	}
	if doc.Values == nil {
		doc.Values = map[string]string{}
	}
	return doc.Values, nil
}

func (f *File) write(values map[string]string) error {
	data, err := yaml.Marshal(&fileDocument{Origin: f.origin, Values: values})
	if err != nil {
		return errors.Wrap(err, "unable to encode session file")
	}
	tmp, err := os.CreateTemp(filepath.Dir(f.path), filepath.Base(f.path)+".*.tmp")
	if err != nil {
		return errors.Wrap(err, "unable to write session file")
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return errors.Wrap(err, "unable to write session file")
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrap(err, "unable to write session file")
	}
	if err := os.Rename(tmp.Name(), f.path); err != nil {
		return errors.Wrap(err, "unable to replace session file")
	}
	return nil
}

// lockDocument takes the cross-process write lock on the document.
func (f *File) lockDocument() error {
	ctx, cancel := context.WithTimeout(context.Background(), lockTimeout)
	defer cancel()
	locked, err := f.lock.TryLockContext(ctx, lockRetryDelay)
	if err != nil {
		return errors.Wrap(err, "unable to lock session file")
	}
	if !locked {
		return errors.New("unable to lock session file")
	}
	return nil
}

func (f *File) Get(key string) (string, bool, error) {
	values, err := f.read()
	if err != nil {
		return "", false, err
	}
	v, ok := values[key]
	return v, ok, nil
}

func (f *File) Set(key, value string) error {
	return f.update(key, value, true)
}

func (f *File) Remove(key string) error {
	return f.update(key, "", false)
}

func (f *File) update(key, value string, present bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return ErrClosed
	}
	if err := f.lockDocument(); err != nil {
		return err
	}
	defer f.lock.Unlock()

	values, err := f.read()
	if err != nil {
		// a corrupt document is replaced
		values = map[string]string{}
	}
	if present {
		values[key] = value
	} else {
		delete(values, key)
	}
	if err := f.write(values); err != nil {
		return err
	}
	f.markSeen(key, value, present)
	return nil
}

func (f *File) markSeen(key, value string, present bool) {
	if present {
		f.seen[key] = value
	} else {
		delete(f.seen, key)
	}
}

// Watch starts polling the document and reports keys whose values changed since
// this handle last wrote or observed them.
func (f *File) Watch(fn func(Event)) (func(), error) {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil, ErrClosed
	}
	f.mu.Unlock()

	done := make(chan struct{})
	var once sync.Once
	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		ticker := time.NewTicker(f.poll)
		defer ticker.Stop()
		for {
			select {
			case <-f.stop:
				return
			case <-done:
				return
			case <-ticker.C:
				for _, ev := range f.diff() {
					fn(ev)
				}
			}
		}
	}()
	return func() { once.Do(func() { close(done) }) }, nil
}

// diff compares the document with the last seen state and records the new state.
func (f *File) diff() []Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	current, err := f.read()
	if err != nil {
		log.Debug().Err(err).Str("path", f.path).Msg("session file poll failed")
		return nil
	}
	var events []Event
	for k, v := range current {
		if old, ok := f.seen[k]; !ok || old != v {
			events = append(events, Event{Key: k, Value: v, Present: true})
		}
	}
	for k := range f.seen {
		if _, ok := current[k]; !ok {
			events = append(events, Event{Key: k})
		}
	}
	f.seen = current
	return events
}

func (f *File) Close() error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil
	}
	f.closed = true
	close(f.stop)
	f.mu.Unlock()
	f.wg.Wait()
	return nil
}
