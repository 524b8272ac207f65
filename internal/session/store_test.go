package session

import (
	"errors"
	"strconv"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/supplyops/opsconsole/internal/storage"
)

// brokenStorage fails every operation, like a browser with storage disabled.
type brokenStorage struct{}

var errBroken = errors.New("storage disabled")

func (brokenStorage) Get(string) (string, bool, error)          { return "", false, errBroken }
func (brokenStorage) Set(string, string) error                  { return errBroken }
func (brokenStorage) Remove(string) error                       { return errBroken }
func (brokenStorage) Watch(func(storage.Event)) (func(), error) { return nil, errBroken }
func (brokenStorage) Close() error                              { return nil }

func TestStoreLoadsPersistedTokens(t *testing.T) {
	origin := storage.NewMemoryOrigin()
	st := origin.Open()
	require.NoError(t, st.Set(DefaultAccessKey, "T1"))
	require.NoError(t, st.Set(DefaultRefreshKey, "R1"))

	s := New(origin.Open())
	defer s.Close()
	assert.Equal(t, "T1", s.Get())
	assert.Equal(t, "R1", s.GetRefresh())

	empty := New(storage.NewMemoryOrigin().Open())
	defer empty.Close()
	assert.Equal(t, "", empty.Get())
	assert.Equal(t, "", empty.GetRefresh())
}

func TestStoreSetPersistsAndNotifies(t *testing.T) {
	origin := storage.NewMemoryOrigin()
	st := origin.Open()
	s := New(st)
	defer s.Close()

	var got []string
	unsubscribe := s.Subscribe(func(token string) { got = append(got, token) })

	s.Set("T1")
	assert.Equal(t, "T1", s.Get())
	v, ok, _ := st.Get(DefaultAccessKey)
	assert.True(t, ok)
	assert.Equal(t, "T1", v)

	s.SetRefresh("R1")
	v, ok, _ = st.Get(DefaultRefreshKey)
	assert.True(t, ok)
	assert.Equal(t, "R1", v)

	s.Set("")
	_, ok, _ = st.Get(DefaultAccessKey)
	assert.False(t, ok, "absent token removes the persisted entry")

	// refresh changes never reach access-token subscribers
	assert.Equal(t, []string{"T1", ""}, got)

	unsubscribe()
	unsubscribe()
	s.Set("T2")
	assert.Equal(t, []string{"T1", ""}, got)
}

func TestStoreClear(t *testing.T) {
	origin := storage.NewMemoryOrigin()
	st := origin.Open()
	s := New(st)
	defer s.Close()

	s.Set("T1")
	s.SetRefresh("R1")

	calls := 0
	s.Subscribe(func(token string) {
		calls++
		assert.Equal(t, "", token)
	})
	s.Clear()

	assert.Equal(t, "", s.Get())
	assert.Equal(t, "", s.GetRefresh())
	assert.Equal(t, 1, calls)
	_, ok, _ := st.Get(DefaultAccessKey)
	assert.False(t, ok)
	_, ok, _ = st.Get(DefaultRefreshKey)
	assert.False(t, ok)
}

func TestStoreSwallowsStorageErrors(t *testing.T) {
	s := New(brokenStorage{})
	defer s.Close()

	assert.Equal(t, "", s.Get())

	notified := ""
	s.Subscribe(func(token string) { notified = token })
	assert.NotPanics(t, func() {
		s.Set("T1")
		s.SetRefresh("R1")
	})
	assert.Equal(t, "T1", s.Get())
	assert.Equal(t, "R1", s.GetRefresh())
	assert.Equal(t, "T1", notified)
}

func TestStoreCrossInstancePropagation(t *testing.T) {
	origin := storage.NewMemoryOrigin()
	first := New(origin.Open())
	second := New(origin.Open())
	defer first.Close()
	defer second.Close()

	var firstSeen, secondSeen []string
	first.Subscribe(func(token string) { firstSeen = append(firstSeen, token) })
	second.Subscribe(func(token string) { secondSeen = append(secondSeen, token) })

	first.Set("T2")

	assert.Equal(t, "T2", second.Get())
	assert.Equal(t, []string{"T2"}, secondSeen, "other instance notified exactly once")
	assert.Equal(t, []string{"T2"}, firstSeen)

	// refresh-token changes update memory without notifying
	first.SetRefresh("R2")
	assert.Equal(t, "R2", second.GetRefresh())
	assert.Equal(t, []string{"T2"}, secondSeen)

	first.Clear()
	assert.Equal(t, "", second.Get())
	assert.Equal(t, "", second.GetRefresh())
	assert.Equal(t, []string{"T2", ""}, secondSeen)
}

func TestStoreIgnoresUnchangedForeignValues(t *testing.T) {
	origin := storage.NewMemoryOrigin()
	first := New(origin.Open())
	second := New(origin.Open())
	defer first.Close()
	defer second.Close()

	var secondSeen []string
	second.Subscribe(func(token string) { secondSeen = append(secondSeen, token) })

	first.Clear()
	first.Clear()
	first.Set("T1")
	first.Set("T1")
	assert.Equal(t, []string{"T1"}, secondSeen)

	// backends that report every write still notify only real changes
	second.Set("T2")
	secondSeen = nil
	second.onStorageEvent(storage.Event{Key: DefaultAccessKey, Value: "T2", Present: true})
	assert.Empty(t, secondSeen)

	first.Clear()
	assert.Equal(t, []string{""}, secondSeen)
}

func TestStoreConcurrentWritersAgreeWithStorage(t *testing.T) {
	origin := storage.NewMemoryOrigin()
	st := origin.Open()
	s := New(st)
	defer s.Close()

	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s.Set("T" + strconv.Itoa(i))
			s.SetRefresh("R" + strconv.Itoa(i))
		}(i)
	}
	wg.Wait()

	access, _, err := st.Get(DefaultAccessKey)
	require.NoError(t, err)
	assert.Equal(t, s.Get(), access)
	refresh, _, err := st.Get(DefaultRefreshKey)
	require.NoError(t, err)
	assert.Equal(t, s.GetRefresh(), refresh)
}

func TestStoreDoesNotRepersistForeignChanges(t *testing.T) {
	origin := storage.NewMemoryOrigin()
	writer := origin.Open()

	observer := origin.Open()
	writes := 0
	stop, err := observer.Watch(func(storage.Event) { writes++ })
	require.NoError(t, err)
	defer stop()

	s := New(origin.Open())
	defer s.Close()

	require.NoError(t, writer.Set(DefaultAccessKey, "T3"))
	assert.Equal(t, "T3", s.Get())
	assert.Equal(t, 1, writes, "only the original write reaches other handles")
}

func TestStoreCustomKeys(t *testing.T) {
	origin := storage.NewMemoryOrigin()
	st := origin.Open()
	s := New(st, WithKeys("ops.access", "ops.refresh"))
	defer s.Close()

	s.Set("T1")
	s.SetRefresh("R1")
	v, _, _ := st.Get("ops.access")
	assert.Equal(t, "T1", v)
	v, _, _ = st.Get("ops.refresh")
	assert.Equal(t, "R1", v)

	require.NoError(t, origin.Open().Set("unrelated", "x"))
	assert.Equal(t, "T1", s.Get())
}
