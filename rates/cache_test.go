package rates

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// =============================================================================
// TEST SETUP
// =============================================================================

var today = time.Date(2024, 3, 20, 15, 4, 0, 0, time.UTC)

type stubSource struct {
	snap  Snapshot
	err   error
	calls int
}

func (s *stubSource) FetchCurrentRate(context.Context) (Snapshot, error) {
	s.calls++
	return s.snap, s.err
}

type countingRecorder struct {
	ok, failed int
	last       Snapshot
}

func (r *countingRecorder) RateRefreshed(s Snapshot) { r.ok++; r.last = s }
func (r *countingRecorder) RateRefreshFailed()       { r.failed++ }

// blockingSource holds every fetch until release is closed.
type blockingSource struct {
	started chan struct{}
	release chan struct{}
	snap    Snapshot
}

func (s *blockingSource) FetchCurrentRate(ctx context.Context) (Snapshot, error) {
	close(s.started)
	select {
	case <-s.release:
		return s.snap, nil
	case <-ctx.Done():
		return Snapshot{}, ctx.Err()
	}
}

// sequenceSource returns a higher value on every call.
type sequenceSource struct {
	n atomic.Int64
}

func (s *sequenceSource) FetchCurrentRate(context.Context) (Snapshot, error) {
	n := s.n.Add(1)
	return Snapshot{Value: decimal.NewFromInt(37000 + n), Date: time.Date(2024, 3, 20, 0, 0, 0, 0, time.UTC)}, nil
}

func newTestCache(t *testing.T, path string, src Source, rec Recorder) *Cache {
	t.Helper()
	return NewCache(CacheConfig{
		Path:     path,
		Source:   src,
		Logger:   zap.NewNop(),
		Recorder: rec,
		Now:      func() time.Time { return today },
	})
}

// =============================================================================
// STARTUP SEEDING
// =============================================================================

func TestNewCache_MissingFileUsesDefault(t *testing.T) {
	c := newTestCache(t, filepath.Join(t.TempDir(), "uf_cache.json"), nil, nil)

	snap := c.Current()
	assert.True(t, DefaultValue.Equal(snap.Value))
	assert.Equal(t, time.Date(2024, 3, 20, 0, 0, 0, 0, time.UTC), snap.Date)
}

func TestNewCache_CorruptFileUsesDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "uf_cache.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"date": "yesterday", "value": 12}`), 0o644))

	c := newTestCache(t, path, nil, nil)

	assert.True(t, DefaultValue.Equal(c.Current().Value))
}

func TestNewCache_LoadsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "uf_cache.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"date": "2024-03-18", "value": "37452.18"}`), 0o644))

	c := newTestCache(t, path, nil, nil)

	snap := c.Current()
	assert.Equal(t, "37452.18", snap.Value.String())
	assert.Equal(t, time.Date(2024, 3, 18, 0, 0, 0, 0, time.UTC), snap.Date)
}

// =============================================================================
// REFRESH
// =============================================================================

func TestRefresh_FailureKeepsPreviousSnapshot(t *testing.T) {
	// GIVEN: A cache seeded with the default (37000, today)
	// WHEN: The source fails
	// THEN: The snapshot is unchanged and nothing is written

	path := filepath.Join(t.TempDir(), "uf_cache.json")
	src := &stubSource{err: errors.New("connection refused")}
	rec := &countingRecorder{}
	c := newTestCache(t, path, src, rec)
	before := c.Current()

	changed := c.Refresh(context.Background())

	assert.False(t, changed)
	assert.Equal(t, before, c.Current())
	assert.True(t, decimal.RequireFromString("37000").Equal(c.Current().Value))
	assert.Equal(t, 1, rec.failed)
	assert.NoFileExists(t, path)
}

func TestRefresh_SuccessSwapsAndPersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "uf_cache.json")
	fresh := Snapshot{Value: decimal.RequireFromString("37500.5"), Date: time.Date(2024, 3, 20, 0, 0, 0, 0, time.UTC)}
	rec := &countingRecorder{}
	c := newTestCache(t, path, &stubSource{snap: fresh}, rec)

	require.True(t, c.Refresh(context.Background()))

	assert.Equal(t, fresh, c.Current())
	assert.Equal(t, 1, rec.ok)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.JSONEq(t, `{"date": "2024-03-20", "value": "37500.50"}`, string(raw))

	// A new process picks the persisted value up.
	reloaded := newTestCache(t, path, nil, nil)
	assert.True(t, fresh.Value.Equal(reloaded.Current().Value))
}

func TestRefresh_ReadersDoNotWaitOnSource(t *testing.T) {
	// GIVEN: A refresh stuck waiting on the remote source
	src := &blockingSource{
		started: make(chan struct{}),
		release: make(chan struct{}),
		snap:    Snapshot{Value: decimal.RequireFromString("37600"), Date: time.Date(2024, 3, 20, 0, 0, 0, 0, time.UTC)},
	}
	c := newTestCache(t, filepath.Join(t.TempDir(), "uf_cache.json"), src, nil)

	done := make(chan bool)
	go func() { done <- c.Refresh(context.Background()) }()
	<-src.started

	// WHEN: A reader asks for the current rate
	read := make(chan Snapshot)
	go func() { read <- c.Current() }()

	// THEN: It gets the previous snapshot without waiting for the refresh
	select {
	case snap := <-read:
		assert.True(t, DefaultValue.Equal(snap.Value))
	case <-time.After(time.Second):
		t.Fatal("Current blocked while a refresh was in flight")
	}

	close(src.release)
	assert.True(t, <-done)
	assert.Equal(t, "37600", c.Current().Value.String())
}

func TestRefresh_OverlappingRefreshesKeepFileInStep(t *testing.T) {
	// GIVEN: Many refreshes racing, each fetching a different value
	path := filepath.Join(t.TempDir(), "uf_cache.json")
	c := newTestCache(t, path, &sequenceSource{}, nil)

	// WHEN: They all complete
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Refresh(context.Background())
		}()
	}
	wg.Wait()

	// THEN: The file holds the snapshot that is in memory
	reloaded := newTestCache(t, path, nil, nil)
	assert.Equal(t, c.Current().Value.StringFixed(2), reloaded.Current().Value.StringFixed(2))
}

func TestRefresh_NoSource(t *testing.T) {
	c := newTestCache(t, "", nil, nil)
	assert.False(t, c.Refresh(context.Background()))
}

// =============================================================================
// MINDICADOR SOURCE
// =============================================================================

func TestMindicadorSource_ParsesLatestObservation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"codigo": "uf",
			"serie": [
				{"fecha": "2024-03-20T03:00:00.000Z", "valor": 37452.18},
				{"fecha": "2024-03-19T03:00:00.000Z", "valor": 37449.01}
			]
		}`))
	}))
	defer srv.Close()

	snap, err := NewMindicadorSource(srv.URL, time.Second).FetchCurrentRate(context.Background())

	require.NoError(t, err)
	assert.Equal(t, "37452.18", snap.Value.String())
	assert.Equal(t, time.Date(2024, 3, 20, 0, 0, 0, 0, time.UTC), snap.Date)
}

func TestMindicadorSource_Errors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{"server error", http.StatusBadGateway, `{}`},
		{"malformed json", http.StatusOK, `{"serie": [`},
		{"empty series", http.StatusOK, `{"serie": []}`},
		{"bad date", http.StatusOK, `{"serie": [{"fecha": "ayer", "valor": 37000}]}`},
		{"non-positive value", http.StatusOK, `{"serie": [{"fecha": "2024-03-20T03:00:00.000Z", "valor": 0}]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			_, err := NewMindicadorSource(srv.URL, time.Second).FetchCurrentRate(context.Background())
			assert.Error(t, err)
		})
	}
}

func TestMindicadorSource_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	_, err := NewMindicadorSource(srv.URL, 50*time.Millisecond).FetchCurrentRate(context.Background())
	assert.Error(t, err)
}

func TestRefresh_ThroughHTTPFailureKeepsDefault(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := newTestCache(t, filepath.Join(t.TempDir(), "uf.json"), NewMindicadorSource(srv.URL, time.Second), nil)

	assert.False(t, c.Refresh(context.Background()))
	assert.True(t, DefaultValue.Equal(c.Current().Value))
	assert.Equal(t, time.Date(2024, 3, 20, 0, 0, 0, 0, time.UTC), c.Current().Date)
}
