package methods

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Kampouse/kvindexer/internal/daemon/interfaces"
	"github.com/Kampouse/kvindexer/internal/db"
	"github.com/Kampouse/kvindexer/internal/watch"
)

type getterFunc func(accountID, contractID, key string) (*db.Entry, error)

func (g getterFunc) GetLast(_ context.Context, accountID, contractID, key string) (*db.Entry, error) {
	return g(accountID, contractID, key)
}

// fakeWatchStore hands the poll loop a fixed getter, or nothing when down.
type fakeWatchStore struct {
	getter watch.Getter
	down   bool
}

func (f *fakeWatchStore) CurrentReader() (watch.Getter, bool) {
	if f.down || f.getter == nil {
		return nil, false
	}
	return f.getter, true
}

func newTestHub() *watch.Hub {
	return watch.NewHub(interfaces.MakeNoOpDeamon())
}

// doWatch runs the handler with an already cancelled context, so the stream
// performs its immediate first poll and then exits instead of ticking.
func doWatch(h http.HandlerFunc, target string, header http.Header) *httptest.ResponseRecorder {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequest(http.MethodGet, target, nil).WithContext(ctx)
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	rec := httptest.NewRecorder()
	h(rec, req)
	return rec
}

func TestWatchEmitsInitialChange(t *testing.T) {
	store := &fakeWatchStore{getter: getterFunc(func(accountID, contractID, key string) (*db.Entry, error) {
		assert.Equal(t, "alice.near", accountID)
		assert.Equal(t, "social.near", contractID)
		assert.Equal(t, "profile/name", key)
		e := aliceEntry()
		return &e, nil
	})}
	h := NewWatchHandler(testLogger(), store, newTestHub())

	rec := doWatch(h, "/v1/kv/watch?accountId=alice.near&contractId=social.near&key=profile/name", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.Equal(t, "no-cache", rec.Header().Get("Cache-Control"))
	assert.Equal(t, "no", rec.Header().Get("X-Accel-Buffering"))

	body := rec.Body.String()
	assert.Contains(t, body, "id: 100\n")
	assert.Contains(t, body, "event: change\n")
	assert.Contains(t, body, `"blockHeight":100`)
}

func TestWatchLastEventIDSuppressesKnownState(t *testing.T) {
	store := &fakeWatchStore{getter: getterFunc(func(_, _, _ string) (*db.Entry, error) {
		e := aliceEntry()
		return &e, nil
	})}
	h := NewWatchHandler(testLogger(), store, newTestHub())

	rec := doWatch(h, "/v1/kv/watch?accountId=a&contractId=c&key=k",
		http.Header{"Last-Event-Id": []string{"100"}})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), "event: change",
		"a height the client already saw is not replayed")
}

func TestWatchValidation(t *testing.T) {
	h := NewWatchHandler(testLogger(), &fakeWatchStore{}, newTestHub())
	for _, tc := range []struct {
		name    string
		target  string
		message string
	}{
		{"empty account", "/v1/kv/watch?contractId=c&key=k", "accountId: cannot be empty"},
		{"empty key", "/v1/kv/watch?accountId=a&contractId=c", "key: cannot be empty"},
		{"bad interval", "/v1/kv/watch?accountId=a&contractId=c&key=k&interval=soon", "interval: must be a non-negative integer"},
	} {
		rec := doWatch(h, tc.target, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code, tc.name)
		assert.Equal(t, tc.message, apiErrorOf(t, rec).Message, tc.name)
	}
}

func TestWatchDatabaseDown(t *testing.T) {
	h := NewWatchHandler(testLogger(), &fakeWatchStore{down: true}, newTestHub())

	rec := doWatch(h, "/v1/kv/watch?accountId=a&contractId=c&key=k", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, CodeDatabaseUnavailable, apiErrorOf(t, rec).Code)
}

func TestWatchHubFull(t *testing.T) {
	hub := newTestHub()
	releases := make([]func(), 0, watch.MaxSessions)
	for i := 0; i < watch.MaxSessions; i++ {
		release, ok := hub.Acquire()
		require.True(t, ok)
		releases = append(releases, release)
	}
	defer func() {
		for _, release := range releases {
			release()
		}
	}()

	h := NewWatchHandler(testLogger(), &fakeWatchStore{}, hub)
	rec := doWatch(h, "/v1/kv/watch?accountId=a&contractId=c&key=k", nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))
	assert.Equal(t, "Too many active watch connections", apiErrorOf(t, rec).Message)
}

func TestWatchReleasesSlotOnExit(t *testing.T) {
	hub := newTestHub()
	store := &fakeWatchStore{getter: getterFunc(func(_, _, _ string) (*db.Entry, error) {
		return nil, nil
	})}
	h := NewWatchHandler(testLogger(), store, hub)

	for i := 0; i < watch.MaxSessions+5; i++ {
		rec := doWatch(h, "/v1/kv/watch?accountId=a&contractId=c&key=k", nil)
		require.Equal(t, http.StatusOK, rec.Code, "slot must be released after each stream")
	}
}
