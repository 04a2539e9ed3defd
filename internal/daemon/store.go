package daemon

import (
	"sync/atomic"

	"github.com/Kampouse/kvindexer/internal/db"
	"github.com/Kampouse/kvindexer/internal/watch"
)

// The supervisor publishes one *db.Session, but each consumer names its own
// narrow interface for it. These adapters translate the (session, ok) pair
// into the shape every consumer asks for; the explicit ok checks keep a nil
// session from hiding inside a non-nil interface value.

type readerStore struct {
	supervisor *db.Supervisor
}

// CurrentReader implements methods.Store.
func (s readerStore) CurrentReader() (db.Reader, bool) {
	session, ok := s.supervisor.Current()
	if !ok {
		return nil, false
	}
	return session, true
}

type watchStore struct {
	supervisor *db.Supervisor
}

// CurrentReader implements watch.Store.
func (s watchStore) CurrentReader() (watch.Getter, bool) {
	session, ok := s.supervisor.Current()
	if !ok {
		return nil, false
	}
	return session, true
}

type writerStore struct {
	supervisor *db.Supervisor
}

// CurrentWriter implements ingest.StoreResolver.
func (s writerStore) CurrentWriter() (db.ReadWriter, bool) {
	session, ok := s.supervisor.Current()
	if !ok {
		return nil, false
	}
	return session, true
}

// heightCache holds the last checkpoint height observed by the refresh loop.
// Handlers read it on every request, so it is a pair of atomics rather than a
// store read.
type heightCache struct {
	height atomic.Uint64
	valid  atomic.Bool
}

func (c *heightCache) set(height uint64) {
	c.height.Store(height)
	c.valid.Store(true)
}

// IndexerHeight implements methods.HeightSource. It reports false until the
// first checkpoint has been observed.
func (c *heightCache) IndexerHeight() (uint64, bool) {
	if !c.valid.Load() {
		return 0, false
	}
	return c.height.Load(), true
}
