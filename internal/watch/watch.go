// Package watch streams current-value changes for a single triple as
// Server-Sent Events, polling the store on a per-subscription interval.
package watch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/Kampouse/kvindexer/internal/daemon/interfaces"
	"github.com/Kampouse/kvindexer/internal/db"
)

const (
	// MaxSessions bounds concurrent subscriptions across the process.
	MaxSessions = 100

	// DefaultPollInterval applies when the client does not ask for one.
	DefaultPollInterval = 5 * time.Second

	minPollInterval = 2 * time.Second
	maxPollInterval = 30 * time.Second

	heartbeatInterval = 15 * time.Second

	// maxConsecutiveErrors closes a stream whose polls keep failing. Any
	// successful poll resets the count.
	maxConsecutiveErrors = 10
)

// Getter is the single store read a poll performs.
type Getter interface {
	GetLast(ctx context.Context, accountID, contractID, key string) (*db.Entry, error)
}

// Store hands out the live store connection. Polls resolve it per tick, so a
// session swap mid-stream is picked up transparently.
type Store interface {
	CurrentReader() (Getter, bool)
}

// Flusher is the slice of the HTTP response the streamer needs: frames must
// reach the client as they are produced, not when the stream closes.
type Flusher interface {
	io.Writer
	Flush()
}

// Hub tracks the process-wide subscription count.
type Hub struct {
	active         atomic.Int64
	sessionsMetric prometheus.Gauge
}

func NewHub(daemon interfaces.Daemon) *Hub {
	sessionsMetric := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: daemon.MetricsNamespace(), Subsystem: "watch", Name: "active_sessions",
		Help: "number of active watch subscriptions",
	})
	daemon.MetricsRegistry().MustRegister(sessionsMetric)
	return &Hub{sessionsMetric: sessionsMetric}
}

// Acquire claims a subscription slot. The returned release is idempotent and
// must run on every exit path, including a disconnect before the first poll.
func (h *Hub) Acquire() (release func(), ok bool) {
	if h.active.Add(1) > MaxSessions {
		h.active.Add(-1)
		return nil, false
	}
	h.sessionsMetric.Inc()
	var once sync.Once
	return func() {
		once.Do(func() {
			h.active.Add(-1)
			h.sessionsMetric.Dec()
		})
	}, true
}

type Config struct {
	Logger     *logrus.Entry
	Store      Store
	AccountID  string
	ContractID string
	Key        string

	// PollInterval is clamped to [2s, 30s]; zero means DefaultPollInterval.
	PollInterval time.Duration

	// LastSeen seeds the change comparison, typically from the client's
	// Last-Event-ID header, so a reconnect does not replay known state.
	LastSeen uint64
}

// changeEvent is the data payload of a change frame.
type changeEvent struct {
	Key            string `json:"key"`
	Value          string `json:"value"`
	BlockHeight    uint64 `json:"blockHeight"`
	BlockTimestamp uint64 `json:"blockTimestamp"`
	AccountID      string `json:"accountId"`
	ContractID     string `json:"contractId"`
}

// Stream writes SSE frames for the configured triple to out until ctx ends.
// It returns nil on client disconnect and an error when the poll error
// budget is exhausted.
func Stream(ctx context.Context, cfg Config, out Flusher) error {
	return stream(ctx, cfg, out, clampInterval(cfg.PollInterval), heartbeatInterval)
}

func clampInterval(d time.Duration) time.Duration {
	if d <= 0 {
		return DefaultPollInterval
	}
	if d < minPollInterval {
		return minPollInterval
	}
	if d > maxPollInterval {
		return maxPollInterval
	}
	return d
}

func stream(ctx context.Context, cfg Config, out Flusher, pollEvery, heartbeatEvery time.Duration) error {
	s := &session{
		log:      cfg.Logger,
		store:    cfg.Store,
		account:  cfg.AccountID,
		contract: cfg.ContractID,
		key:      cfg.Key,
		out:      out,
		lastSeen: cfg.LastSeen,
	}

	// The first poll fires immediately, so a value newer than the client's
	// Last-Event-ID is delivered without waiting out an interval.
	if done, err := s.pollOnce(ctx); done {
		return err
	}

	poll := time.NewTicker(pollEvery)
	defer poll.Stop()
	heartbeat := time.NewTicker(heartbeatEvery)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-poll.C:
			if done, err := s.pollOnce(ctx); done {
				return err
			}
		case <-heartbeat.C:
			if !s.writeFrame(": heartbeat\n\n") {
				return nil
			}
		}
	}
}

type session struct {
	log      *logrus.Entry
	store    Store
	account  string
	contract string
	key      string
	out      Flusher
	lastSeen uint64
	errors   int
}

// pollOnce reads the triple and emits a change frame when its block height
// moved past the last seen one. The returned done flag ends the stream; err
// is only set when the error budget ran out.
func (s *session) pollOnce(ctx context.Context) (done bool, err error) {
	reader, ok := s.store.CurrentReader()
	if !ok {
		return s.pollFailed(`{"error":"database_unavailable"}`)
	}
	entry, err := reader.GetLast(ctx, s.account, s.contract, s.key)
	if err != nil {
		if ctx.Err() != nil {
			return true, nil
		}
		s.log.WithError(err).Warn("watch poll failed")
		return s.pollFailed(`{"error":"poll_failed"}`)
	}

	s.errors = 0
	if entry == nil || entry.BlockHeight <= s.lastSeen {
		return false, nil
	}
	s.lastSeen = entry.BlockHeight

	data, err := json.Marshal(changeEvent{
		Key:            entry.Key,
		Value:          entry.Value,
		BlockHeight:    entry.BlockHeight,
		BlockTimestamp: entry.BlockTimestamp,
		AccountID:      entry.AccountID,
		ContractID:     entry.ContractID,
	})
	if err != nil {
		return false, nil
	}
	if !s.writeFrame(fmt.Sprintf("id: %d\nevent: change\ndata: %s\n\n", entry.BlockHeight, data)) {
		return true, nil
	}
	return false, nil
}

func (s *session) pollFailed(data string) (bool, error) {
	s.errors++
	if !s.writeFrame("event: error\ndata: " + data + "\n\n") {
		return true, nil
	}
	if s.errors >= maxConsecutiveErrors {
		return true, fmt.Errorf("closing watch stream after %d consecutive poll failures", maxConsecutiveErrors)
	}
	return false, nil
}

// writeFrame reports false when the client is gone.
func (s *session) writeFrame(frame string) bool {
	if _, err := io.WriteString(s.out, frame); err != nil {
		return false
	}
	s.out.Flush()
	return true
}
