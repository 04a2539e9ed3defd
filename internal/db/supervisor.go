package db

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
)

const (
	reconnectInitialInterval = 5 * time.Second
	reconnectMaxInterval     = 300 * time.Second
	probeInterval            = 30 * time.Second
)

// ErrNoSession is returned when the store is unreachable and no session is
// currently installed.
var ErrNoSession = errors.New("no store session available")

// Supervisor owns the store connection lifecycle. The live session is
// published through an atomic pointer so request handlers read it without
// blocking on a reconnect in progress. The gocql pool heals transient node
// failures on its own; the supervisor only redials when the periodic probe
// reports the whole session dead.
type Supervisor struct {
	log     *logrus.Entry
	cfg     SessionConfig
	current atomic.Pointer[Session]
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	reconnects prometheus.Counter
	connected  prometheus.Gauge
}

// NewSupervisor starts the connection loop. The first dial happens
// immediately; afterwards failures back off exponentially from 5s up to
// 300s, resetting whenever a session is established.
func NewSupervisor(log *logrus.Entry, cfg SessionConfig, namespace string, registry *prometheus.Registry) *Supervisor {
	s := &Supervisor{
		log: log,
		cfg: cfg,
		reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "store", Name: "reconnects_total",
			Help: "number of store sessions established",
		}),
		connected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "store", Name: "connected",
			Help: "1 when a store session is installed",
		}),
	}
	registry.MustRegister(s.reconnects, s.connected)

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.wg.Add(1)
	go s.run(ctx)
	return s
}

// Current returns the installed session, if any.
func (s *Supervisor) Current() (*Session, bool) {
	sess := s.current.Load()
	return sess, sess != nil
}

func (s *Supervisor) Close() error {
	s.cancel()
	s.wg.Wait()
	if sess := s.current.Swap(nil); sess != nil {
		sess.Close()
	}
	return nil
}

func (s *Supervisor) run(ctx context.Context) {
	defer s.wg.Done()

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = reconnectInitialInterval
	policy.MaxInterval = reconnectMaxInterval
	policy.MaxElapsedTime = 0

	for {
		if sess, ok := s.Current(); ok {
			if !sleepCtx(ctx, probeInterval) {
				return
			}
			if err := sess.Ping(ctx); err != nil && ctx.Err() == nil {
				s.log.WithError(err).Warn("store session failed health probe, redialing")
				s.current.Store(nil)
				s.connected.Set(0)
				sess.Close()
			}
			continue
		}

		sess, err := dial(ctx, s.log, s.cfg)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			wait := policy.NextBackOff()
			s.log.WithError(err).WithField("retry_in", wait.String()).Error("store connection failed")
			if !sleepCtx(ctx, wait) {
				return
			}
			continue
		}
		policy.Reset()
		s.current.Store(sess)
		s.reconnects.Inc()
		s.connected.Set(1)
		s.log.WithField("keyspace", s.cfg.Keyspace).Info("store session established")
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
