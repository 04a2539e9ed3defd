package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/Kampouse/kvindexer/internal/daemon/interfaces"
	"github.com/Kampouse/kvindexer/internal/db"
	"github.com/Kampouse/kvindexer/internal/upstream"
)

const (
	defaultSuffix       = "kv"
	defaultConsumer     = "kv-1"
	defaultRangeSize    = 100
	defaultPollInterval = 500 * time.Millisecond

	// watermarkSuffix is the producer's universal consumer, whose checkpoint
	// marks how far the upstream store is complete across all suffixes.
	watermarkSuffix = "universal"

	// channelCapacity bounds the fetcher-to-writer pipeline; sends block when
	// the writer falls behind.
	channelCapacity = 100

	// earlyFlushThreshold triggers a flush of complete heights before the
	// range finishes, keeping the buffer memory bounded on dense ranges.
	earlyFlushThreshold = 10_000

	// maxScanAttempts bounds one range scan: an immediate attempt plus
	// retries after 1s, 2s and 4s. Exhaustion stops the service.
	maxScanAttempts = 4
)

// ChangeSource is the slice of the upstream client the fetch loop consumes.
type ChangeSource interface {
	ReadWatermark(ctx context.Context, suffix string) (uint64, bool, error)
	ScanRange(ctx context.Context, suffix string, from, to uint64, fn func(upstream.Record) error) (uint64, bool, error)
}

// StoreResolver hands out the live store connection. Flushes resolve it per
// call so a reconnect between ranges is picked up transparently.
type StoreResolver interface {
	CurrentWriter() (db.ReadWriter, bool)
}

type Config struct {
	Logger          *logrus.Entry
	Source          ChangeSource
	Store           StoreResolver
	Suffix          string
	Consumer        string
	StartHeight     uint64
	RangeSize       uint64
	PollInterval    time.Duration
	OrderIDEncoding OrderIDEncoding
	OnScanRetry     backoff.Notify
	Daemon          interfaces.Daemon
}

func NewService(cfg Config) *Service {
	service := newService(cfg)
	startService(service)
	return service
}

func newService(cfg Config) *Service {
	// flushDurationMetric is a metric for measuring the latency of entry flushes
	flushDurationMetric := prometheus.NewSummaryVec(prometheus.SummaryOpts{
		Namespace: cfg.Daemon.MetricsNamespace(), Subsystem: "ingest", Name: "flush_duration_seconds",
		Help:       "entry flush durations, sliding window = 10m",
		Objectives: map[float64]float64{0.5: 0.05, 0.9: 0.01, 0.99: 0.001},
	},
		[]string{"type"},
	)
	// latestBlockMetric is a metric for measuring the latest checkpointed block
	latestBlockMetric := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: cfg.Daemon.MetricsNamespace(), Subsystem: "ingest", Name: "local_latest_block",
		Help: "height of the latest block checkpointed by this ingesting instance",
	})

	ingestStatsMetric := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: cfg.Daemon.MetricsNamespace(), Subsystem: "ingest", Name: "pipeline_stats_total",
			Help: "counters of records consumed and entries extracted",
		},
		[]string{"type"},
	)

	cfg.Daemon.MetricsRegistry().MustRegister(
		flushDurationMetric,
		latestBlockMetric,
		ingestStatsMetric)

	service := &Service{
		logger:         cfg.Logger,
		source:         cfg.Source,
		store:          cfg.Store,
		suffix:         cfg.Suffix,
		consumer:       cfg.Consumer,
		startHeight:    cfg.StartHeight,
		rangeSize:      cfg.RangeSize,
		pollInterval:   cfg.PollInterval,
		encoding:       cfg.OrderIDEncoding,
		onScanRetry:    cfg.OnScanRetry,
		newRetryPolicy: defaultScanRetryPolicy,
		metrics: Metrics{
			flushDurationMetric: flushDurationMetric,
			latestBlockMetric:   latestBlockMetric,
			ingestStatsMetric:   ingestStatsMetric,
		},
	}
	if service.suffix == "" {
		service.suffix = defaultSuffix
	}
	if service.consumer == "" {
		service.consumer = defaultConsumer
	}
	if service.rangeSize == 0 {
		service.rangeSize = defaultRangeSize
	}
	if service.pollInterval <= 0 {
		service.pollInterval = defaultPollInterval
	}
	return service
}

func startService(service *Service) {
	ctx, done := context.WithCancel(context.Background())
	service.done = done
	items := make(chan rangeItem, channelCapacity)

	service.wg.Add(2)
	go func() {
		defer service.wg.Done()
		defer close(items)
		if err := service.fetchLoop(ctx, items); err != nil && !errors.Is(err, context.Canceled) {
			service.logger.WithError(err).Fatal("could not run ingestion fetch loop")
		}
	}()
	go func() {
		defer service.wg.Done()
		if err := service.writeLoop(ctx, items); err != nil && !errors.Is(err, context.Canceled) {
			service.logger.WithError(err).Fatal("could not run ingestion write loop")
		}
	}()
}

type Metrics struct {
	flushDurationMetric *prometheus.SummaryVec
	latestBlockMetric   prometheus.Gauge
	ingestStatsMetric   *prometheus.CounterVec
}

type Service struct {
	logger         *logrus.Entry
	source         ChangeSource
	store          StoreResolver
	suffix         string
	consumer       string
	startHeight    uint64
	rangeSize      uint64
	pollInterval   time.Duration
	encoding       OrderIDEncoding
	onScanRetry    backoff.Notify
	newRetryPolicy func() backoff.BackOff
	metrics        Metrics
	done           context.CancelFunc
	wg             sync.WaitGroup
}

// defaultScanRetryPolicy waits 1s, 2s and 4s between the four scan attempts.
func defaultScanRetryPolicy() backoff.BackOff {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = time.Second
	policy.RandomizationFactor = 0
	policy.Multiplier = 2
	policy.MaxInterval = 4 * time.Second
	policy.MaxElapsedTime = 0
	return backoff.WithMaxRetries(policy, maxScanAttempts-1)
}

// Close stops the pipeline and waits for both loops to drain.
func (s *Service) Close() error {
	s.done()
	s.wg.Wait()
	return nil
}

// rangeItem is one pipeline message: a record, or an end-of-range marker
// carrying the height through which the range is complete.
type rangeItem struct {
	rec        *upstream.Record
	endHeight  uint64
	endOfRange bool
}

// fetchLoop follows the upstream watermark and streams record ranges into the
// pipeline. Ranges are delivered strictly in order; a range is either fully
// delivered and closed with its end-of-range marker, or the loop returns an
// error and the service stops.
func (s *Service) fetchLoop(ctx context.Context, items chan<- rangeItem) error {
	from, err := s.initialHeight(ctx)
	if err != nil {
		return err
	}
	s.logger.WithField("from", from).Info("starting ingestion")

	for {
		watermark, ok, err := s.source.ReadWatermark(ctx, watermarkSuffix)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.logger.WithError(err).Error("could not read upstream watermark")
			if !sleepCtx(ctx, time.Second) {
				return ctx.Err()
			}
			continue
		}
		if !ok {
			s.logger.Info("upstream watermark absent, producer has not started")
			if !sleepCtx(ctx, time.Second) {
				return ctx.Err()
			}
			continue
		}
		if from > watermark {
			// Caught up.
			if !sleepCtx(ctx, s.pollInterval) {
				return ctx.Err()
			}
			continue
		}

		to := min(watermark, from+s.rangeSize-1)
		highest, sawData, err := s.scanRange(ctx, items, from, to)
		if err != nil {
			return err
		}
		height := to
		if sawData {
			height = highest
		}
		select {
		case items <- rangeItem{endOfRange: true, endHeight: height}:
		case <-ctx.Done():
			return ctx.Err()
		}
		from = height + 1
	}
}

// initialHeight resolves the first height to ingest: the store checkpoint
// plus one, or the configured start height when no checkpoint exists yet.
// The store connects asynchronously, so this waits for a session.
func (s *Service) initialHeight(ctx context.Context) (uint64, error) {
	for {
		if store, ok := s.store.CurrentWriter(); ok {
			checkpoint, found, err := store.Checkpoint(ctx, s.consumer)
			if err == nil {
				if found {
					return checkpoint + 1, nil
				}
				return s.startHeight, nil
			}
			if ctx.Err() != nil {
				return 0, ctx.Err()
			}
			s.logger.WithError(err).Error("could not read store checkpoint")
		} else {
			s.logger.Info("waiting for a store session")
		}
		if !sleepCtx(ctx, time.Second) {
			return 0, ctx.Err()
		}
	}
}

// scanRange delivers every record in [from, to] to the pipeline. A failed
// attempt re-scans the whole range from scratch; the writer's keyed upserts
// make the re-delivery idempotent. Returns the highest delivered height and
// whether the range held any records.
func (s *Service) scanRange(ctx context.Context, items chan<- rangeItem, from, to uint64) (uint64, bool, error) {
	var highest uint64
	var sawData bool

	scan := func() error {
		highest, sawData = 0, false
		h, saw, err := s.source.ScanRange(ctx, s.suffix, from, to, func(rec upstream.Record) error {
			r := rec
			select {
			case items <- rangeItem{rec: &r}:
				s.metrics.ingestStatsMetric.With(prometheus.Labels{"type": "records"}).Inc()
				return nil
			case <-ctx.Done():
				return backoff.Permanent(ctx.Err())
			}
		})
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			return fmt.Errorf("scanning range [%d, %d]: %w", from, to, err)
		}
		highest, sawData = h, saw
		return nil
	}

	// Don't want to keep waiting out a retry delay if the context gets canceled.
	policy := backoff.WithContext(s.newRetryPolicy(), ctx)
	notify := s.onScanRetry
	if notify == nil {
		notify = func(err error, delay time.Duration) {
			s.logger.WithError(err).WithField("delay", delay).Warn("range scan failed, retrying")
		}
	}
	err := backoff.RetryNotify(scan, policy, notify)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return 0, false, err
		}
		return 0, false, fmt.Errorf("exhausted %d scan attempts: %w", maxScanAttempts, err)
	}
	return highest, sawData, nil
}

// writeLoop drains the pipeline into the store. It buffers extracted entries,
// flushes complete heights early when the buffer grows large, and on each
// end-of-range marker flushes everything and advances the checkpoint as one
// logical step. Any flush or checkpoint failure stops the service; the
// checkpoint never runs ahead of persisted data.
func (s *Service) writeLoop(ctx context.Context, items <-chan rangeItem) error {
	var buffer []db.Entry
	var highestBuffered uint64

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case item, ok := <-items:
			if !ok {
				return nil
			}
			if item.endOfRange {
				if err := s.flushAndCheckpoint(ctx, buffer, item.endHeight); err != nil {
					return err
				}
				buffer = nil
				highestBuffered = 0
				continue
			}

			entries := ExtractEntries(s.logger, *item.rec, s.encoding)
			if len(entries) == 0 {
				continue
			}
			s.metrics.ingestStatsMetric.With(prometheus.Labels{"type": "entries"}).Add(float64(len(entries)))
			buffer = append(buffer, entries...)
			if h := item.rec.BlockHeight; h > highestBuffered {
				highestBuffered = h
			}

			if len(buffer) >= earlyFlushThreshold {
				// Flush complete heights only; the in-progress height stays
				// buffered so a block is never split across flushes.
				complete, rest := splitCompleteHeights(buffer, highestBuffered)
				if len(complete) == 0 {
					continue
				}
				if err := s.flush(ctx, complete, "early"); err != nil {
					return err
				}
				buffer = rest
			}
		}
	}
}

// splitCompleteHeights partitions entries into those strictly below the
// in-progress height and those at it. Retried ranges may interleave heights,
// so this filters rather than cutting a prefix.
func splitCompleteHeights(entries []db.Entry, inProgress uint64) (complete, rest []db.Entry) {
	for _, e := range entries {
		if e.BlockHeight < inProgress {
			complete = append(complete, e)
		} else {
			rest = append(rest, e)
		}
	}
	return complete, rest
}

func (s *Service) flush(ctx context.Context, entries []db.Entry, kind string) error {
	if len(entries) == 0 {
		return nil
	}
	store, ok := s.store.CurrentWriter()
	if !ok {
		return errors.New("no store session, cannot flush")
	}
	startTime := time.Now()
	if err := store.ApplyEntries(ctx, entries); err != nil {
		return fmt.Errorf("flushing %d entries: %w", len(entries), err)
	}
	s.metrics.flushDurationMetric.With(prometheus.Labels{"type": kind}).
		Observe(time.Since(startTime).Seconds())
	return nil
}

func (s *Service) flushAndCheckpoint(ctx context.Context, entries []db.Entry, height uint64) error {
	if err := s.flush(ctx, entries, "range"); err != nil {
		return err
	}
	store, ok := s.store.CurrentWriter()
	if !ok {
		return errors.New("no store session, cannot checkpoint")
	}
	if err := store.SetCheckpoint(ctx, s.consumer, height); err != nil {
		return fmt.Errorf("advancing checkpoint to %d: %w", height, err)
	}
	s.metrics.latestBlockMetric.Set(float64(height))
	s.logger.WithFields(logrus.Fields{
		"height":  height,
		"entries": len(entries),
	}).Debug("range committed")
	return nil
}

// sleepCtx waits for the duration and reports false when the context was
// cancelled first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
