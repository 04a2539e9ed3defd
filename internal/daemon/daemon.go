package daemon

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/pprof" //nolint:gosec
	"os"
	"os/signal"
	runtimePprof "runtime/pprof"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/Kampouse/kvindexer/internal/api"
	"github.com/Kampouse/kvindexer/internal/config"
	"github.com/Kampouse/kvindexer/internal/db"
	"github.com/Kampouse/kvindexer/internal/ingest"
	"github.com/Kampouse/kvindexer/internal/upstream"
	"github.com/Kampouse/kvindexer/internal/watch"
)

const (
	prometheusNamespace        = "kvindexer"
	defaultReadTimeout         = 5 * time.Second
	defaultShutdownGracePeriod = 10 * time.Second

	// heightRefreshInterval paces the checkpoint reads backing /v1/status
	// and the X-Indexer-Block header.
	heightRefreshInterval = 5 * time.Second
)

type Daemon struct {
	logger          *logrus.Entry
	supervisor      *db.Supervisor
	source          *upstream.Client
	ingestService   *ingest.Service
	hub             *watch.Hub
	heights         *heightCache
	listener        net.Listener
	server          *http.Server
	adminListener   net.Listener
	adminServer     *http.Server
	cancel          context.CancelFunc
	closeOnce       sync.Once
	closeError      error
	done            chan struct{}
	metricsRegistry *prometheus.Registry
}

// GetEndpointAddrs returns the bound public and admin addresses. The admin
// address is nil when the admin endpoint is disabled. Useful with dynamic
// ports (endpoint="localhost:0") during testing.
func (d *Daemon) GetEndpointAddrs() (net.TCPAddr, *net.TCPAddr) {
	addr := d.listener.Addr().(*net.TCPAddr)
	var adminAddr *net.TCPAddr
	if d.adminListener != nil {
		adminAddr = d.adminListener.Addr().(*net.TCPAddr)
	}
	return *addr, adminAddr
}

func MustNew(cfg *config.Config, logger *logrus.Entry) *Daemon {
	logger.Logger.SetLevel(cfg.LogLevel)
	if cfg.LogFormat == config.LogFormatJSON {
		logger.Logger.SetFormatter(&logrus.JSONFormatter{})
	}

	logger.WithFields(logrus.Fields{
		"version": config.Version,
		"commit":  config.CommitHash,
	}).Info("starting kvindexer")

	ctx, cancel := context.WithCancel(context.Background())
	daemon := &Daemon{
		logger:          logger,
		heights:         &heightCache{},
		cancel:          cancel,
		done:            make(chan struct{}),
		metricsRegistry: prometheus.NewRegistry(),
	}

	source, err := upstream.NewClient(ctx, logger.WithField("subservice", "upstream"), cfg.RedisURL, cfg.ChainID)
	if err != nil {
		logger.WithError(err).Fatal("could not connect to upstream")
	}
	daemon.source = source

	daemon.supervisor = db.NewSupervisor(
		logger.WithField("subservice", "db"),
		db.SessionConfig{
			Hosts:             cfg.StoreHosts,
			Port:              cfg.StorePort,
			Username:          cfg.StoreUsername,
			Password:          cfg.StorePassword,
			Keyspace:          cfg.Keyspace(),
			ReplicationFactor: cfg.StoreReplicationFactor,
			Bootstrap:         cfg.StoreBootstrap,
			Timeout:           cfg.StoreTimeout,
			ConnectTimeout:    cfg.StoreConnectTimeout,
			PageSize:          cfg.StorePageSize,
			Tables:            cfg.Tables(),
		},
		prometheusNamespace,
		daemon.metricsRegistry,
	)

	daemon.hub = watch.NewHub(daemon)

	daemon.ingestService = ingest.NewService(ingest.Config{
		Logger:          logger.WithField("subservice", "ingest"),
		Source:          source,
		Store:           writerStore{daemon.supervisor},
		Suffix:          cfg.Suffix,
		Consumer:        cfg.Consumer,
		StartHeight:     cfg.IngestStartHeight,
		RangeSize:       cfg.IngestRangeSize,
		PollInterval:    cfg.IngestPollInterval,
		OrderIDEncoding: cfg.OrderIDEncoding,
		OnScanRetry: func(err error, _ time.Duration) {
			logger.WithError(err).Error("could not scan upstream range. Retrying")
		},
		Daemon: daemon,
	})

	go daemon.refreshHeight(ctx, cfg.Consumer)

	httpHandler := api.NewHandler(api.HandlerParams{
		Logger:     logger.WithField("subservice", "api"),
		Daemon:     daemon,
		Store:      readerStore{daemon.supervisor},
		WatchStore: watchStore{daemon.supervisor},
		Heights:    daemon.heights,
		Hub:        daemon.hub,
	})

	// Use a separate listener in order to obtain the actual TCP port
	// when using dynamic ports during testing (e.g. endpoint="localhost:0")
	daemon.listener, err = net.Listen("tcp", cfg.Endpoint)
	if err != nil {
		daemon.logger.WithError(err).WithField("endpoint", cfg.Endpoint).Fatal("cannot listen on endpoint")
	}
	daemon.server = &http.Server{
		Handler:     httpHandler,
		ReadTimeout: defaultReadTimeout,
	}
	if cfg.AdminEndpoint != "" {
		adminMux := http.NewServeMux()
		adminMux.HandleFunc("/debug/pprof/", pprof.Index)
		adminMux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		adminMux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		adminMux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		adminMux.HandleFunc("/debug/pprof/trace", pprof.Trace)
		// add the entry points for:
		// goroutine, threadcreate, heap, allocs, block, mutex
		for _, profile := range runtimePprof.Profiles() {
			adminMux.Handle("/debug/pprof/"+profile.Name(), pprof.Handler(profile.Name()))
		}
		adminMux.Handle("/metrics", promhttp.HandlerFor(daemon.metricsRegistry, promhttp.HandlerOpts{}))
		daemon.adminListener, err = net.Listen("tcp", cfg.AdminEndpoint)
		if err != nil {
			daemon.logger.WithError(err).WithField("endpoint", cfg.AdminEndpoint).Fatal("cannot listen on admin endpoint")
		}
		daemon.adminServer = &http.Server{Handler: adminMux}
	}
	daemon.registerMetrics()
	return daemon
}

// refreshHeight keeps the cached indexer height current. The first read
// happens immediately so /v1/status is useful as soon as a session exists.
func (d *Daemon) refreshHeight(ctx context.Context, consumer string) {
	ticker := time.NewTicker(heightRefreshInterval)
	defer ticker.Stop()
	for {
		if session, ok := d.supervisor.Current(); ok {
			height, found, err := session.Checkpoint(ctx, consumer)
			switch {
			case err != nil && ctx.Err() == nil:
				d.logger.WithError(err).Debug("could not refresh indexer height")
			case found:
				d.heights.set(height)
			}
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (d *Daemon) close() {
	shutdownCtx, shutdownRelease := context.WithTimeout(context.Background(), defaultShutdownGracePeriod)
	defer shutdownRelease()
	var closeErrors []error

	if err := d.server.Shutdown(shutdownCtx); err != nil {
		d.logger.WithError(err).Error("error during HTTP server Shutdown")
		closeErrors = append(closeErrors, err)
	}
	if d.adminServer != nil {
		if err := d.adminServer.Shutdown(shutdownCtx); err != nil {
			d.logger.WithError(err).Error("error during admin server Shutdown")
			closeErrors = append(closeErrors, err)
		}
	}

	d.cancel()

	if err := d.ingestService.Close(); err != nil {
		d.logger.WithError(err).Error("error closing ingestion service")
		closeErrors = append(closeErrors, err)
	}
	if err := d.source.Close(); err != nil {
		d.logger.WithError(err).Error("error closing upstream client")
		closeErrors = append(closeErrors, err)
	}
	if err := d.supervisor.Close(); err != nil {
		d.logger.WithError(err).Error("error closing store supervisor")
		closeErrors = append(closeErrors, err)
	}
	d.closeError = errors.Join(closeErrors...)
	close(d.done)
}

func (d *Daemon) Close() error {
	d.closeOnce.Do(d.close)
	return d.closeError
}

func (d *Daemon) Run() {
	d.logger.WithFields(logrus.Fields{
		"addr": d.listener.Addr().String(),
	}).Info("starting HTTP server")

	go func() {
		if err := d.server.Serve(d.listener); !errors.Is(err, http.ErrServerClosed) {
			d.logger.WithError(err).Fatal("HTTP server encountered fatal error")
		}
	}()

	if d.adminServer != nil {
		d.logger.WithFields(logrus.Fields{
			"addr": d.adminListener.Addr().String(),
		}).Info("starting admin HTTP server")
		go func() {
			if err := d.adminServer.Serve(d.adminListener); !errors.Is(err, http.ErrServerClosed) {
				d.logger.WithError(err).Error("admin server encountered fatal error")
			}
		}()
	}

	// Shutdown gracefully when we receive an interrupt signal.
	// First server.Shutdown closes all open listeners, then closes all idle
	// connections, and finally waits the grace period for connections to
	// return to idle before shutting down.
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-signals:
		d.Close()
	case <-d.done:
		return
	}
}
