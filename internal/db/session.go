package db

import (
	"context"
	"fmt"
	"time"

	"github.com/gocql/gocql"
	"github.com/sirupsen/logrus"
)

const healthCheckTimeout = 10 * time.Second

// SessionConfig describes how to reach the wide-column store.
type SessionConfig struct {
	Hosts             []string
	Port              int
	Username          string
	Password          string
	Keyspace          string
	ReplicationFactor int
	Bootstrap         bool
	Timeout           time.Duration
	ConnectTimeout    time.Duration
	PageSize          int
	Tables            TableNames
}

// Session is one live store handle together with its statement set. It is
// safe for concurrent use; the supervisor replaces the whole value on
// reconnect rather than mutating it.
type Session struct {
	log    *logrus.Entry
	db     *gocql.Session
	stmts  statements
	tables TableNames
}

func newCluster(cfg SessionConfig) *gocql.ClusterConfig {
	cluster := gocql.NewCluster(cfg.Hosts...)
	if cfg.Port != 0 {
		cluster.Port = cfg.Port
	}
	cluster.Consistency = gocql.LocalOne
	if cfg.Timeout > 0 {
		cluster.Timeout = cfg.Timeout
	}
	if cfg.ConnectTimeout > 0 {
		cluster.ConnectTimeout = cfg.ConnectTimeout
	}
	if cfg.PageSize > 0 {
		cluster.PageSize = cfg.PageSize
	}
	cluster.PoolConfig.HostSelectionPolicy = gocql.TokenAwareHostPolicy(gocql.RoundRobinHostPolicy())
	if cfg.Username != "" {
		cluster.Authenticator = gocql.PasswordAuthenticator{
			Username: cfg.Username,
			Password: cfg.Password,
		}
	}
	return cluster
}

// dial establishes a fresh session, bootstrapping the schema first when
// configured, and verifies it with a health probe before returning it.
func dial(ctx context.Context, log *logrus.Entry, cfg SessionConfig) (*Session, error) {
	if cfg.Bootstrap {
		if err := bootstrapSchema(ctx, log, cfg); err != nil {
			return nil, fmt.Errorf("bootstrapping schema: %w", err)
		}
	}

	cluster := newCluster(cfg)
	cluster.Keyspace = cfg.Keyspace
	db, err := cluster.CreateSession()
	if err != nil {
		return nil, fmt.Errorf("connecting to store: %w", err)
	}
	session := &Session{
		log:    log,
		db:     db,
		stmts:  newStatements(cfg.Tables),
		tables: cfg.Tables,
	}
	if err := session.Ping(ctx); err != nil {
		session.Close()
		return nil, fmt.Errorf("health probe failed: %w", err)
	}
	return session, nil
}

// bootstrapSchema applies the idempotent DDL through a short-lived session
// that is not bound to the keyspace, so the keyspace itself can be created.
func bootstrapSchema(ctx context.Context, log *logrus.Entry, cfg SessionConfig) error {
	cluster := newCluster(cfg)
	db, err := cluster.CreateSession()
	if err != nil {
		return err
	}
	defer db.Close()
	return Bootstrap(ctx, log, db, cfg.Keyspace, cfg.ReplicationFactor, cfg.Tables)
}

// Ping verifies the session end to end.
func (s *Session) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()
	return s.db.Query("SELECT now() FROM system.local").WithContext(ctx).Exec()
}

func (s *Session) Close() {
	s.db.Close()
}

// query runs one of the session's statements at its configured consistency
// and returns a paged iterator.
func (s *Session) query(ctx context.Context, st stmt, args ...interface{}) *gocql.Iter {
	return s.db.Query(st.text, args...).WithContext(ctx).Consistency(st.cons).Iter()
}

// exec runs a statement that returns no rows.
func (s *Session) exec(ctx context.Context, st stmt, args ...interface{}) error {
	return s.db.Query(st.text, args...).WithContext(ctx).Consistency(st.cons).Exec()
}
