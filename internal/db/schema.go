package db

import (
	"context"
	"fmt"

	"github.com/gocql/gocql"
	"github.com/sirupsen/logrus"
)

// TableNames carries the physical table and view names so a deployment can
// point the service at a rebuilt generation of the index without a restart of
// the upstream pipeline.
type TableNames struct {
	Kv          string // current projection
	KvHistory   string // full history
	KvByBlock   string // per-pair timeline
	KvReverse   string // current writers per (contract, key)
	KvAccounts  string // discovery: (contract, key, account)
	AllAccounts string // discovery: every writer
	KvEdges     string // graph edges
	Meta        string // writer checkpoint
	ViewKey     string // global timeline view
	ViewCurKey  string // per-contract key view
}

// DefaultTableNames returns the canonical layout.
func DefaultTableNames() TableNames {
	return TableNames{
		Kv:          "s_kv_last",
		KvHistory:   "s_kv",
		KvByBlock:   "s_kv_by_block",
		KvReverse:   "kv_reverse",
		KvAccounts:  "kv_accounts",
		AllAccounts: "all_accounts",
		KvEdges:     "kv_edges",
		Meta:        "meta",
		ViewKey:     "mv_kv_key",
		ViewCurKey:  "mv_kv_cur_key",
	}
}

// Validate checks every name against the CQL identifier charset. Names are
// interpolated into statement texts, so anything else is rejected outright.
func (t TableNames) Validate() error {
	for name, v := range map[string]string{
		"table-kv":           t.Kv,
		"table-kv-history":   t.KvHistory,
		"table-kv-block":     t.KvByBlock,
		"table-kv-reverse":   t.KvReverse,
		"table-accounts":     t.KvAccounts,
		"table-all-accounts": t.AllAccounts,
		"table-edges":        t.KvEdges,
		"table-meta":         t.Meta,
		"view-key":           t.ViewKey,
		"view-cur-key":       t.ViewCurKey,
	} {
		if err := validateIdentifier(v, name); err != nil {
			return err
		}
	}
	return nil
}

// validateIdentifier accepts non-empty ASCII alphanumerics and underscores.
func validateIdentifier(v, what string) error {
	if v == "" {
		return fmt.Errorf("%s must not be empty", what)
	}
	for _, r := range v {
		if r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || r == '_' {
			continue
		}
		return fmt.Errorf("%s contains invalid character %q", what, r)
	}
	return nil
}

// KeyspaceName derives the keyspace for a chain.
func KeyspaceName(chainID string) (string, error) {
	if err := validateIdentifier(chainID, "chain id"); err != nil {
		return "", err
	}
	return "fastdata_" + chainID, nil
}

const baseColumns = `
	receipt_id text,
	action_index int,
	tx_hash text,
	signer_id text,
	predecessor_id text,
	current_account_id text,
	block_height bigint,
	block_timestamp bigint,
	shard_id int,
	receipt_index int,
	order_id bigint,
	key text,
	value text,
	encrypted_key_id text,`

// schemaStatements builds the idempotent DDL for one keyspace. Statements are
// ordered so that views follow their base table.
func schemaStatements(keyspace string, replicationFactor int, t TableNames) []string {
	q := func(format string, args ...interface{}) string {
		return fmt.Sprintf(format, args...)
	}
	return []string{
		q(`CREATE KEYSPACE IF NOT EXISTS %s WITH replication = {'class': 'SimpleStrategy', 'replication_factor': %d}`,
			keyspace, replicationFactor),
		q(`CREATE TABLE IF NOT EXISTS %s.%s (%s
	PRIMARY KEY ((predecessor_id), current_account_id, key, block_height, order_id))`,
			keyspace, t.KvHistory, baseColumns),
		q(`CREATE TABLE IF NOT EXISTS %s.%s (%s
	PRIMARY KEY ((predecessor_id), current_account_id, key))`,
			keyspace, t.Kv, baseColumns),
		q(`CREATE MATERIALIZED VIEW IF NOT EXISTS %s.%s AS
	SELECT * FROM %s.%s
	WHERE key IS NOT NULL AND block_height IS NOT NULL AND order_id IS NOT NULL AND predecessor_id IS NOT NULL AND current_account_id IS NOT NULL
	PRIMARY KEY ((key), block_height, order_id, predecessor_id, current_account_id)`,
			keyspace, t.ViewKey, keyspace, t.KvHistory),
		q(`CREATE MATERIALIZED VIEW IF NOT EXISTS %s.%s AS
	SELECT * FROM %s.%s
	WHERE current_account_id IS NOT NULL AND key IS NOT NULL AND block_height IS NOT NULL AND order_id IS NOT NULL AND predecessor_id IS NOT NULL
	PRIMARY KEY ((current_account_id), key, block_height, order_id, predecessor_id)`,
			keyspace, t.ViewCurKey, keyspace, t.KvHistory),
		q(`CREATE TABLE IF NOT EXISTS %s.%s (
	current_account_id text,
	key text,
	predecessor_id text,
	PRIMARY KEY ((current_account_id), key, predecessor_id))`,
			keyspace, t.KvAccounts),
		q(`CREATE TABLE IF NOT EXISTS %s.%s (
	edge_type text,
	target text,
	source text,
	current_account_id text,
	block_height bigint,
	block_timestamp bigint,
	order_id bigint,
	value text,
	PRIMARY KEY ((edge_type, target), source))`,
			keyspace, t.KvEdges),
		q(`CREATE TABLE IF NOT EXISTS %s.%s (
	current_account_id text,
	key text,
	predecessor_id text,
	receipt_id text,
	action_index int,
	tx_hash text,
	signer_id text,
	block_height bigint,
	block_timestamp bigint,
	shard_id int,
	receipt_index int,
	order_id bigint,
	value text,
	encrypted_key_id text,
	PRIMARY KEY ((current_account_id, key), predecessor_id))`,
			keyspace, t.KvReverse),
		q(`CREATE TABLE IF NOT EXISTS %s.%s (
	predecessor_id text PRIMARY KEY,
	last_block_height bigint,
	last_block_timestamp bigint)`,
			keyspace, t.AllAccounts),
		q(`CREATE TABLE IF NOT EXISTS %s.%s (
	predecessor_id text,
	current_account_id text,
	block_height bigint,
	key text,
	value text,
	block_timestamp bigint,
	order_id bigint,
	receipt_id text,
	tx_hash text,
	encrypted_key_id text,
	PRIMARY KEY ((predecessor_id, current_account_id), block_height, key))
	WITH CLUSTERING ORDER BY (block_height DESC, key ASC)`,
			keyspace, t.KvByBlock),
		q(`CREATE TABLE IF NOT EXISTS %s.%s (
	suffix text PRIMARY KEY,
	last_processed_block_height bigint)`,
			keyspace, t.Meta),
	}
}

// Bootstrap creates the keyspace, tables and views if they are missing. The
// session must be connected without a keyspace so the keyspace itself can be
// created.
func Bootstrap(ctx context.Context, log *logrus.Entry, session *gocql.Session, keyspace string, replicationFactor int, tables TableNames) error {
	if err := validateIdentifier(keyspace, "keyspace"); err != nil {
		return err
	}
	if err := tables.Validate(); err != nil {
		return err
	}
	for _, stmt := range schemaStatements(keyspace, replicationFactor, tables) {
		if err := session.Query(stmt).WithContext(ctx).Exec(); err != nil {
			return fmt.Errorf("applying schema statement: %w", err)
		}
	}
	log.WithField("keyspace", keyspace).Info("schema bootstrap complete")
	return nil
}
