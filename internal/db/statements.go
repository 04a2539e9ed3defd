package db

import (
	sq "github.com/Masterminds/squirrel"
	"github.com/gocql/gocql"
)

var (
	kvColumns = []string{
		"predecessor_id", "current_account_id", "key", "value",
		"block_height", "block_timestamp", "receipt_id", "tx_hash",
		"encrypted_key_id",
	}
	historyColumns = []string{
		"predecessor_id", "current_account_id", "key", "block_height",
		"order_id", "value", "block_timestamp", "receipt_id", "tx_hash",
		"signer_id", "shard_id", "receipt_index", "action_index",
		"encrypted_key_id",
	}
	timelineColumns = []string{
		"predecessor_id", "current_account_id", "block_height", "key",
		"order_id", "value", "block_timestamp", "receipt_id", "tx_hash",
		"encrypted_key_id",
	}
	baseInsertColumns = []string{
		"receipt_id", "action_index", "tx_hash", "signer_id",
		"predecessor_id", "current_account_id", "block_height",
		"block_timestamp", "shard_id", "receipt_index", "order_id",
		"key", "value", "encrypted_key_id",
	}
	reverseInsertColumns = []string{
		"current_account_id", "key", "predecessor_id", "receipt_id",
		"action_index", "tx_hash", "signer_id", "block_height",
		"block_timestamp", "shard_id", "receipt_index", "order_id",
		"value", "encrypted_key_id",
	}
	byBlockInsertColumns = []string{
		"predecessor_id", "current_account_id", "block_height", "key",
		"value", "block_timestamp", "order_id", "receipt_id", "tx_hash",
		"encrypted_key_id",
	}
	edgeInsertColumns = []string{
		"edge_type", "target", "source", "current_account_id",
		"block_height", "block_timestamp", "order_id", "value",
	}
)

// stmt pairs a statement text with the consistency it executes at.
type stmt struct {
	text string
	cons gocql.Consistency
}

// statements holds every CQL text the session executes. Texts are built once
// per session; gocql prepares them lazily on first execution.
//
// Reads on the primary access paths run at LOCAL_ONE. The discovery tables
// are populated out of band with the row they index, so those reads run at
// LOCAL_QUORUM to avoid returning partial results right after a write.
type statements struct {
	getKv                 stmt
	queryKvNoPrefix       stmt
	queryKvCursor         stmt
	prefixQuery           stmt
	prefixCursorQuery     stmt
	reverseList           stmt
	reverseListCursor     stmt
	historyAsc            stmt
	historyDesc           stmt
	getKvAtBlock          stmt
	timelineAsc           stmt
	timelineDesc          stmt
	accountsByContract    stmt
	accountsByContractKey stmt
	accountsAll           stmt
	accountsAllCursor     stmt
	contractsAll          stmt
	contractsAllCursor    stmt
	contractsByAccount    stmt
	edgesList             stmt
	edgesListCursor       stmt
	edgesCount            stmt
	metaGet               stmt
	metaSet               stmt
	insertHistory         stmt
	insertLast            stmt
	insertByBlock         stmt
	insertReverse         stmt
	insertAccounts        stmt
	insertAllAccounts     stmt
	insertEdge            stmt
	deleteEdge            stmt
}

func newStatements(t TableNames) statements {
	one := func(b sq.Sqlizer) stmt { return stmt{text: mustSQL(b), cons: gocql.LocalOne} }
	quorum := func(b sq.Sqlizer) stmt { return stmt{text: mustSQL(b), cons: gocql.LocalQuorum} }

	// CQL rejects parenthesized predicate groups, so conditions are chained
	// one Where per relation.
	pair := func(b sq.SelectBuilder) sq.SelectBuilder {
		return b.Where("predecessor_id = ?").Where("current_account_id = ?")
	}
	triple := func(b sq.SelectBuilder) sq.SelectBuilder {
		return pair(b).Where("key = ?")
	}
	blockRange := func(b sq.SelectBuilder) sq.SelectBuilder {
		return b.Where("block_height >= ?").Where("block_height <= ?")
	}

	return statements{
		getKv:           one(triple(sq.Select(kvColumns...).From(t.Kv))),
		queryKvNoPrefix: one(pair(sq.Select(kvColumns...).From(t.Kv))),
		queryKvCursor: one(pair(sq.Select(kvColumns...).From(t.Kv)).
			Where("key > ?")),
		prefixQuery: one(pair(sq.Select(kvColumns...).From(t.Kv)).
			Where("key >= ?").Where("key < ?")),
		prefixCursorQuery: one(pair(sq.Select(kvColumns...).From(t.Kv)).
			Where("key > ?").Where("key < ?")),
		reverseList: one(sq.Select(kvColumns...).From(t.KvReverse).
			Where("current_account_id = ?").Where("key = ?")),
		reverseListCursor: one(sq.Select(kvColumns...).From(t.KvReverse).
			Where("current_account_id = ?").Where("key = ?").Where("predecessor_id > ?")),
		historyAsc: one(blockRange(triple(sq.Select(historyColumns...).From(t.KvHistory))).
			OrderBy("block_height ASC", "order_id ASC")),
		historyDesc: one(blockRange(triple(sq.Select(historyColumns...).From(t.KvHistory))).
			OrderBy("block_height DESC", "order_id DESC")),
		getKvAtBlock: one(triple(sq.Select(historyColumns...).From(t.KvHistory)).
			Where("block_height = ?")),
		timelineAsc: one(blockRange(pair(sq.Select(timelineColumns...).From(t.KvByBlock))).
			OrderBy("block_height ASC", "key DESC")),
		timelineDesc: one(blockRange(pair(sq.Select(timelineColumns...).From(t.KvByBlock))).
			OrderBy("block_height DESC", "key ASC")),
		accountsByContract: quorum(sq.Select("predecessor_id").From(t.KvAccounts).
			Where("current_account_id = ?")),
		accountsByContractKey: quorum(sq.Select("predecessor_id").From(t.KvAccounts).
			Where("current_account_id = ?").Where("key = ?")),
		accountsAll: quorum(sq.Select("predecessor_id").From(t.AllAccounts)),
		accountsAllCursor: quorum(sq.Select("predecessor_id").From(t.AllAccounts).
			Where("TOKEN(predecessor_id) > TOKEN(?)")),
		contractsAll: quorum(sq.Select("current_account_id").From(t.KvAccounts)),
		contractsAllCursor: quorum(sq.Select("current_account_id").From(t.KvAccounts).
			Where("TOKEN(current_account_id) > TOKEN(?)")),
		contractsByAccount: one(sq.Select("current_account_id", "key").From(t.Kv).
			Where("predecessor_id = ?")),
		edgesList: one(sq.Select("source", "block_height").From(t.KvEdges).
			Where("edge_type = ?").Where("target = ?")),
		edgesListCursor: one(sq.Select("source", "block_height").From(t.KvEdges).
			Where("edge_type = ?").Where("target = ?").Where("source > ?")),
		edgesCount: one(sq.Select("COUNT(*)").From(t.KvEdges).
			Where("edge_type = ?").Where("target = ?")),
		metaGet: one(sq.Select("last_processed_block_height").From(t.Meta).
			Where("suffix = ?")),
		metaSet:           quorum(insertInto(t.Meta, []string{"suffix", "last_processed_block_height"})),
		insertHistory:     quorum(insertInto(t.KvHistory, baseInsertColumns)),
		insertLast:        quorum(insertInto(t.Kv, baseInsertColumns)),
		insertByBlock:     quorum(insertInto(t.KvByBlock, byBlockInsertColumns)),
		insertReverse:     quorum(insertInto(t.KvReverse, reverseInsertColumns)),
		insertAccounts:    quorum(insertInto(t.KvAccounts, []string{"current_account_id", "key", "predecessor_id"})),
		insertAllAccounts: quorum(insertInto(t.AllAccounts, []string{"predecessor_id", "last_block_height", "last_block_timestamp"})),
		insertEdge:        quorum(insertInto(t.KvEdges, edgeInsertColumns)),
		deleteEdge: quorum(sq.Delete(t.KvEdges).
			Where("edge_type = ?").Where("target = ?").Where("source = ?")),
	}
}

func insertInto(table string, columns []string) sq.InsertBuilder {
	values := make([]interface{}, len(columns))
	return sq.Insert(table).Columns(columns...).Values(values...)
}

func mustSQL(b sq.Sqlizer) string {
	text, _, err := b.ToSql()
	if err != nil {
		panic(err)
	}
	return text
}

// computePrefixEnd returns the exclusive upper bound for a prefix scan: every
// key with the prefix sorts below prefix + the maximum code point.
func computePrefixEnd(prefix string) string {
	return prefix + "\U0010FFFF"
}
