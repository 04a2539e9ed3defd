package db

import (
	"strings"
	"testing"

	"github.com/gocql/gocql"
	"github.com/stretchr/testify/assert"
)

// The statement texts are interpolated into a live cluster, so the generated
// CQL is pinned here. CQL has no parenthesized predicate groups and no joins;
// every condition must render as a flat AND chain.
func TestStatementTexts(t *testing.T) {
	s := newStatements(DefaultTableNames())
	kv := strings.Join(kvColumns, ", ")
	history := strings.Join(historyColumns, ", ")
	timeline := strings.Join(timelineColumns, ", ")

	for _, testCase := range []struct {
		name string
		st   stmt
		text string
	}{
		{"getKv", s.getKv,
			"SELECT " + kv + " FROM s_kv_last WHERE predecessor_id = ? AND current_account_id = ? AND key = ?"},
		{"queryKvCursor", s.queryKvCursor,
			"SELECT " + kv + " FROM s_kv_last WHERE predecessor_id = ? AND current_account_id = ? AND key > ?"},
		{"prefixQuery", s.prefixQuery,
			"SELECT " + kv + " FROM s_kv_last WHERE predecessor_id = ? AND current_account_id = ? AND key >= ? AND key < ?"},
		{"historyAsc", s.historyAsc,
			"SELECT " + history + " FROM s_kv WHERE predecessor_id = ? AND current_account_id = ? AND key = ? AND block_height >= ? AND block_height <= ? ORDER BY block_height ASC, order_id ASC"},
		{"getKvAtBlock", s.getKvAtBlock,
			"SELECT " + history + " FROM s_kv WHERE predecessor_id = ? AND current_account_id = ? AND key = ? AND block_height = ?"},
		{"timelineDesc", s.timelineDesc,
			"SELECT " + timeline + " FROM s_kv_by_block WHERE predecessor_id = ? AND current_account_id = ? AND block_height >= ? AND block_height <= ? ORDER BY block_height DESC, key ASC"},
		{"reverseListCursor", s.reverseListCursor,
			"SELECT " + kv + " FROM kv_reverse WHERE current_account_id = ? AND key = ? AND predecessor_id > ?"},
		{"accountsAllCursor", s.accountsAllCursor,
			"SELECT predecessor_id FROM all_accounts WHERE TOKEN(predecessor_id) > TOKEN(?)"},
		{"edgesCount", s.edgesCount,
			"SELECT COUNT(*) FROM kv_edges WHERE edge_type = ? AND target = ?"},
		{"metaGet", s.metaGet,
			"SELECT last_processed_block_height FROM meta WHERE suffix = ?"},
		{"metaSet", s.metaSet,
			"INSERT INTO meta (suffix,last_processed_block_height) VALUES (?,?)"},
		{"deleteEdge", s.deleteEdge,
			"DELETE FROM kv_edges WHERE edge_type = ? AND target = ? AND source = ?"},
	} {
		assert.Equal(t, testCase.text, testCase.st.text, testCase.name)
	}
}

func TestStatementConsistency(t *testing.T) {
	s := newStatements(DefaultTableNames())

	// Point reads and pagination run at LOCAL_ONE, discovery scans and all
	// writes at LOCAL_QUORUM.
	assert.Equal(t, gocql.LocalOne, s.getKv.cons)
	assert.Equal(t, gocql.LocalOne, s.historyDesc.cons)
	assert.Equal(t, gocql.LocalOne, s.edgesList.cons)
	assert.Equal(t, gocql.LocalQuorum, s.accountsByContract.cons)
	assert.Equal(t, gocql.LocalQuorum, s.accountsAll.cons)
	assert.Equal(t, gocql.LocalQuorum, s.insertHistory.cons)
	assert.Equal(t, gocql.LocalQuorum, s.metaSet.cons)
}

func TestInsertPlaceholderCounts(t *testing.T) {
	s := newStatements(DefaultTableNames())
	for _, testCase := range []struct {
		name string
		st   stmt
		want int
	}{
		{"insertHistory", s.insertHistory, len(baseInsertColumns)},
		{"insertLast", s.insertLast, len(baseInsertColumns)},
		{"insertByBlock", s.insertByBlock, len(byBlockInsertColumns)},
		{"insertReverse", s.insertReverse, len(reverseInsertColumns)},
		{"insertAccounts", s.insertAccounts, 3},
		{"insertAllAccounts", s.insertAllAccounts, 3},
		{"insertEdge", s.insertEdge, len(edgeInsertColumns)},
	} {
		assert.Equal(t, testCase.want, strings.Count(testCase.st.text, "?"), testCase.name)
	}
}

func TestComputePrefixEnd(t *testing.T) {
	end := computePrefixEnd("settings/")
	assert.True(t, strings.HasPrefix(end, "settings/"))
	// The bound must sort after every possible extension of the prefix.
	assert.True(t, end > "settings/zzzzzz")
	assert.True(t, end > "settings/�")
}
