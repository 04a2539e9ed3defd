package methods

import (
	"math"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Kampouse/kvindexer/internal/db"
)

func TestHistoryDefaultsToFullRangeNewestFirst(t *testing.T) {
	var captured db.HistoryQuery
	reader := &fakeReader{
		history: func(q db.HistoryQuery) (db.Page[db.Entry], error) {
			captured = q
			return db.Page[db.Entry]{Items: []db.Entry{aliceEntry()}}, nil
		},
	}
	h := NewHistoryHandler(testLogger(), storeOf(reader))

	rec := doGet(h, "/v1/kv/history?accountId=alice.near&contractId=social.near&key=profile/name")
	require.Equal(t, http.StatusOK, rec.Code)

	assert.Equal(t, db.HistoryQuery{
		AccountID:  "alice.near",
		ContractID: "social.near",
		Key:        "profile/name",
		FromBlock:  0,
		ToBlock:    math.MaxInt64,
		Ascending:  false,
		Limit:      defaultLimit,
	}, captured)
}

func TestHistoryBlockRangeAndOrder(t *testing.T) {
	var captured db.HistoryQuery
	reader := &fakeReader{
		history: func(q db.HistoryQuery) (db.Page[db.Entry], error) {
			captured = q
			return db.Page[db.Entry]{}, nil
		},
	}
	h := NewHistoryHandler(testLogger(), storeOf(reader))

	rec := doGet(h, "/v1/kv/history?accountId=a&contractId=c&key=k&from_block=50&to_block=150&order=ASC")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int64(50), captured.FromBlock)
	assert.Equal(t, int64(150), captured.ToBlock)
	assert.True(t, captured.Ascending, "order matching is case-insensitive")
}

func TestHistoryCursorResumesScan(t *testing.T) {
	var captured db.HistoryQuery
	reader := &fakeReader{
		history: func(q db.HistoryQuery) (db.Page[db.Entry], error) {
			captured = q
			return db.Page[db.Entry]{NextCursor: "99:6"}, nil
		},
	}
	h := NewHistoryHandler(testLogger(), storeOf(reader))

	rec := doGet(h, "/v1/kv/history?accountId=a&contractId=c&key=k&cursor=100:7")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, captured.Cursor)
	assert.Equal(t, db.HistoryCursor{BlockHeight: 100, OrderID: 7}, *captured.Cursor)
	assert.Contains(t, rec.Body.String(), `"next_cursor":"99:6"`)
}

func TestHistoryValidation(t *testing.T) {
	h := NewHistoryHandler(testLogger(), storeOf(&fakeReader{}))
	for _, tc := range []struct {
		name    string
		target  string
		message string
	}{
		{"empty key", "/v1/kv/history?accountId=a&contractId=c", "key: cannot be empty"},
		{"bad order", "/v1/kv/history?accountId=a&contractId=c&key=k&order=sideways", "order: must be 'asc' or 'desc'"},
		{"negative from", "/v1/kv/history?accountId=a&contractId=c&key=k&from_block=-1", "from_block: cannot be negative"},
		{"inverted range", "/v1/kv/history?accountId=a&contractId=c&key=k&from_block=10&to_block=5", "from_block: must be <= to_block"},
		{"cursor too long", "/v1/kv/history?accountId=a&contractId=c&key=k&cursor=" + strings.Repeat("1", 1025), "cursor: exceeds max length"},
		{"malformed cursor", "/v1/kv/history?accountId=a&contractId=c&key=k&cursor=oops", "cursor: expected format block_height:order_id"},
		{"cursor with offset", "/v1/kv/history?accountId=a&contractId=c&key=k&cursor=100:7&offset=5", "cursor: cannot combine with offset"},
	} {
		rec := doGet(h, tc.target)
		assert.Equal(t, http.StatusBadRequest, rec.Code, tc.name)
		assert.Equal(t, tc.message, apiErrorOf(t, rec).Message, tc.name)
	}
}

func TestHistoryOffsetWithoutCursor(t *testing.T) {
	var captured db.HistoryQuery
	reader := &fakeReader{
		history: func(q db.HistoryQuery) (db.Page[db.Entry], error) {
			captured = q
			return db.Page[db.Entry]{}, nil
		},
	}
	h := NewHistoryHandler(testLogger(), storeOf(reader))

	rec := doGet(h, "/v1/kv/history?accountId=a&contractId=c&key=k&offset=40")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 40, captured.Offset)
	assert.Nil(t, captured.Cursor)
}
