package methods

import (
	"math"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateAccountID(t *testing.T) {
	long := make([]byte, maxAccountIDLength+1)
	for i := range long {
		long[i] = 'a'
	}
	for _, tc := range []struct {
		value   string
		wantErr string
	}{
		{"alice.near", ""},
		{"", "accountId: cannot be empty"},
		{string(long), "accountId: cannot exceed 256 characters"},
	} {
		err := validateAccountID(tc.value, "accountId")
		if tc.wantErr == "" {
			assert.NoError(t, err)
		} else {
			assert.EqualError(t, err, tc.wantErr)
		}
	}
}

func TestValidateLimit(t *testing.T) {
	assert.NoError(t, validateLimit(1))
	assert.NoError(t, validateLimit(1000))
	assert.EqualError(t, validateLimit(0), "limit: must be between 1 and 1000")
	assert.EqualError(t, validateLimit(1001), "limit: must be between 1 and 1000")
}

func TestValidateOffset(t *testing.T) {
	assert.NoError(t, validateOffset(maxOffset))
	assert.EqualError(t, validateOffset(maxOffset+1), "offset: cannot exceed 100000")
}

func TestValidateCursorOrOffset(t *testing.T) {
	for _, tc := range []struct {
		name    string
		query   string
		offset  int
		wantErr string
	}{
		{"offset alone", "", 10, ""},
		{"cursor alone", "after_key=profile", 0, ""},
		{"cursor with offset", "after_key=profile", 1, "after_key: cannot combine with offset"},
		{"empty cursor", "after_key=", 0, "after_key: cannot be empty"},
		{"offset out of range without cursor", "", maxOffset + 1, "offset: cannot exceed 100000"},
	} {
		q, err := url.ParseQuery(tc.query)
		require.NoError(t, err, tc.name)
		got := validateCursorOrOffset(q, "after_key", tc.offset, func(c, n string) error {
			return validateKey(c, n, maxKeyLength)
		})
		if tc.wantErr == "" {
			assert.NoError(t, got, tc.name)
		} else {
			assert.EqualError(t, got, tc.wantErr, tc.name)
		}
	}
}

func TestValidateOrder(t *testing.T) {
	for _, tc := range []struct {
		order     string
		ascending bool
		wantErr   string
	}{
		{"asc", true, ""},
		{"ASC", true, ""},
		{"desc", false, ""},
		{"Desc", false, ""},
		{"sideways", false, "order: must be 'asc' or 'desc'"},
		{"", false, "order: must be 'asc' or 'desc'"},
	} {
		asc, err := validateOrder(tc.order)
		if tc.wantErr == "" {
			require.NoError(t, err, tc.order)
			assert.Equal(t, tc.ascending, asc, tc.order)
		} else {
			assert.EqualError(t, err, tc.wantErr, tc.order)
		}
	}
}

func TestParseBlockRange(t *testing.T) {
	for _, tc := range []struct {
		name     string
		query    string
		wantFrom int64
		wantTo   int64
		wantErr  string
	}{
		{"absent widens to full range", "", 0, math.MaxInt64, ""},
		{"both bounds", "from_block=10&to_block=20", 10, 20, ""},
		{"from only", "from_block=10", 10, math.MaxInt64, ""},
		{"negative from", "from_block=-1", 0, 0, "from_block/to_block: cannot be negative"},
		{"negative to", "to_block=-5", 0, 0, "from_block/to_block: cannot be negative"},
		{"inverted", "from_block=20&to_block=10", 0, 0, "from_block: must be <= to_block"},
		{"not a number", "from_block=ten", 0, 0, "from_block: must be an integer"},
	} {
		q, err := url.ParseQuery(tc.query)
		require.NoError(t, err, tc.name)
		from, to, gotErr := parseBlockRange(q)
		if tc.wantErr == "" {
			require.NoError(t, gotErr, tc.name)
			assert.Equal(t, tc.wantFrom, from, tc.name)
			assert.Equal(t, tc.wantTo, to, tc.name)
		} else {
			assert.EqualError(t, gotErr, tc.wantErr, tc.name)
		}
	}
}

func TestParseHistoryCursor(t *testing.T) {
	c, err := parseHistoryCursor("100:5")
	require.NoError(t, err)
	assert.Equal(t, int64(100), c.BlockHeight)
	assert.Equal(t, uint64(5), c.OrderID)

	for _, tc := range []struct {
		cursor  string
		wantErr string
	}{
		{"100", "cursor: expected format block_height:order_id"},
		{"abc:5", "cursor: block_height must be a non-negative integer"},
		{"-1:5", "cursor: block_height must be non-negative"},
		{"100:abc", "cursor: order_id must be an integer"},
	} {
		_, err := parseHistoryCursor(tc.cursor)
		assert.EqualError(t, err, tc.wantErr, tc.cursor)
	}
}

func TestParseTimelineCursorKeepsKeyVerbatim(t *testing.T) {
	c, err := parseTimelineCursor("100:graph/follow:bob.near")
	require.NoError(t, err)
	assert.Equal(t, int64(100), c.BlockHeight)
	assert.Equal(t, "graph/follow:bob.near", c.Key)

	_, err = parseTimelineCursor("nope")
	assert.EqualError(t, err, "cursor: expected format block_height:key")
}

func TestParseFieldSet(t *testing.T) {
	set, err := parseFieldSet("key, value ,blockHeight")
	require.NoError(t, err)
	assert.Equal(t, fieldSet{"key": true, "value": true, "blockHeight": true}, set)

	set, err = parseFieldSet("")
	require.NoError(t, err)
	assert.Nil(t, set)

	set, err = parseFieldSet(" , ,")
	require.NoError(t, err, "blank segments behave like no selection")
	assert.Nil(t, set)

	_, err = parseFieldSet("key,nope,zilch")
	assert.EqualError(t, err, "fields: unknown field(s): nope, zilch. "+
		"Valid: accountId, contractId, key, value, blockHeight, blockTimestamp, receiptId, txHash, isDeleted, encryptedKeyId")
}

func TestParseValueFormat(t *testing.T) {
	decode, err := parseValueFormat("json")
	require.NoError(t, err)
	assert.True(t, decode)

	decode, err = parseValueFormat("raw")
	require.NoError(t, err)
	assert.False(t, decode)

	decode, err = parseValueFormat("")
	require.NoError(t, err)
	assert.False(t, decode)

	_, err = parseValueFormat("yaml")
	assert.EqualError(t, err, "value_format: must be 'json' or 'raw' (got 'yaml')")
}

func TestClientIP(t *testing.T) {
	for _, tc := range []struct {
		name       string
		forwarded  string
		realIP     string
		remoteAddr string
		want       string
	}{
		{"rightmost forwarded entry", "1.1.1.1, 2.2.2.2", "", "9.9.9.9:1234", "2.2.2.2"},
		{"single forwarded entry", "3.3.3.3", "", "9.9.9.9:1234", "3.3.3.3"},
		{"unknown forwarded falls through", "unknown", "4.4.4.4", "9.9.9.9:1234", "4.4.4.4"},
		{"empty forwarded tail falls through", "1.1.1.1,", "", "9.9.9.9:1234", "9.9.9.9"},
		{"real ip", "", "4.4.4.4", "9.9.9.9:1234", "4.4.4.4"},
		{"peer address", "", "", "9.9.9.9:1234", "9.9.9.9"},
		{"nothing known", "", "", "", "unknown"},
	} {
		req := httptest.NewRequest(http.MethodGet, "/v1/kv/accounts", nil)
		req.RemoteAddr = tc.remoteAddr
		if tc.forwarded != "" {
			req.Header.Set("X-Forwarded-For", tc.forwarded)
		}
		if tc.realIP != "" {
			req.Header.Set("X-Real-IP", tc.realIP)
		}
		assert.Equal(t, tc.want, clientIP(req), tc.name)
	}
}
