package methods

import (
	"errors"
	"net/http"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Kampouse/kvindexer/internal/db"
)

func TestBatchPreservesInputOrder(t *testing.T) {
	values := map[string]string{
		"profile/name":  `"Alice"`,
		"profile/image": `"img"`,
	}
	var mu sync.Mutex
	var calls int
	reader := &fakeReader{
		getLast: func(_, _, key string) (*db.Entry, error) {
			mu.Lock()
			calls++
			mu.Unlock()
			if key == "broken" {
				return nil, errors.New("read timeout")
			}
			v, ok := values[key]
			if !ok {
				return nil, nil
			}
			e := aliceEntry()
			e.Key = key
			e.Value = v
			return &e, nil
		},
	}
	h := NewBatchHandler(testLogger(), storeOf(reader))

	rec := doPost(h, "/v1/kv/batch",
		`{"accountId": "alice.near", "contractId": "social.near", "keys": ["profile/name", "missing", "broken", "profile/image"]}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 4, calls)
	assert.JSONEq(t, `{"data": [
		{"key": "profile/name", "value": "\"Alice\"", "found": true},
		{"key": "missing", "value": null, "found": false},
		{"key": "broken", "value": null, "found": false, "error": "Lookup failed"},
		{"key": "profile/image", "value": "\"img\"", "found": true}
	]}`, rec.Body.String(), "items come back in input order with value always present")
}

func TestBatchValidation(t *testing.T) {
	h := NewBatchHandler(testLogger(), storeOf(&fakeReader{}))

	manyKeys := `["` + strings.Repeat(`k", "`, maxBatchKeys) + `k"]`
	for _, tc := range []struct {
		name    string
		body    string
		message string
	}{
		{"bad json", `{"accountId": }`, "request body: must be valid JSON"},
		{"empty account", `{"contractId": "c", "keys": ["k"]}`, "accountId: cannot be empty"},
		{"no keys", `{"accountId": "a", "contractId": "c", "keys": []}`, "keys: cannot be empty"},
		{"too many keys", `{"accountId": "a", "contractId": "c", "keys": ` + manyKeys + `}`, "keys: cannot exceed 100 items"},
		{"empty key", `{"accountId": "a", "contractId": "c", "keys": ["k", ""]}`, "keys[]: cannot be empty"},
		{"long key", `{"accountId": "a", "contractId": "c", "keys": ["` + strings.Repeat("x", 1025) + `"]}`, "keys[]: cannot exceed 1024 characters"},
	} {
		rec := doPost(h, "/v1/kv/batch", tc.body)
		assert.Equal(t, http.StatusBadRequest, rec.Code, tc.name)
		assert.Equal(t, tc.message, apiErrorOf(t, rec).Message, tc.name)
	}
}

func TestBatchDatabaseDown(t *testing.T) {
	h := NewBatchHandler(testLogger(), downStore())

	rec := doPost(h, "/v1/kv/batch", `{"accountId": "a", "contractId": "c", "keys": ["k"]}`)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, CodeDatabaseUnavailable, apiErrorOf(t, rec).Code)
}

func TestBatchAtCapacity(t *testing.T) {
	reader := &fakeReader{
		getLast: func(string, string, string) (*db.Entry, error) { return nil, nil },
	}
	h := NewBatchHandler(testLogger(), storeOf(reader))

	keys := make([]string, 0, maxBatchKeys)
	for i := 0; i < maxBatchKeys; i++ {
		keys = append(keys, "k")
	}
	body := `{"accountId": "a", "contractId": "c", "keys": ["` + strings.Join(keys, `", "`) + `"]}`
	rec := doPost(h, "/v1/kv/batch", body)
	assert.Equal(t, http.StatusOK, rec.Code)
}
