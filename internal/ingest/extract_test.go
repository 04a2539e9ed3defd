package ingest

import (
	"encoding/base64"
	"fmt"
	"io"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Kampouse/kvindexer/internal/upstream"
)

func testLogger() *logrus.Entry {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return logrus.NewEntry(log)
}

func recordWithData(data string) upstream.Record {
	return upstream.Record{
		ReceiptID:        "r1",
		Suffix:           "kv",
		Data:             base64.StdEncoding.EncodeToString([]byte(data)),
		TxHash:           "tx1",
		SignerID:         "signer.near",
		PredecessorID:    "alice.near",
		CurrentAccountID: "social.near",
		BlockHeight:      100,
		BlockTimestamp:   1_700_000_000_000,
		ShardID:          3,
		ReceiptIndex:     7,
		ActionIndex:      9,
	}
}

func TestExtractEntries(t *testing.T) {
	rec := recordWithData(`{
		"profile/name": "Alice",
		"count": 1,
		"gone": null,
		"quoted": "null",
		"nested": {"b": 2, "a": 1}
	}`)

	entries := ExtractEntries(testLogger(), rec, OrderIDDecimal)
	require.Len(t, entries, 5)

	byKey := map[string]string{}
	for _, e := range entries {
		byKey[e.Key] = e.Value
	}
	// Strings keep their quotes, numbers and nested objects compact to their
	// original byte form, JSON null compacts to the deletion literal.
	assert.Equal(t, `"Alice"`, byKey["profile/name"])
	assert.Equal(t, "1", byKey["count"])
	assert.Equal(t, "null", byKey["gone"])
	assert.Equal(t, `"null"`, byKey["quoted"])
	assert.Equal(t, `{"b":2,"a":1}`, byKey["nested"])

	for _, e := range entries {
		assert.Equal(t, "alice.near", e.AccountID)
		assert.Equal(t, "social.near", e.ContractID)
		assert.Equal(t, uint64(100), e.BlockHeight)
		assert.Equal(t, uint64(1_700_000_000_000), e.BlockTimestamp)
		assert.Equal(t, "r1", e.ReceiptID)
		assert.Equal(t, "tx1", e.TxHash)
		assert.Equal(t, "signer.near", e.SignerID)
		// One order id per record, computed from the sharding triple.
		assert.Equal(t, uint64((3*100_000+7)*1_000+9), e.OrderID)
		assert.Equal(t, e.Key == "gone", e.IsDeleted(), e.Key)
	}

	// Entries come out sorted by key.
	assert.Equal(t, "count", entries[0].Key)
	assert.Equal(t, "quoted", entries[4].Key)
}

func TestExtractEntriesDropsUndecodableRecords(t *testing.T) {
	log := testLogger()

	rec := recordWithData(`{"a": 1}`)
	rec.Data = "%%% not base64 %%%"
	assert.Nil(t, ExtractEntries(log, rec, OrderIDDecimal))

	assert.Nil(t, ExtractEntries(log, recordWithData(`[1, 2, 3]`), OrderIDDecimal))
	assert.Nil(t, ExtractEntries(log, recordWithData(`"just a string"`), OrderIDDecimal))
	assert.Nil(t, ExtractEntries(log, recordWithData(`null`), OrderIDDecimal))
	assert.Nil(t, ExtractEntries(log, recordWithData(`{`), OrderIDDecimal))
	assert.Nil(t, ExtractEntries(log, recordWithData(`{}`), OrderIDDecimal))
}

func TestExtractEntriesRejectsWideRecords(t *testing.T) {
	var sb strings.Builder
	sb.WriteString("{")
	for i := 0; i < maxRecordKeys+1; i++ {
		if i > 0 {
			sb.WriteString(",")
		}
		fmt.Fprintf(&sb, `"key%04d": %d`, i, i)
	}
	sb.WriteString("}")

	assert.Nil(t, ExtractEntries(testLogger(), recordWithData(sb.String()), OrderIDDecimal))
}

func TestExtractEntriesSkipsInvalidKeys(t *testing.T) {
	longKey := strings.Repeat("k", maxKeyLength+1)
	rec := recordWithData(fmt.Sprintf(
		`{"": 1, "%s": 2, "bad\u0001key": 3, "ok": 4}`, longKey))

	entries := ExtractEntries(testLogger(), rec, OrderIDDecimal)
	require.Len(t, entries, 1)
	assert.Equal(t, "ok", entries[0].Key)

	// A key at exactly the limit survives.
	exact := strings.Repeat("k", maxKeyLength)
	entries = ExtractEntries(testLogger(), recordWithData(
		fmt.Sprintf(`{"%s": 1}`, exact)), OrderIDDecimal)
	require.Len(t, entries, 1)
	assert.Equal(t, exact, entries[0].Key)
}

func TestDetectEnvelope(t *testing.T) {
	for _, testCase := range []struct {
		value string
		algo  string
	}{
		{`"enc:AES256:deadbeef"`, "AES256"},
		{`"enc:AES256:keyid:payload"`, "AES256"},
		{`"enc:chacha20:x"`, "chacha20"},
		{`"enc:AES256"`, ""},
		{`"enc::payload"`, ""},
		{`"enc:"`, ""},
		{`"hello"`, ""},
		{`"ENC:AES256:x"`, ""},
		{`42`, ""},
		{`null`, ""},
	} {
		assert.Equal(t, testCase.algo, detectEnvelope(testCase.value), testCase.value)
	}
}

func TestExtractEntriesPopulatesEncryptedKeyID(t *testing.T) {
	rec := recordWithData(`{"secret": "enc:AES256:deadbeef", "plain": "x"}`)
	entries := ExtractEntries(testLogger(), rec, OrderIDDecimal)
	require.Len(t, entries, 2)
	assert.Equal(t, "", entries[0].EncryptedKeyID)
	assert.Equal(t, "AES256", entries[1].EncryptedKeyID)
	assert.Equal(t, `"enc:AES256:deadbeef"`, entries[1].Value)
}

func TestComputeOrderID(t *testing.T) {
	assert.Equal(t, uint64(300_007_009), computeOrderID(OrderIDDecimal, 3, 7, 9))
	assert.Equal(t, uint64(0), computeOrderID(OrderIDDecimal, 0, 0, 0))
	assert.Equal(t,
		uint64(3)<<48|uint64(7)<<32|uint64(9),
		computeOrderID(OrderIDBitpacked, 3, 7, 9))
	// Bitpacked masks each component to 16 bits.
	assert.Equal(t,
		uint64(0xFFFF)<<48|uint64(1)<<32,
		computeOrderID(OrderIDBitpacked, 0x1FFFF, 1, 0))

	// Both encodings order entries the same way within a block.
	for _, enc := range []OrderIDEncoding{OrderIDDecimal, OrderIDBitpacked} {
		assert.Less(t,
			computeOrderID(enc, 0, 1, 999),
			computeOrderID(enc, 0, 2, 0), enc.String())
		assert.Less(t,
			computeOrderID(enc, 1, 0, 0),
			computeOrderID(enc, 2, 0, 0), enc.String())
	}
}

func TestParseOrderIDEncoding(t *testing.T) {
	enc, err := ParseOrderIDEncoding("decimal")
	require.NoError(t, err)
	assert.Equal(t, OrderIDDecimal, enc)

	enc, err = ParseOrderIDEncoding("bitpacked")
	require.NoError(t, err)
	assert.Equal(t, OrderIDBitpacked, enc)

	_, err = ParseOrderIDEncoding("hex")
	assert.Error(t, err)
}
