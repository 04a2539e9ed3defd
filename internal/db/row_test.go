package db

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEntryIsDeleted(t *testing.T) {
	assert.True(t, Entry{Value: "null"}.IsDeleted())
	// The JSON string "null" keeps its quotes when stored and is live.
	assert.False(t, Entry{Value: `"null"`}.IsDeleted())
	assert.False(t, Entry{Value: "0"}.IsDeleted())
	assert.False(t, Entry{Value: ""}.IsDeleted())
}

func TestClampUint64(t *testing.T) {
	assert.Equal(t, uint64(0), clampUint64(-1))
	assert.Equal(t, uint64(0), clampUint64(0))
	assert.Equal(t, uint64(42), clampUint64(42))
}

func TestHistoryRowEntryKeepsOrderBits(t *testing.T) {
	// Order ids use the full unsigned range; the store hands them back as
	// signed bigints and the conversion must preserve the bit pattern.
	r := historyRow{OrderID: -1}
	assert.Equal(t, uint64(18_446_744_073_709_551_615), r.entry().OrderID)
}
