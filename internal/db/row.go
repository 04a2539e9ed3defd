package db

// deletionSentinel is the stored value that marks a key as deleted. It is the
// compact JSON serialization of null; the JSON string "null" serializes with
// quotes and is a live value.
const deletionSentinel = "null"

// Entry is one indexed key/value version together with its provenance.
// AccountID is the transaction signer that wrote the entry and ContractID is
// the account whose state was written.
type Entry struct {
	AccountID      string
	ContractID     string
	Key            string
	Value          string
	BlockHeight    uint64
	BlockTimestamp uint64
	ReceiptID      string
	TxHash         string
	SignerID       string
	EncryptedKeyID string
	OrderID        uint64
	ShardID        uint32
	ReceiptIndex   uint32
	ActionIndex    uint32
}

// IsDeleted reports whether the entry is a deletion marker.
func (e Entry) IsDeleted() bool {
	return e.Value == deletionSentinel
}

// EdgeSource is one source account attached to an (edge type, target) pair.
type EdgeSource struct {
	Source      string
	BlockHeight uint64
}

// kvRow mirrors the current-projection column list.
type kvRow struct {
	PredecessorID    string
	CurrentAccountID string
	Key              string
	Value            string
	BlockHeight      int64
	BlockTimestamp   int64
	ReceiptID        string
	TxHash           string
	EncryptedKeyID   string
}

func (r kvRow) entry() Entry {
	return Entry{
		AccountID:      r.PredecessorID,
		ContractID:     r.CurrentAccountID,
		Key:            r.Key,
		Value:          r.Value,
		BlockHeight:    clampUint64(r.BlockHeight),
		BlockTimestamp: clampUint64(r.BlockTimestamp),
		ReceiptID:      r.ReceiptID,
		TxHash:         r.TxHash,
		EncryptedKeyID: r.EncryptedKeyID,
	}
}

// historyRow mirrors the history column list, which additionally projects the
// ordering and sharding provenance.
type historyRow struct {
	PredecessorID    string
	CurrentAccountID string
	Key              string
	BlockHeight      int64
	OrderID          int64
	Value            string
	BlockTimestamp   int64
	ReceiptID        string
	TxHash           string
	SignerID         string
	ShardID          int32
	ReceiptIndex     int32
	ActionIndex      int32
	EncryptedKeyID   string
}

func (r historyRow) entry() Entry {
	return Entry{
		AccountID:      r.PredecessorID,
		ContractID:     r.CurrentAccountID,
		Key:            r.Key,
		Value:          r.Value,
		BlockHeight:    clampUint64(r.BlockHeight),
		BlockTimestamp: clampUint64(r.BlockTimestamp),
		ReceiptID:      r.ReceiptID,
		TxHash:         r.TxHash,
		SignerID:       r.SignerID,
		EncryptedKeyID: r.EncryptedKeyID,
		OrderID:        uint64(r.OrderID),
		ShardID:        uint32(r.ShardID),
		ReceiptIndex:   uint32(r.ReceiptIndex),
		ActionIndex:    uint32(r.ActionIndex),
	}
}

// timelineRow mirrors the per-pair timeline column list. Rows are
// self-contained: they carry the value and provenance alongside the
// (block height, key) clustering position.
type timelineRow struct {
	PredecessorID    string
	CurrentAccountID string
	BlockHeight      int64
	Key              string
	OrderID          int64
	Value            string
	BlockTimestamp   int64
	ReceiptID        string
	TxHash           string
	EncryptedKeyID   string
}

func (r timelineRow) entry() Entry {
	return Entry{
		AccountID:      r.PredecessorID,
		ContractID:     r.CurrentAccountID,
		Key:            r.Key,
		Value:          r.Value,
		BlockHeight:    clampUint64(r.BlockHeight),
		BlockTimestamp: clampUint64(r.BlockTimestamp),
		ReceiptID:      r.ReceiptID,
		TxHash:         r.TxHash,
		EncryptedKeyID: r.EncryptedKeyID,
		OrderID:        uint64(r.OrderID),
	}
}

// clampUint64 converts a store bigint to the unsigned domain, flooring
// negatives at zero.
func clampUint64(v int64) uint64 {
	if v < 0 {
		return 0
	}
	return uint64(v)
}
