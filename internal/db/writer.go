package db

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gocql/gocql"
)

// ReadWriter is the slice of the store the ingestion pipeline depends on.
type ReadWriter interface {
	ApplyEntries(ctx context.Context, entries []Entry) error
	SetCheckpoint(ctx context.Context, consumer string, height uint64) error
	Checkpoint(ctx context.Context, consumer string) (uint64, bool, error)
}

var _ ReadWriter = (*Session)(nil)

// writeStamp issues strictly increasing microsecond timestamps for entry
// batches. Entries inside one flush are applied in order, and storage-level
// last-write-wins reconciliation has to agree with that order even when the
// wall clock does not advance between two batches.
var writeStamp atomic.Int64

func nextWriteTimestamp() int64 {
	for {
		now := time.Now().UnixMicro()
		prev := writeStamp.Load()
		if now <= prev {
			now = prev + 1
		}
		if writeStamp.CompareAndSwap(prev, now) {
			return now
		}
	}
}

// ApplyEntries persists a batch of extracted entries across every projection:
// the append-only history, the latest-value row, the per-block view, the
// reverse (writer) index, the account discovery tables, and the edge table
// for graph-shaped keys.
//
// Entries are applied one at a time in (block height, order id) order, each
// as a single unlogged batch stamped with a monotone write timestamp. There
// is no cross-entry atomicity; a failed batch leaves earlier entries
// persisted, and callers recover by replaying from the last checkpoint.
// Every row is keyed by (predecessor, account, key) plus the order columns,
// so replays converge on the same state.
func (s *Session) ApplyEntries(ctx context.Context, entries []Entry) error {
	if len(entries) == 0 {
		return nil
	}
	sorted := make([]Entry, len(entries))
	copy(sorted, entries)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].BlockHeight != sorted[j].BlockHeight {
			return sorted[i].BlockHeight < sorted[j].BlockHeight
		}
		return sorted[i].OrderID < sorted[j].OrderID
	})

	for i := range sorted {
		if err := s.applyEntry(ctx, &sorted[i]); err != nil {
			return fmt.Errorf("applying entry %s/%s/%s at block %d: %w",
				sorted[i].AccountID, sorted[i].ContractID, sorted[i].Key,
				sorted[i].BlockHeight, err)
		}
	}
	return nil
}

func (s *Session) applyEntry(ctx context.Context, e *Entry) error {
	height := int64(e.BlockHeight)
	timestamp := int64(e.BlockTimestamp)
	orderID := int64(e.OrderID)

	batch := s.db.NewBatch(gocql.UnloggedBatch).WithContext(ctx)
	batch.Cons = gocql.LocalQuorum
	batch.WithTimestamp(nextWriteTimestamp())

	// s_kv and s_kv_last share one column layout; the history table keeps
	// every version, the last table overwrites in place.
	baseArgs := []any{
		e.ReceiptID, int(e.ActionIndex), e.TxHash, e.SignerID,
		e.AccountID, e.ContractID, height, timestamp,
		int(e.ShardID), int(e.ReceiptIndex), orderID,
		e.Key, e.Value, e.EncryptedKeyID,
	}
	batch.Query(s.stmts.insertHistory.text, baseArgs...)
	batch.Query(s.stmts.insertLast.text, baseArgs...)

	batch.Query(s.stmts.insertByBlock.text,
		e.AccountID, e.ContractID, height, e.Key, e.Value,
		timestamp, orderID, e.ReceiptID, e.TxHash, e.EncryptedKeyID)

	batch.Query(s.stmts.insertReverse.text,
		e.ContractID, e.Key, e.AccountID, e.ReceiptID, int(e.ActionIndex),
		e.TxHash, e.SignerID, height, timestamp,
		int(e.ShardID), int(e.ReceiptIndex), orderID,
		e.Value, e.EncryptedKeyID)

	batch.Query(s.stmts.insertAccounts.text, e.ContractID, e.Key, e.AccountID)
	batch.Query(s.stmts.insertAllAccounts.text, e.AccountID, height, timestamp)

	if edgeType, target, ok := parseEdgeKey(e.Key); ok {
		if e.IsDeleted() {
			batch.Query(s.stmts.deleteEdge.text, edgeType, target, e.AccountID)
		} else {
			batch.Query(s.stmts.insertEdge.text,
				edgeType, target, e.AccountID, e.ContractID,
				height, timestamp, orderID, e.Value)
		}
	}

	return s.db.ExecuteBatch(batch)
}

// parseEdgeKey recognizes keys of the form graph/{edge_type}/{target} with
// exactly three non-empty segments. Anything else is an ordinary key.
func parseEdgeKey(key string) (edgeType, target string, ok bool) {
	rest, found := strings.CutPrefix(key, "graph/")
	if !found {
		return "", "", false
	}
	edgeType, target, found = strings.Cut(rest, "/")
	if !found || edgeType == "" || target == "" || strings.Contains(target, "/") {
		return "", "", false
	}
	return edgeType, target, true
}
