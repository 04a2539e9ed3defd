package db

import (
	"context"
	"fmt"

	"github.com/gocql/gocql"
)

// Reader is the full set of read access patterns the store serves. Every
// pattern is a method, so adding one is a compile-visible interface change
// rather than a new case in a dispatch table.
type Reader interface {
	GetLast(ctx context.Context, accountID, contractID, key string) (*Entry, error)
	GetAtBlock(ctx context.Context, accountID, contractID, key string, blockHeight int64) (*Entry, error)
	ListKeys(ctx context.Context, q ListKeysQuery) (Page[Entry], error)
	History(ctx context.Context, q HistoryQuery) (Page[Entry], error)
	Timeline(ctx context.Context, q TimelineQuery) (Page[Entry], error)
	Writers(ctx context.Context, q WritersQuery) (Page[Entry], error)
	AccountsByContract(ctx context.Context, q AccountsQuery) (Page[string], error)
	AllAccounts(ctx context.Context, limit int, afterAccount string) (Page[string], error)
	ContractsByAccount(ctx context.Context, accountID string, limit int, afterContract string) (Page[string], error)
	AllContracts(ctx context.Context, limit int, afterContract string) (Page[string], error)
	Edges(ctx context.Context, q EdgesQuery) (Page[EdgeSource], error)
	EdgesCount(ctx context.Context, edgeType, target string) (int64, error)
	Checkpoint(ctx context.Context, consumer string) (uint64, bool, error)
	Ping(ctx context.Context) error
}

var _ Reader = (*Session)(nil)

// Page is one page of store results plus the pagination metadata handlers
// surface to clients. NextCursor is derived from the last item whenever the
// page is non-empty; it stays valid even when HasMore is false.
type Page[T any] struct {
	Items       []T
	HasMore     bool
	Truncated   bool
	DroppedRows int
	NextCursor  string
}

func pageOf[T any](res PageResult[T], nextCursor func([]T) string) Page[T] {
	p := Page[T]{
		Items:       res.Items,
		HasMore:     res.HasMore,
		Truncated:   res.Truncated,
		DroppedRows: res.DroppedRows,
	}
	if len(res.Items) > 0 && nextCursor != nil {
		p.NextCursor = nextCursor(res.Items)
	}
	return p
}

// effectiveOffset zeroes the offset when a cursor already positions the
// scan. Handlers reject requests that set both, so this only defends the
// store layer itself.
func effectiveOffset(hasCursor bool, offset int) int {
	if hasCursor {
		return 0
	}
	return offset
}

func scanKvRow(iter *gocql.Iter, r *kvRow) bool {
	return iter.Scan(&r.PredecessorID, &r.CurrentAccountID, &r.Key, &r.Value,
		&r.BlockHeight, &r.BlockTimestamp, &r.ReceiptID, &r.TxHash, &r.EncryptedKeyID)
}

func scanHistoryRow(iter *gocql.Iter, r *historyRow) bool {
	return iter.Scan(&r.PredecessorID, &r.CurrentAccountID, &r.Key, &r.BlockHeight,
		&r.OrderID, &r.Value, &r.BlockTimestamp, &r.ReceiptID, &r.TxHash,
		&r.SignerID, &r.ShardID, &r.ReceiptIndex, &r.ActionIndex, &r.EncryptedKeyID)
}

func scanTimelineRow(iter *gocql.Iter, r *timelineRow) bool {
	return iter.Scan(&r.PredecessorID, &r.CurrentAccountID, &r.BlockHeight, &r.Key,
		&r.OrderID, &r.Value, &r.BlockTimestamp, &r.ReceiptID, &r.TxHash, &r.EncryptedKeyID)
}

func kvRowSource(iter *gocql.Iter) func() (kvRow, bool) {
	return func() (kvRow, bool) {
		var r kvRow
		ok := scanKvRow(iter, &r)
		return r, ok
	}
}

func historyRowSource(iter *gocql.Iter) func() (historyRow, bool) {
	return func() (historyRow, bool) {
		var r historyRow
		ok := scanHistoryRow(iter, &r)
		return r, ok
	}
}

func timelineRowSource(iter *gocql.Iter) func() (timelineRow, bool) {
	return func() (timelineRow, bool) {
		var r timelineRow
		ok := scanTimelineRow(iter, &r)
		return r, ok
	}
}

// GetLast returns the current value of a triple, or nil when the key was
// never written.
func (s *Session) GetLast(ctx context.Context, accountID, contractID, key string) (*Entry, error) {
	iter := s.query(ctx, s.stmts.getKv, accountID, contractID, key)
	var r kvRow
	found := scanKvRow(iter, &r)
	if err := iter.Close(); err != nil {
		return nil, fmt.Errorf("reading current value: %w", err)
	}
	if !found {
		return nil, nil
	}
	e := r.entry()
	return &e, nil
}

// GetAtBlock returns the value a triple held at exactly the given block.
// Several writes can land in one block; the highest order id wins because
// history rows cluster ascending.
func (s *Session) GetAtBlock(ctx context.Context, accountID, contractID, key string, blockHeight int64) (*Entry, error) {
	iter := s.query(ctx, s.stmts.getKvAtBlock, accountID, contractID, key, blockHeight)
	var (
		r    historyRow
		last *Entry
	)
	for scanHistoryRow(iter, &r) {
		e := r.entry()
		last = &e
	}
	if err := iter.Close(); err != nil {
		return nil, fmt.Errorf("reading value at block: %w", err)
	}
	return last, nil
}

// ListKeysQuery selects a slice of a pair's current keys.
type ListKeysQuery struct {
	AccountID      string
	ContractID     string
	Prefix         string
	AfterKey       string
	Limit          int
	Offset         int
	ExcludeDeleted bool
}

func (s *Session) ListKeys(ctx context.Context, q ListKeysQuery) (Page[Entry], error) {
	var iter *gocql.Iter
	switch {
	case q.Prefix != "" && q.AfterKey != "":
		iter = s.query(ctx, s.stmts.prefixCursorQuery,
			q.AccountID, q.ContractID, q.AfterKey, computePrefixEnd(q.Prefix))
	case q.Prefix != "":
		iter = s.query(ctx, s.stmts.prefixQuery,
			q.AccountID, q.ContractID, q.Prefix, computePrefixEnd(q.Prefix))
	case q.AfterKey != "":
		iter = s.query(ctx, s.stmts.queryKvCursor, q.AccountID, q.ContractID, q.AfterKey)
	default:
		iter = s.query(ctx, s.stmts.queryKvNoPrefix, q.AccountID, q.ContractID)
	}

	page := CollectPage(kvRowSource(iter), func(r kvRow) (Entry, RowVerdict) {
		e := r.entry()
		if q.ExcludeDeleted && e.IsDeleted() {
			return Entry{}, RowSkip
		}
		return e, RowKeep
	}, PageParams{Limit: q.Limit, Offset: effectiveOffset(q.AfterKey != "", q.Offset)})

	if err := iter.Close(); err != nil {
		return Page[Entry]{}, fmt.Errorf("listing keys: %w", err)
	}
	return pageOf(page, func(items []Entry) string {
		return items[len(items)-1].Key
	}), nil
}

// HistoryQuery selects a slice of one triple's version history.
type HistoryQuery struct {
	AccountID  string
	ContractID string
	Key        string
	FromBlock  int64
	ToBlock    int64
	Ascending  bool
	Limit      int
	Offset     int
	Cursor     *HistoryCursor
}

func (s *Session) History(ctx context.Context, q HistoryQuery) (Page[Entry], error) {
	from, to := q.FromBlock, q.ToBlock
	if q.Cursor != nil {
		// The cursor block may still hold rows beyond the cursor position,
		// so the range is narrowed to it rather than past it.
		if q.Ascending {
			from = max(from, q.Cursor.BlockHeight)
		} else {
			to = min(to, q.Cursor.BlockHeight)
		}
	}
	st := s.stmts.historyDesc
	if q.Ascending {
		st = s.stmts.historyAsc
	}
	iter := s.query(ctx, st, q.AccountID, q.ContractID, q.Key, from, to)

	page := CollectPage(historyRowSource(iter), func(r historyRow) (Entry, RowVerdict) {
		if q.Cursor != nil && q.Cursor.Excludes(q.Ascending, r.BlockHeight, uint64(r.OrderID)) {
			return Entry{}, RowSkip
		}
		return r.entry(), RowKeep
	}, PageParams{Limit: q.Limit, Offset: effectiveOffset(q.Cursor != nil, q.Offset)})

	if err := iter.Close(); err != nil {
		return Page[Entry]{}, fmt.Errorf("reading history: %w", err)
	}
	return pageOf(page, func(items []Entry) string {
		last := items[len(items)-1]
		return HistoryCursor{BlockHeight: int64(last.BlockHeight), OrderID: last.OrderID}.String()
	}), nil
}

// TimelineQuery selects a slice of a pair's writes ordered by block.
type TimelineQuery struct {
	AccountID  string
	ContractID string
	FromBlock  int64
	ToBlock    int64
	Ascending  bool
	Limit      int
	Cursor     *TimelineCursor
}

func (s *Session) Timeline(ctx context.Context, q TimelineQuery) (Page[Entry], error) {
	from, to := q.FromBlock, q.ToBlock
	if q.Cursor != nil {
		if q.Ascending {
			from = max(from, q.Cursor.BlockHeight)
		} else {
			to = min(to, q.Cursor.BlockHeight)
		}
	}
	st := s.stmts.timelineDesc
	if q.Ascending {
		st = s.stmts.timelineAsc
	}
	iter := s.query(ctx, st, q.AccountID, q.ContractID, from, to)

	page := CollectPage(timelineRowSource(iter), func(r timelineRow) (Entry, RowVerdict) {
		if q.Cursor != nil && q.Cursor.Excludes(q.Ascending, r.BlockHeight, r.Key) {
			return Entry{}, RowSkip
		}
		return r.entry(), RowKeep
	}, PageParams{Limit: q.Limit})

	if err := iter.Close(); err != nil {
		return Page[Entry]{}, fmt.Errorf("reading timeline: %w", err)
	}
	return pageOf(page, func(items []Entry) string {
		last := items[len(items)-1]
		return TimelineCursor{BlockHeight: int64(last.BlockHeight), Key: last.Key}.String()
	}), nil
}

// WritersQuery selects the accounts that currently hold a value for a
// (contract, key) pair, as full entries.
type WritersQuery struct {
	ContractID     string
	Key            string
	AccountID      string // optional: narrow to a single writer
	AfterAccount   string
	Limit          int
	Offset         int
	ExcludeDeleted bool
}

func (s *Session) Writers(ctx context.Context, q WritersQuery) (Page[Entry], error) {
	var iter *gocql.Iter
	if q.AfterAccount != "" {
		iter = s.query(ctx, s.stmts.reverseListCursor, q.ContractID, q.Key, q.AfterAccount)
	} else {
		iter = s.query(ctx, s.stmts.reverseList, q.ContractID, q.Key)
	}

	page := CollectPage(kvRowSource(iter), func(r kvRow) (Entry, RowVerdict) {
		e := r.entry()
		if q.AccountID != "" && e.AccountID != q.AccountID {
			return Entry{}, RowSkip
		}
		if q.ExcludeDeleted && e.IsDeleted() {
			return Entry{}, RowSkip
		}
		return e, RowKeep
	}, PageParams{Limit: q.Limit, Offset: effectiveOffset(q.AfterAccount != "", q.Offset)})

	if err := iter.Close(); err != nil {
		return Page[Entry]{}, fmt.Errorf("listing writers: %w", err)
	}
	return pageOf(page, func(items []Entry) string {
		return items[len(items)-1].AccountID
	}), nil
}
