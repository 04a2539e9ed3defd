package db

import (
	"context"
	"fmt"

	"github.com/gocql/gocql"
)

// MaxDedupScan bounds how many rows a deduplicating discovery scan may pull
// before giving up and reporting the page truncated.
const MaxDedupScan = 100_000

// AccountsQuery lists the accounts that ever wrote to a contract, optionally
// narrowed to a single key.
type AccountsQuery struct {
	ContractID   string
	Key          string // optional: rows are unique per key, so no dedup needed
	Limit        int
	Offset       int
	AfterAccount string
}

// AccountsByContract scans the discovery table. Without a key filter the
// table holds one row per (key, account) pair, so account ids repeat and the
// scan deduplicates with a bounded seen set.
func (s *Session) AccountsByContract(ctx context.Context, q AccountsQuery) (Page[string], error) {
	needsDedup := q.Key == ""

	var iter *gocql.Iter
	if q.Key != "" {
		iter = s.query(ctx, s.stmts.accountsByContractKey, q.ContractID, q.Key)
	} else {
		iter = s.query(ctx, s.stmts.accountsByContract, q.ContractID)
	}

	var (
		seen      map[string]struct{}
		accounts  []string
		truncated bool
	)
	if needsDedup {
		seen = make(map[string]struct{})
	}
	targetCount := q.Offset + q.Limit + 1

	var account string
	for iter.Scan(&account) {
		if needsDedup && len(seen) >= MaxDedupScan {
			truncated = true
			break
		}
		if needsDedup {
			if _, ok := seen[account]; ok {
				continue
			}
			seen[account] = struct{}{}
		}
		// A cursor resumes strictly after the last returned id.
		if q.AfterAccount != "" && account <= q.AfterAccount {
			continue
		}
		accounts = append(accounts, account)
		if len(accounts) >= targetCount {
			break
		}
	}
	if err := iter.Close(); err != nil {
		return Page[string]{}, fmt.Errorf("listing accounts: %w", err)
	}

	if q.AfterAccount == "" && q.Offset > 0 {
		if q.Offset >= len(accounts) {
			accounts = nil
		} else {
			accounts = accounts[q.Offset:]
		}
	}
	page := Page[string]{Items: accounts, Truncated: truncated}
	if len(page.Items) > q.Limit {
		page.HasMore = true
		page.Items = page.Items[:q.Limit]
	}
	if len(page.Items) > 0 {
		page.NextCursor = page.Items[len(page.Items)-1]
	}
	return page, nil
}

// AllAccounts pages through every account that ever wrote, in token order.
//
// Known limitation: the cursor resumes with TOKEN(id) > TOKEN(cursor), so a
// different id sharing the cursor's token position would be skipped. With a
// 64-bit token space that collision is vanishingly unlikely. The cursor id
// itself can reappear at its own token position and is skipped below.
func (s *Session) AllAccounts(ctx context.Context, limit int, afterAccount string) (Page[string], error) {
	var iter *gocql.Iter
	if afterAccount != "" {
		iter = s.query(ctx, s.stmts.accountsAllCursor, afterAccount)
	} else {
		iter = s.query(ctx, s.stmts.accountsAll)
	}

	skippedCursor := false
	page := CollectPage(stringRowSource(iter), func(account string) (string, RowVerdict) {
		if !skippedCursor && afterAccount != "" && account == afterAccount {
			skippedCursor = true
			return "", RowSkip
		}
		return account, RowKeep
	}, PageParams{Limit: limit})

	if err := iter.Close(); err != nil {
		return Page[string]{}, fmt.Errorf("scanning accounts: %w", err)
	}
	return pageOf(page, func(items []string) string {
		return items[len(items)-1]
	}), nil
}

// AllContracts pages through every contract present in the discovery table,
// in token order. Rows within a partition share the contract id, so
// consecutive duplicates collapse before the cursor check.
func (s *Session) AllContracts(ctx context.Context, limit int, afterContract string) (Page[string], error) {
	var iter *gocql.Iter
	if afterContract != "" {
		iter = s.query(ctx, s.stmts.contractsAllCursor, afterContract)
	} else {
		iter = s.query(ctx, s.stmts.contractsAll)
	}

	pastCursor := afterContract == ""
	var (
		lastContract string
		haveLast     bool
	)
	page := CollectPage(stringRowSource(iter), func(contract string) (string, RowVerdict) {
		if haveLast && contract == lastContract {
			return "", RowSkip
		}
		lastContract, haveLast = contract, true
		if !pastCursor {
			if contract == afterContract {
				return "", RowSkip
			}
			pastCursor = true
		}
		return contract, RowKeep
	}, PageParams{Limit: limit})

	if err := iter.Close(); err != nil {
		return Page[string]{}, fmt.Errorf("scanning contracts: %w", err)
	}
	return pageOf(page, func(items []string) string {
		return items[len(items)-1]
	}), nil
}

// ContractsByAccount lists the contracts one account has written to. This is
// a single-partition scan of the current projection; contract ids cluster
// ascending, so consecutive dedup and a lexicographic cursor skip suffice.
func (s *Session) ContractsByAccount(ctx context.Context, accountID string, limit int, afterContract string) (Page[string], error) {
	iter := s.query(ctx, s.stmts.contractsByAccount, accountID)

	pastCursor := afterContract == ""
	var (
		lastContract string
		haveLast     bool
	)
	next := func() (string, bool) {
		var contract, key string
		ok := iter.Scan(&contract, &key)
		return contract, ok
	}
	page := CollectPage(next, func(contract string) (string, RowVerdict) {
		if haveLast && contract == lastContract {
			return "", RowSkip
		}
		lastContract, haveLast = contract, true
		if !pastCursor {
			if contract <= afterContract {
				return "", RowSkip
			}
			pastCursor = true
		}
		return contract, RowKeep
	}, PageParams{Limit: limit})

	if err := iter.Close(); err != nil {
		return Page[string]{}, fmt.Errorf("listing contracts: %w", err)
	}
	return pageOf(page, func(items []string) string {
		return items[len(items)-1]
	}), nil
}

// EdgesQuery lists the sources attached to an (edge type, target) pair.
type EdgesQuery struct {
	EdgeType    string
	Target      string
	Limit       int
	Offset      int
	AfterSource string
}

func (s *Session) Edges(ctx context.Context, q EdgesQuery) (Page[EdgeSource], error) {
	var iter *gocql.Iter
	if q.AfterSource != "" {
		iter = s.query(ctx, s.stmts.edgesListCursor, q.EdgeType, q.Target, q.AfterSource)
	} else {
		iter = s.query(ctx, s.stmts.edgesList, q.EdgeType, q.Target)
	}

	next := func() (EdgeSource, bool) {
		var (
			source string
			height int64
		)
		ok := iter.Scan(&source, &height)
		return EdgeSource{Source: source, BlockHeight: clampUint64(height)}, ok
	}
	page := CollectPage(next, func(e EdgeSource) (EdgeSource, RowVerdict) {
		return e, RowKeep
	}, PageParams{Limit: q.Limit, Offset: effectiveOffset(q.AfterSource != "", q.Offset)})

	if err := iter.Close(); err != nil {
		return Page[EdgeSource]{}, fmt.Errorf("listing edges: %w", err)
	}
	return pageOf(page, func(items []EdgeSource) string {
		return items[len(items)-1].Source
	}), nil
}

func (s *Session) EdgesCount(ctx context.Context, edgeType, target string) (int64, error) {
	var count int64
	q := s.db.Query(s.stmts.edgesCount.text, edgeType, target).
		WithContext(ctx).Consistency(s.stmts.edgesCount.cons)
	if err := q.Scan(&count); err != nil {
		return 0, fmt.Errorf("counting edges: %w", err)
	}
	if count < 0 {
		count = 0
	}
	return count, nil
}

func stringRowSource(iter *gocql.Iter) func() (string, bool) {
	return func() (string, bool) {
		var v string
		ok := iter.Scan(&v)
		return v, ok
	}
}
