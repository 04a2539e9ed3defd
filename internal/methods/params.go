package methods

import (
	"math"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/Kampouse/kvindexer/internal/db"
)

const (
	maxOffset          = 100_000
	maxPrefixLength    = 1000
	maxAccountIDLength = 256
	maxKeyLength       = 10_000
	maxBatchKeys       = 100
	maxBatchKeyLength  = 1024
	maxEdgeTypeLength  = 256
	maxScanLimit       = 1000
	maxCursorLength    = 1024

	defaultLimit = 100
)

// queryInt reads an optional non-negative integer parameter, falling back to
// def when absent.
func queryInt(q url.Values, name string, def int) (int, error) {
	raw := q.Get(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, invalidParam("%s: must be a non-negative integer", name)
	}
	return n, nil
}

// queryBool reads an optional boolean parameter, defaulting to false.
func queryBool(q url.Values, name string) (bool, error) {
	raw := q.Get(name)
	if raw == "" {
		return false, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, invalidParam("%s: must be a boolean", name)
	}
	return v, nil
}

// queryInt64 reads an optional signed integer parameter; the second return
// reports presence. Sign validation is left to the caller so range checks
// can produce their own messages.
func queryInt64(q url.Values, name string) (int64, bool, error) {
	raw := q.Get(name)
	if raw == "" {
		return 0, false, nil
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, false, invalidParam("%s: must be an integer", name)
	}
	return n, true, nil
}

func validateAccountID(value, name string) error {
	if value == "" {
		return invalidParam("%s: cannot be empty", name)
	}
	if len(value) > maxAccountIDLength {
		return invalidParam("%s: cannot exceed %d characters", name, maxAccountIDLength)
	}
	return nil
}

func validateKey(value, name string, maxLen int) error {
	if value == "" {
		return invalidParam("%s: cannot be empty", name)
	}
	if len(value) > maxLen {
		return invalidParam("%s: cannot exceed %d characters", name, maxLen)
	}
	return nil
}

func validateLimit(limit int) error {
	if limit == 0 || limit > 1000 {
		return invalidParam("limit: must be between 1 and 1000")
	}
	return nil
}

func validateOffset(offset int) error {
	if offset > maxOffset {
		return invalidParam("offset: cannot exceed %d", maxOffset)
	}
	return nil
}

// validateCursorOrOffset enforces that a cursor and a positive offset are
// mutually exclusive. A present cursor is validated with validateCursor; an
// absent one falls back to the offset bound.
func validateCursorOrOffset(q url.Values, cursorName string, offset int, validateCursor func(string, string) error) error {
	if q.Has(cursorName) {
		if err := validateCursor(q.Get(cursorName), cursorName); err != nil {
			return err
		}
		if offset > 0 {
			return invalidParam("%s: cannot combine with offset", cursorName)
		}
		return nil
	}
	return validateOffset(offset)
}

// validateOrder resolves the order parameter; it reports whether the scan
// is ascending.
func validateOrder(order string) (bool, error) {
	if strings.EqualFold(order, "asc") {
		return true, nil
	}
	if strings.EqualFold(order, "desc") {
		return false, nil
	}
	return false, invalidParam("order: must be 'asc' or 'desc'")
}

func validateBlockRange(fromBlock, toBlock *int64) error {
	if (fromBlock != nil && *fromBlock < 0) || (toBlock != nil && *toBlock < 0) {
		return invalidParam("from_block/to_block: cannot be negative")
	}
	if fromBlock != nil && toBlock != nil && *fromBlock > *toBlock {
		return invalidParam("from_block: must be <= to_block")
	}
	return nil
}

// parseOrderParam resolves order= with its default of newest-first.
func parseOrderParam(q url.Values) (bool, error) {
	if !q.Has("order") {
		return false, nil
	}
	return validateOrder(q.Get("order"))
}

// parseBlockRange reads the optional from_block/to_block window, widening
// absent bounds to the full height range.
func parseBlockRange(q url.Values) (int64, int64, error) {
	from, hasFrom, err := queryInt64(q, "from_block")
	if err != nil {
		return 0, 0, err
	}
	to, hasTo, err := queryInt64(q, "to_block")
	if err != nil {
		return 0, 0, err
	}
	var fromPtr, toPtr *int64
	if hasFrom {
		fromPtr = &from
	}
	if hasTo {
		toPtr = &to
	}
	if err := validateBlockRange(fromPtr, toPtr); err != nil {
		return 0, 0, err
	}
	if !hasTo {
		to = math.MaxInt64
	}
	return from, to, nil
}

func validatePrefix(q url.Values) error {
	if !q.Has("key_prefix") {
		return nil
	}
	p := q.Get("key_prefix")
	if p == "" {
		return invalidParam("key_prefix: cannot be empty (omit to skip filtering)")
	}
	if len(p) > maxPrefixLength {
		return invalidParam("key_prefix: cannot exceed %d characters", maxPrefixLength)
	}
	return nil
}

// validateOpaqueCursor bounds history and timeline cursors before they are
// parsed. An empty cursor string is allowed and behaves as if absent.
func validateOpaqueCursor(cursor string) error {
	if len(cursor) > maxCursorLength {
		return invalidParam("cursor: exceeds max length")
	}
	return nil
}

func parseHistoryCursor(raw string) (db.HistoryCursor, error) {
	block, order, ok := strings.Cut(raw, ":")
	if !ok {
		return db.HistoryCursor{}, invalidParam("cursor: expected format block_height:order_id")
	}
	height, err := strconv.ParseInt(block, 10, 64)
	if err != nil {
		return db.HistoryCursor{}, invalidParam("cursor: block_height must be a non-negative integer")
	}
	if height < 0 {
		return db.HistoryCursor{}, invalidParam("cursor: block_height must be non-negative")
	}
	orderID, err := strconv.ParseUint(order, 10, 64)
	if err != nil {
		return db.HistoryCursor{}, invalidParam("cursor: order_id must be an integer")
	}
	return db.HistoryCursor{BlockHeight: height, OrderID: orderID}, nil
}

func parseTimelineCursor(raw string) (db.TimelineCursor, error) {
	block, key, ok := strings.Cut(raw, ":")
	if !ok {
		return db.TimelineCursor{}, invalidParam("cursor: expected format block_height:key")
	}
	height, err := strconv.ParseInt(block, 10, 64)
	if err != nil {
		return db.TimelineCursor{}, invalidParam("cursor: block_height must be a non-negative integer")
	}
	if height < 0 {
		return db.TimelineCursor{}, invalidParam("cursor: block_height must be non-negative")
	}
	return db.TimelineCursor{BlockHeight: height, Key: key}, nil
}

// clientIP picks the address used as the throttle key. The rightmost
// X-Forwarded-For entry is the one appended by the trusted proxy hop; a CDN
// in front would require skipping further hops from the right.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		parts := strings.Split(xff, ",")
		last := strings.TrimSpace(parts[len(parts)-1])
		if last != "" && last != "unknown" {
			return last
		}
	}
	if rip := strings.TrimSpace(r.Header.Get("X-Real-IP")); rip != "" && rip != "unknown" {
		return rip
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil && host != "" {
		return host
	}
	if r.RemoteAddr != "" {
		return r.RemoteAddr
	}
	return "unknown"
}
