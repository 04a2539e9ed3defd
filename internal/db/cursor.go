package db

import (
	"fmt"
	"strconv"
	"strings"
)

// HistoryCursor identifies a position within the version history of a single
// key. History rows are totally ordered by (block height, order id), so the
// pair is enough to resume a scan in either direction.
type HistoryCursor struct {
	BlockHeight int64
	OrderID     uint64
}

// String returns the wire representation, "{blockHeight}:{orderId}".
func (c HistoryCursor) String() string {
	return fmt.Sprintf("%d:%d", c.BlockHeight, c.OrderID)
}

// Excludes reports whether a row in the cursor block was already delivered
// by the page this cursor came from. Rows outside the cursor block are never
// excluded; narrowing the block range handles those.
func (c HistoryCursor) Excludes(ascending bool, blockHeight int64, orderID uint64) bool {
	if blockHeight != c.BlockHeight {
		return false
	}
	if ascending {
		return orderID <= c.OrderID
	}
	return orderID >= c.OrderID
}

// ParseHistoryCursor parses the wire representation produced by
// HistoryCursor.String.
func ParseHistoryCursor(s string) (HistoryCursor, error) {
	block, order, ok := strings.Cut(s, ":")
	if !ok {
		return HistoryCursor{}, fmt.Errorf("invalid history cursor %q: expected blockHeight:orderId", s)
	}
	height, err := strconv.ParseInt(block, 10, 64)
	if err != nil || height < 0 {
		return HistoryCursor{}, fmt.Errorf("invalid history cursor %q: bad block height", s)
	}
	orderID, err := strconv.ParseUint(order, 10, 64)
	if err != nil {
		return HistoryCursor{}, fmt.Errorf("invalid history cursor %q: bad order id", s)
	}
	return HistoryCursor{BlockHeight: height, OrderID: orderID}, nil
}

// TimelineCursor identifies a position within the per-pair timeline. The key
// is kept verbatim after the first separator, so keys containing ':' survive
// a round trip.
type TimelineCursor struct {
	BlockHeight int64
	Key         string
}

// String returns the wire representation, "{blockHeight}:{key}".
func (c TimelineCursor) String() string {
	return fmt.Sprintf("%d:%s", c.BlockHeight, c.Key)
}

// Excludes reports whether a row in the cursor block was already delivered
// by the page this cursor came from. Keys cluster ascending on descending
// reads and descending on ascending reads, so the comparison flips with the
// scan direction.
func (c TimelineCursor) Excludes(ascending bool, blockHeight int64, key string) bool {
	if blockHeight != c.BlockHeight {
		return false
	}
	if ascending {
		return key >= c.Key
	}
	return key <= c.Key
}

// ParseTimelineCursor parses the wire representation produced by
// TimelineCursor.String.
func ParseTimelineCursor(s string) (TimelineCursor, error) {
	block, key, ok := strings.Cut(s, ":")
	if !ok {
		return TimelineCursor{}, fmt.Errorf("invalid timeline cursor %q: expected blockHeight:key", s)
	}
	height, err := strconv.ParseInt(block, 10, 64)
	if err != nil || height < 0 {
		return TimelineCursor{}, fmt.Errorf("invalid timeline cursor %q: bad block height", s)
	}
	return TimelineCursor{BlockHeight: height, Key: key}, nil
}
