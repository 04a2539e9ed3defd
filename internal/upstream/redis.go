// Package upstream reads the change store the producing pipeline maintains in
// Redis: a per-suffix watermark and the fastdata records behind it.
package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// scanPageSize bounds one index read and the MGET that follows it.
const scanPageSize = 100

// Record is one upstream fastdata record as serialized by the producer.
// Data is the base64-encoded payload; everything else is provenance.
type Record struct {
	ReceiptID        string `json:"receipt_id"`
	ActionIndex      uint32 `json:"action_index"`
	Suffix           string `json:"suffix"`
	Data             string `json:"data"`
	TxHash           string `json:"tx_hash,omitempty"`
	SignerID         string `json:"signer_id"`
	PredecessorID    string `json:"predecessor_id"`
	CurrentAccountID string `json:"current_account_id"`
	BlockHeight      uint64 `json:"block_height"`
	BlockTimestamp   uint64 `json:"block_timestamp"`
	ShardID          uint32 `json:"shard_id"`
	ReceiptIndex     uint32 `json:"receipt_index"`
}

// Client is a read-only view of the producer's keyspace for one chain.
//
// Layout:
//
//	checkpoint:{chain}:{suffix}                        watermark, decimal height
//	fastdata:{chain}:{suffix}:{height}:{receipt_id}    record JSON, expiring
//	fastdata:{chain}:{suffix}:index                    sorted set, member
//	                                                   "{height}:{receipt_id}",
//	                                                   score = height
type Client struct {
	log   *logrus.Entry
	rdb   *redis.Client
	chain string
}

// NewClient connects and verifies the server is reachable.
func NewClient(ctx context.Context, log *logrus.Entry, url, chainID string) (*Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("pinging redis: %w", err)
	}
	return &Client{log: log, rdb: rdb, chain: chainID}, nil
}

func (c *Client) Close() error {
	return c.rdb.Close()
}

func (c *Client) checkpointKey(suffix string) string {
	return fmt.Sprintf("checkpoint:%s:%s", c.chain, suffix)
}

func (c *Client) recordKey(suffix string, height uint64, receiptID string) string {
	return fmt.Sprintf("fastdata:%s:%s:%d:%s", c.chain, suffix, height, receiptID)
}

func (c *Client) indexKey(suffix string) string {
	return fmt.Sprintf("fastdata:%s:%s:index", c.chain, suffix)
}

// ReadWatermark returns the highest block height the producer has fully
// written for a suffix. ok is false when the producer has not checkpointed
// yet, which is not an error.
func (c *Client) ReadWatermark(ctx context.Context, suffix string) (uint64, bool, error) {
	val, err := c.rdb.Get(ctx, c.checkpointKey(suffix)).Result()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("reading watermark: %w", err)
	}
	height, err := strconv.ParseUint(val, 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("parsing watermark %q: %w", val, err)
	}
	return height, true, nil
}

// ScanRange streams every stored record with block height in [from, to] to fn
// in ascending height order. Records that expired out from under their index
// member, and members that no longer parse, are logged and skipped; the
// producer trims the index lazily so both are expected during normal
// operation. Returns the highest delivered height and whether anything was
// delivered at all.
func (c *Client) ScanRange(ctx context.Context, suffix string, from, to uint64, fn func(Record) error) (uint64, bool, error) {
	var (
		highest uint64
		sawData bool
		offset  int64
	)
	rangeBy := &redis.ZRangeBy{
		Min:   strconv.FormatUint(from, 10),
		Max:   strconv.FormatUint(to, 10),
		Count: scanPageSize,
	}
	for {
		rangeBy.Offset = offset
		members, err := c.rdb.ZRangeByScore(ctx, c.indexKey(suffix), rangeBy).Result()
		if err != nil {
			return 0, false, fmt.Errorf("scanning range index: %w", err)
		}
		if len(members) == 0 {
			return highest, sawData, nil
		}
		offset += int64(len(members))

		keys := make([]string, 0, len(members))
		for _, member := range members {
			heightStr, receiptID, ok := strings.Cut(member, ":")
			if !ok {
				c.log.WithField("member", member).Warn("skipping malformed index member")
				continue
			}
			height, err := strconv.ParseUint(heightStr, 10, 64)
			if err != nil {
				c.log.WithField("member", member).Warn("skipping index member with bad height")
				continue
			}
			keys = append(keys, c.recordKey(suffix, height, receiptID))
		}
		if len(keys) > 0 {
			vals, err := c.rdb.MGet(ctx, keys...).Result()
			if err != nil {
				return 0, false, fmt.Errorf("fetching records: %w", err)
			}
			for i, val := range vals {
				if val == nil {
					c.log.WithField("key", keys[i]).Debug("record expired before scan")
					continue
				}
				raw, ok := val.(string)
				if !ok {
					c.log.WithField("key", keys[i]).Warn("skipping record with unexpected type")
					continue
				}
				var rec Record
				if err := json.Unmarshal([]byte(raw), &rec); err != nil {
					c.log.WithField("key", keys[i]).WithError(err).Warn("skipping unparseable record")
					continue
				}
				if err := fn(rec); err != nil {
					return 0, false, err
				}
				if rec.BlockHeight > highest {
					highest = rec.BlockHeight
				}
				sawData = true
			}
		}

		if len(members) < scanPageSize {
			return highest, sawData, nil
		}
	}
}
