package ingest

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"unicode"

	"github.com/sirupsen/logrus"

	"github.com/Kampouse/kvindexer/internal/db"
	"github.com/Kampouse/kvindexer/internal/upstream"
)

const (
	// maxRecordKeys rejects records whose payload fans out implausibly wide.
	maxRecordKeys = 256
	// maxKeyLength drops individual oversized keys.
	maxKeyLength = 1024
)

// OrderIDEncoding selects how (shard id, receipt index, action index)
// collapse into the order id that sorts entries within a block.
type OrderIDEncoding int

const (
	// OrderIDDecimal spreads the triple over decimal digit groups, which
	// keeps ids readable in dumps.
	OrderIDDecimal OrderIDEncoding = iota
	// OrderIDBitpacked packs the triple into 16-bit fields.
	OrderIDBitpacked
)

func (e OrderIDEncoding) String() string {
	if e == OrderIDBitpacked {
		return "bitpacked"
	}
	return "decimal"
}

// ParseOrderIDEncoding maps a configuration value to an encoding. The
// encoding is fixed per deployment; ids from different encodings never mix.
func ParseOrderIDEncoding(s string) (OrderIDEncoding, error) {
	switch s {
	case "decimal":
		return OrderIDDecimal, nil
	case "bitpacked":
		return OrderIDBitpacked, nil
	default:
		return OrderIDDecimal, fmt.Errorf("unknown order id encoding %q, expected decimal or bitpacked", s)
	}
}

func computeOrderID(enc OrderIDEncoding, shardID, receiptIndex, actionIndex uint32) uint64 {
	if enc == OrderIDBitpacked {
		return uint64(shardID&0xFFFF)<<48 |
			uint64(receiptIndex&0xFFFF)<<32 |
			uint64(actionIndex&0xFFFF)
	}
	return (uint64(shardID)*100_000+uint64(receiptIndex))*1_000 + uint64(actionIndex)
}

// ExtractEntries expands one fastdata record into indexable entries. The
// payload must be a base64-encoded JSON object; every top-level pair becomes
// one entry. Records that do not decode, or that carry more than
// maxRecordKeys pairs, are dropped whole. Keys that are empty, oversized, or
// contain control characters are skipped individually.
//
// Values are stored in compact JSON form, so strings keep their quotes and a
// JSON null becomes the four byte literal that marks a deletion. The JSON
// string "null" keeps its quotes and stays a live value.
func ExtractEntries(log *logrus.Entry, rec upstream.Record, enc OrderIDEncoding) []db.Entry {
	payload, err := base64.StdEncoding.DecodeString(rec.Data)
	if err != nil {
		log.WithField("receipt", rec.ReceiptID).WithError(err).
			Warn("dropping record with undecodable payload")
		return nil
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(payload, &fields); err != nil || fields == nil {
		log.WithField("receipt", rec.ReceiptID).WithError(err).
			Warn("dropping record with non-object payload")
		return nil
	}
	if len(fields) > maxRecordKeys {
		log.WithFields(logrus.Fields{
			"receipt": rec.ReceiptID,
			"keys":    len(fields),
		}).Warn("dropping record with too many keys")
		return nil
	}

	keys := make([]string, 0, len(fields))
	for key := range fields {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	orderID := computeOrderID(enc, rec.ShardID, rec.ReceiptIndex, rec.ActionIndex)
	entries := make([]db.Entry, 0, len(fields))
	for _, key := range keys {
		if key == "" || len(key) > maxKeyLength || hasControl(key) {
			log.WithField("receipt", rec.ReceiptID).Debug("skipping invalid key")
			continue
		}
		value, err := compactValue(fields[key])
		if err != nil {
			log.WithField("receipt", rec.ReceiptID).WithError(err).
				Warn("skipping key with unserializable value")
			continue
		}
		entries = append(entries, db.Entry{
			AccountID:      rec.PredecessorID,
			ContractID:     rec.CurrentAccountID,
			Key:            key,
			Value:          value,
			BlockHeight:    rec.BlockHeight,
			BlockTimestamp: rec.BlockTimestamp,
			ReceiptID:      rec.ReceiptID,
			TxHash:         rec.TxHash,
			SignerID:       rec.SignerID,
			EncryptedKeyID: detectEnvelope(value),
			OrderID:        orderID,
			ShardID:        rec.ShardID,
			ReceiptIndex:   rec.ReceiptIndex,
			ActionIndex:    rec.ActionIndex,
		})
	}
	if len(entries) == 0 {
		return nil
	}
	return entries
}

// compactValue strips insignificant whitespace without reparsing the value,
// so nested object key order and number formatting survive verbatim.
func compactValue(raw json.RawMessage) (string, error) {
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func hasControl(s string) bool {
	return strings.ContainsFunc(s, unicode.IsControl)
}

// detectEnvelope returns the algorithm tag of an encryption envelope value,
// "enc:{algorithm}:{ciphertext}", or "" when the value is not enveloped.
func detectEnvelope(value string) string {
	s := strings.Trim(value, `"`)
	rest, found := strings.CutPrefix(s, "enc:")
	if !found {
		return ""
	}
	algo, _, found := strings.Cut(rest, ":")
	if !found || algo == "" {
		return ""
	}
	return algo
}
