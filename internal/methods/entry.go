package methods

import (
	"encoding/json"
	"sort"
	"strings"

	"github.com/Kampouse/kvindexer/internal/db"
)

// entryJSON is the client-facing entry shape. accountId carries the
// predecessor (writer) and contractId the account the data lives under.
type entryJSON struct {
	AccountID      string `json:"accountId"`
	ContractID     string `json:"contractId"`
	Key            string `json:"key"`
	Value          string `json:"value"`
	BlockHeight    uint64 `json:"blockHeight"`
	BlockTimestamp uint64 `json:"blockTimestamp"`
	ReceiptID      string `json:"receiptId"`
	TxHash         string `json:"txHash"`
	IsDeleted      bool   `json:"isDeleted,omitempty"`
	EncryptedKeyID string `json:"encryptedKeyId,omitempty"`
}

func newEntryJSON(e db.Entry) entryJSON {
	return entryJSON{
		AccountID:      e.AccountID,
		ContractID:     e.ContractID,
		Key:            e.Key,
		Value:          e.Value,
		BlockHeight:    e.BlockHeight,
		BlockTimestamp: e.BlockTimestamp,
		ReceiptID:      e.ReceiptID,
		TxHash:         e.TxHash,
		IsDeleted:      e.IsDeleted(),
		EncryptedKeyID: e.EncryptedKeyID,
	}
}

// fieldSet is a parsed fields= selection; nil means no projection.
type fieldSet map[string]bool

var validFields = []string{
	"accountId",
	"contractId",
	"key",
	"value",
	"blockHeight",
	"blockTimestamp",
	"receiptId",
	"txHash",
	"isDeleted",
	"encryptedKeyId",
}

// parseFieldSet validates a comma-separated field selection. Blank segments
// are ignored; a selection of only blanks behaves like no selection at all.
func parseFieldSet(raw string) (fieldSet, error) {
	if raw == "" {
		return nil, nil
	}
	set := fieldSet{}
	var invalid []string
	for _, f := range strings.Split(raw, ",") {
		f = strings.TrimSpace(f)
		if f == "" {
			continue
		}
		if set[f] {
			continue
		}
		valid := false
		for _, v := range validFields {
			if f == v {
				valid = true
				break
			}
		}
		if !valid {
			invalid = append(invalid, f)
			continue
		}
		set[f] = true
	}
	if len(invalid) > 0 {
		sort.Strings(invalid)
		return nil, invalidParam("fields: unknown field(s): %s. Valid: %s",
			strings.Join(invalid, ", "), strings.Join(validFields, ", "))
	}
	if len(set) == 0 {
		return nil, nil
	}
	return set, nil
}

// parseValueFormat resolves value_format into a decode flag: "json" decodes
// values in place, "raw" or absent leaves them as stored.
func parseValueFormat(raw string) (bool, error) {
	switch raw {
	case "json":
		return true, nil
	case "raw", "":
		return false, nil
	default:
		return false, invalidParam("value_format: must be 'json' or 'raw' (got '%s')", raw)
	}
}

// entryView shapes one entry for the response. Without projection or
// decoding the typed struct is returned directly; otherwise a map is built
// so fields can be dropped and the value replaced by its parsed form.
func entryView(e db.Entry, fields fieldSet, decode bool) any {
	if fields == nil && !decode {
		return newEntryJSON(e)
	}
	m := entryMap(e, fields)
	if decode {
		decodeValueField(m)
	}
	return m
}

func entryMap(e db.Entry, fields fieldSet) map[string]any {
	want := func(name string) bool {
		return fields == nil || fields[name]
	}
	m := make(map[string]any)
	if want("accountId") {
		m["accountId"] = e.AccountID
	}
	if want("contractId") {
		m["contractId"] = e.ContractID
	}
	if want("key") {
		m["key"] = e.Key
	}
	if want("value") {
		m["value"] = e.Value
	}
	if want("blockHeight") {
		m["blockHeight"] = e.BlockHeight
	}
	if want("blockTimestamp") {
		m["blockTimestamp"] = e.BlockTimestamp
	}
	if want("receiptId") {
		m["receiptId"] = e.ReceiptID
	}
	if want("txHash") {
		m["txHash"] = e.TxHash
	}
	// Deletion and encryption markers stay omitted at their zero values
	// even when explicitly selected, matching the struct serialization.
	if want("isDeleted") && e.IsDeleted() {
		m["isDeleted"] = true
	}
	if want("encryptedKeyId") && e.EncryptedKeyID != "" {
		m["encryptedKeyId"] = e.EncryptedKeyID
	}
	return m
}

// decodeValueField parses a string "value" member into its JSON form in
// place. Values that are not valid JSON are left as the raw string.
func decodeValueField(m map[string]any) {
	raw, ok := m["value"].(string)
	if !ok {
		return
	}
	var decoded any
	if err := json.Unmarshal([]byte(raw), &decoded); err == nil {
		m["value"] = decoded
	}
}
