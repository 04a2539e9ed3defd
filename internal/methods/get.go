package methods

import (
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/Kampouse/kvindexer/internal/db"
)

// NewGetHandler serves point reads of one triple: its current value, or the
// value it held at an exact block when blockHeight is given. A missing key
// is not an error; data is null.
func NewGetHandler(logger *logrus.Entry, store Store) http.HandlerFunc {
	return jsonHandler(logger, func(r *http.Request) (any, error) {
		q := r.URL.Query()
		accountID := q.Get("accountId")
		contractID := q.Get("contractId")
		key := q.Get("key")
		if err := validateAccountID(accountID, "accountId"); err != nil {
			return nil, err
		}
		if err := validateAccountID(contractID, "contractId"); err != nil {
			return nil, err
		}
		if err := validateKey(key, "key", maxKeyLength); err != nil {
			return nil, err
		}
		blockHeight, atBlock, err := queryInt64(q, "blockHeight")
		if err != nil {
			return nil, err
		}
		if atBlock && blockHeight < 0 {
			return nil, invalidParam("blockHeight: must be non-negative")
		}

		reader, err := requireReader(store)
		if err != nil {
			return nil, err
		}
		var entry *db.Entry
		if atBlock {
			entry, err = reader.GetAtBlock(r.Context(), accountID, contractID, key, blockHeight)
		} else {
			entry, err = reader.GetLast(r.Context(), accountID, contractID, key)
		}
		if err != nil {
			return nil, err
		}

		fields, err := parseFieldSet(q.Get("fields"))
		if err != nil {
			return nil, err
		}
		decode, err := parseValueFormat(q.Get("value_format"))
		if err != nil {
			return nil, err
		}
		if entry == nil {
			return dataResponse{Data: nil}, nil
		}
		return dataResponse{Data: entryView(*entry, fields, decode)}, nil
	})
}
