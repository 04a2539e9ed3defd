package methods

import (
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/Kampouse/kvindexer/internal/db"
)

// NewHistoryHandler pages through every version one triple went through,
// newest first by default. A cursor resumes from its (block height, order id)
// position exclusively in the scan direction.
func NewHistoryHandler(logger *logrus.Entry, store Store) http.HandlerFunc {
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
		limit, err := queryInt(q, "limit", defaultLimit)
		if err != nil {
			return nil, err
		}
		if err := validateLimit(limit); err != nil {
			return nil, err
		}
		ascending, err := parseOrderParam(q)
		if err != nil {
			return nil, err
		}
		fromBlock, toBlock, err := parseBlockRange(q)
		if err != nil {
			return nil, err
		}
		rawCursor := q.Get("cursor")
		if err := validateOpaqueCursor(rawCursor); err != nil {
			return nil, err
		}
		var cursor *db.HistoryCursor
		if rawCursor != "" {
			c, err := parseHistoryCursor(rawCursor)
			if err != nil {
				return nil, err
			}
			cursor = &c
		}
		offset, err := queryInt(q, "offset", 0)
		if err != nil {
			return nil, err
		}
		if cursor != nil && offset > 0 {
			return nil, invalidParam("cursor: cannot combine with offset")
		}
		if err := validateOffset(offset); err != nil {
			return nil, err
		}

		reader, err := requireReader(store)
		if err != nil {
			return nil, err
		}
		page, err := reader.History(r.Context(), db.HistoryQuery{
			AccountID:  accountID,
			ContractID: contractID,
			Key:        key,
			FromBlock:  fromBlock,
			ToBlock:    toBlock,
			Ascending:  ascending,
			Limit:      limit,
			Offset:     offset,
			Cursor:     cursor,
		})
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
		return entryPage(page, fields, decode), nil
	})
}
