package methods

import (
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/Kampouse/kvindexer/internal/db"
)

// NewTimelineHandler pages through every write a pair ever made, across all
// keys, ordered by block height.
func NewTimelineHandler(logger *logrus.Entry, store Store) http.HandlerFunc {
	return jsonHandler(logger, func(r *http.Request) (any, error) {
		q := r.URL.Query()
		accountID := q.Get("accountId")
		contractID := q.Get("contractId")
		if err := validateAccountID(accountID, "accountId"); err != nil {
			return nil, err
		}
		if err := validateAccountID(contractID, "contractId"); err != nil {
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
		var cursor *db.TimelineCursor
		if rawCursor != "" {
			c, err := parseTimelineCursor(rawCursor)
			if err != nil {
				return nil, err
			}
			cursor = &c
		}

		reader, err := requireReader(store)
		if err != nil {
			return nil, err
		}
		page, err := reader.Timeline(r.Context(), db.TimelineQuery{
			AccountID:  accountID,
			ContractID: contractID,
			FromBlock:  fromBlock,
			ToBlock:    toBlock,
			Ascending:  ascending,
			Limit:      limit,
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
