package methods

import (
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/Kampouse/kvindexer/internal/db"
)

// NewQueryHandler lists a pair's current keys, optionally narrowed to a key
// prefix. format=tree folds the page into one nested object instead of the
// paginated list.
func NewQueryHandler(logger *logrus.Entry, store Store) http.HandlerFunc {
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
		if err := validatePrefix(q); err != nil {
			return nil, err
		}
		offset, err := queryInt(q, "offset", 0)
		if err != nil {
			return nil, err
		}
		if err := validateCursorOrOffset(q, "after_key", offset, func(c, n string) error {
			return validateKey(c, n, maxKeyLength)
		}); err != nil {
			return nil, err
		}
		if q.Has("format") && q.Get("format") != "tree" {
			return nil, invalidParam("format: must be 'tree' or omitted")
		}
		excludeDeleted, err := queryBool(q, "exclude_deleted")
		if err != nil {
			return nil, err
		}

		reader, err := requireReader(store)
		if err != nil {
			return nil, err
		}
		page, err := reader.ListKeys(r.Context(), db.ListKeysQuery{
			AccountID:      accountID,
			ContractID:     contractID,
			Prefix:         q.Get("key_prefix"),
			AfterKey:       q.Get("after_key"),
			Limit:          limit,
			Offset:         offset,
			ExcludeDeleted: excludeDeleted,
		})
		if err != nil {
			return nil, err
		}

		if q.Get("format") == "tree" {
			return treeResponse{Tree: buildTree(logger, page.Items), HasMore: page.HasMore}, nil
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
