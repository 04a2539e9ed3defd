package methods

import (
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/Kampouse/kvindexer/internal/db"
)

// NewWritersHandler lists the accounts that currently hold a value for one
// (contract, key) pair, as full entries. accountId narrows to one writer.
func NewWritersHandler(logger *logrus.Entry, store Store) http.HandlerFunc {
	return jsonHandler(logger, func(r *http.Request) (any, error) {
		q := r.URL.Query()
		contractID := q.Get("contractId")
		key := q.Get("key")
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
		accountID := q.Get("accountId")
		if q.Has("accountId") {
			if err := validateAccountID(accountID, "accountId"); err != nil {
				return nil, err
			}
		}
		offset, err := queryInt(q, "offset", 0)
		if err != nil {
			return nil, err
		}
		if err := validateCursorOrOffset(q, "after_account", offset, validateAccountID); err != nil {
			return nil, err
		}
		excludeDeleted, err := queryBool(q, "exclude_deleted")
		if err != nil {
			return nil, err
		}

		reader, err := requireReader(store)
		if err != nil {
			return nil, err
		}
		page, err := reader.Writers(r.Context(), db.WritersQuery{
			ContractID:     contractID,
			Key:            key,
			AccountID:      accountID,
			AfterAccount:   q.Get("after_account"),
			Limit:          limit,
			Offset:         offset,
			ExcludeDeleted: excludeDeleted,
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
