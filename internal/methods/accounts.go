package methods

import (
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/Kampouse/kvindexer/internal/db"
	"github.com/Kampouse/kvindexer/internal/throttle"
)

// NewAccountsHandler lists writer accounts. With contractId it reads the
// per-contract discovery table, deduplicating when no key narrows the scan.
// Without contractId it walks the global account table in token order, which
// is expensive enough to be throttled per client and to clamp the limit.
func NewAccountsHandler(logger *logrus.Entry, store Store, limiter *throttle.Limiter) http.HandlerFunc {
	return jsonHandler(logger, func(r *http.Request) (any, error) {
		q := r.URL.Query()
		contractID := q.Get("contractId")
		isScan := !q.Has("contractId")

		limit, err := queryInt(q, "limit", defaultLimit)
		if err != nil {
			return nil, err
		}
		offset, err := queryInt(q, "offset", 0)
		if err != nil {
			return nil, err
		}

		if isScan {
			if q.Has("key") {
				return nil, invalidParam("key: requires contractId")
			}
			if offset > 0 {
				return nil, invalidParam("offset: requires contractId (use after_account cursor instead)")
			}
			if limit > maxScanLimit {
				limit = maxScanLimit
			}
		} else if err := validateAccountID(contractID, "contractId"); err != nil {
			return nil, err
		}
		if err := validateLimit(limit); err != nil {
			return nil, err
		}
		if q.Has("key") {
			if err := validateKey(q.Get("key"), "key", maxKeyLength); err != nil {
				return nil, err
			}
		}
		if err := validateCursorOrOffset(q, "after_account", offset, validateAccountID); err != nil {
			return nil, err
		}
		if isScan && !limiter.Allow(clientIP(r)) {
			return nil, tooManyRequests("Too many scan requests. Try again shortly.")
		}

		reader, err := requireReader(store)
		if err != nil {
			return nil, err
		}
		var page db.Page[string]
		if isScan {
			page, err = reader.AllAccounts(r.Context(), limit, q.Get("after_account"))
		} else {
			page, err = reader.AccountsByContract(r.Context(), db.AccountsQuery{
				ContractID:   contractID,
				Key:          q.Get("key"),
				Limit:        limit,
				Offset:       offset,
				AfterAccount: q.Get("after_account"),
			})
		}
		if err != nil {
			return nil, err
		}
		return stringPage(page), nil
	})
}
