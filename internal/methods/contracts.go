package methods

import (
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/Kampouse/kvindexer/internal/db"
	"github.com/Kampouse/kvindexer/internal/throttle"
)

// NewContractsHandler lists contract ids. With accountId it is a cheap
// single-partition read of that account's contracts; without, a throttled
// token-ordered walk of every contract seen.
func NewContractsHandler(logger *logrus.Entry, store Store, limiter *throttle.Limiter) http.HandlerFunc {
	return jsonHandler(logger, func(r *http.Request) (any, error) {
		q := r.URL.Query()
		limit, err := queryInt(q, "limit", defaultLimit)
		if err != nil {
			return nil, err
		}
		if limit > maxScanLimit {
			limit = maxScanLimit
		}
		if err := validateLimit(limit); err != nil {
			return nil, err
		}
		if q.Has("after_contract") {
			if err := validateAccountID(q.Get("after_contract"), "after_contract"); err != nil {
				return nil, err
			}
		}

		reader, err := requireReader(store)
		if err != nil {
			return nil, err
		}
		var page db.Page[string]
		if q.Has("accountId") {
			accountID := q.Get("accountId")
			if err := validateAccountID(accountID, "accountId"); err != nil {
				return nil, err
			}
			page, err = reader.ContractsByAccount(r.Context(), accountID, limit, q.Get("after_contract"))
		} else {
			if !limiter.Allow(clientIP(r)) {
				return nil, tooManyRequests("Too many scan requests. Try again shortly.")
			}
			page, err = reader.AllContracts(r.Context(), limit, q.Get("after_contract"))
		}
		if err != nil {
			return nil, err
		}
		return stringPage(page), nil
	})
}
