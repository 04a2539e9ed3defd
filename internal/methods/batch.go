package methods

import (
	"encoding/json"
	"net/http"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// batchConcurrency bounds the point reads in flight for one batch request.
const batchConcurrency = 10

type batchRequest struct {
	AccountID  string   `json:"accountId"`
	ContractID string   `json:"contractId"`
	Keys       []string `json:"keys"`
}

type batchResultItem struct {
	Key   string  `json:"key"`
	Value *string `json:"value"`
	Found bool    `json:"found"`
	Error string  `json:"error,omitempty"`
}

// NewBatchHandler reads the current value of up to 100 keys in one request.
// Results come back in input order; a failed lookup marks its own item and
// never fails the batch.
func NewBatchHandler(logger *logrus.Entry, store Store) http.HandlerFunc {
	return jsonHandler(logger, func(r *http.Request) (any, error) {
		var req batchRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			return nil, invalidParam("request body: must be valid JSON")
		}
		if err := validateAccountID(req.AccountID, "accountId"); err != nil {
			return nil, err
		}
		if err := validateAccountID(req.ContractID, "contractId"); err != nil {
			return nil, err
		}
		if len(req.Keys) == 0 {
			return nil, invalidParam("keys: cannot be empty")
		}
		if len(req.Keys) > maxBatchKeys {
			return nil, invalidParam("keys: cannot exceed %d items", maxBatchKeys)
		}
		for _, key := range req.Keys {
			if key == "" {
				return nil, invalidParam("keys[]: cannot be empty")
			}
			if len(key) > maxBatchKeyLength {
				return nil, invalidParam("keys[]: cannot exceed %d characters", maxBatchKeyLength)
			}
		}

		// The store must be up before fan-out; mid-batch losses degrade to
		// per-key errors instead.
		if _, err := requireReader(store); err != nil {
			return nil, err
		}

		items := make([]batchResultItem, len(req.Keys))
		var g errgroup.Group
		g.SetLimit(batchConcurrency)
		for i, key := range req.Keys {
			i, key := i, key
			g.Go(func() error {
				reader, ok := store.CurrentReader()
				if !ok {
					items[i] = batchResultItem{Key: key, Error: "Database unavailable"}
					return nil
				}
				entry, err := reader.GetLast(r.Context(), req.AccountID, req.ContractID, key)
				if err != nil {
					logger.WithError(err).WithField("key", key).Warn("batch key lookup failed")
					items[i] = batchResultItem{Key: key, Error: "Lookup failed"}
					return nil
				}
				if entry == nil {
					items[i] = batchResultItem{Key: key}
					return nil
				}
				value := entry.Value
				items[i] = batchResultItem{Key: key, Value: &value, Found: true}
				return nil
			})
		}
		// Lookup failures are reported per item, so the group never errors.
		_ = g.Wait()
		return dataResponse{Data: items}, nil
	})
}
