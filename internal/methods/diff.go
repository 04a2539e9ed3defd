package methods

import (
	"net/http"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/Kampouse/kvindexer/internal/db"
)

type diffResponse struct {
	A any `json:"a"`
	B any `json:"b"`
}

// NewDiffHandler reads one triple at two exact block heights in parallel and
// returns both values side by side, null where the key had no write at that
// height.
func NewDiffHandler(logger *logrus.Entry, store Store) http.HandlerFunc {
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
		heightA, hasA, err := queryInt64(q, "block_height_a")
		if err != nil {
			return nil, err
		}
		if !hasA {
			return nil, invalidParam("block_height_a: must be an integer")
		}
		heightB, hasB, err := queryInt64(q, "block_height_b")
		if err != nil {
			return nil, err
		}
		if !hasB {
			return nil, invalidParam("block_height_b: must be an integer")
		}
		if heightA < 0 || heightB < 0 {
			return nil, invalidParam("block_height_a/block_height_b: must be non-negative")
		}

		reader, err := requireReader(store)
		if err != nil {
			return nil, err
		}
		var a, b *db.Entry
		g, ctx := errgroup.WithContext(r.Context())
		g.Go(func() error {
			var err error
			a, err = reader.GetAtBlock(ctx, accountID, contractID, key, heightA)
			return err
		})
		g.Go(func() error {
			var err error
			b, err = reader.GetAtBlock(ctx, accountID, contractID, key, heightB)
			return err
		})
		if err := g.Wait(); err != nil {
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
		var diff diffResponse
		if a != nil {
			diff.A = entryView(*a, fields, decode)
		}
		if b != nil {
			diff.B = entryView(*b, fields, decode)
		}
		return dataResponse{Data: diff}, nil
	})
}
