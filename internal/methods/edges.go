package methods

import (
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/Kampouse/kvindexer/internal/db"
)

type edgeSourceJSON struct {
	Source      string `json:"source"`
	BlockHeight uint64 `json:"blockHeight"`
}

type edgesCountResponse struct {
	EdgeType string `json:"edgeType"`
	Target   string `json:"target"`
	Count    int64  `json:"count"`
}

// NewEdgesHandler lists the sources attached to an (edge type, target)
// pair, for example every account following a given one.
func NewEdgesHandler(logger *logrus.Entry, store Store) http.HandlerFunc {
	return jsonHandler(logger, func(r *http.Request) (any, error) {
		q := r.URL.Query()
		edgeType := q.Get("edge_type")
		target := q.Get("target")
		if err := validateKey(edgeType, "edge_type", maxEdgeTypeLength); err != nil {
			return nil, err
		}
		if err := validateAccountID(target, "target"); err != nil {
			return nil, err
		}
		limit, err := queryInt(q, "limit", defaultLimit)
		if err != nil {
			return nil, err
		}
		if err := validateLimit(limit); err != nil {
			return nil, err
		}
		offset, err := queryInt(q, "offset", 0)
		if err != nil {
			return nil, err
		}
		if err := validateCursorOrOffset(q, "after_source", offset, validateAccountID); err != nil {
			return nil, err
		}

		reader, err := requireReader(store)
		if err != nil {
			return nil, err
		}
		page, err := reader.Edges(r.Context(), db.EdgesQuery{
			EdgeType:    edgeType,
			Target:      target,
			Limit:       limit,
			Offset:      offset,
			AfterSource: q.Get("after_source"),
		})
		if err != nil {
			return nil, err
		}
		sources := make([]edgeSourceJSON, 0, len(page.Items))
		for _, s := range page.Items {
			sources = append(sources, edgeSourceJSON{Source: s.Source, BlockHeight: s.BlockHeight})
		}
		return pageResponse{Data: sources, Meta: metaFor(page)}, nil
	})
}

// NewEdgesCountHandler returns how many sources an (edge type, target) pair
// has, without listing them.
func NewEdgesCountHandler(logger *logrus.Entry, store Store) http.HandlerFunc {
	return jsonHandler(logger, func(r *http.Request) (any, error) {
		q := r.URL.Query()
		edgeType := q.Get("edge_type")
		target := q.Get("target")
		if err := validateKey(edgeType, "edge_type", maxEdgeTypeLength); err != nil {
			return nil, err
		}
		if err := validateAccountID(target, "target"); err != nil {
			return nil, err
		}

		reader, err := requireReader(store)
		if err != nil {
			return nil, err
		}
		count, err := reader.EdgesCount(r.Context(), edgeType, target)
		if err != nil {
			return nil, err
		}
		return dataResponse{Data: edgesCountResponse{
			EdgeType: edgeType,
			Target:   target,
			Count:    count,
		}}, nil
	})
}
