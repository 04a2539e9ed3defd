package methods

import (
	"encoding/json"
	"errors"
	"math"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/Kampouse/kvindexer/internal/db"
)

// Store resolves the read session backing a request. Handlers resolve per
// request so a supervisor reconnect is picked up without a restart.
type Store interface {
	CurrentReader() (db.Reader, bool)
}

func requireReader(store Store) (db.Reader, error) {
	reader, ok := store.CurrentReader()
	if !ok {
		return nil, errDatabaseUnavailable
	}
	return reader, nil
}

// handlerFunc produces the response body for one request, or an error the
// wrapper maps onto the error envelope.
type handlerFunc func(r *http.Request) (any, error)

func jsonHandler(logger *logrus.Entry, fn handlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := fn(r)
		if err != nil {
			writeError(logger, w, err)
			return
		}
		writeJSON(w, http.StatusOK, body)
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	// The body is built from plain structs and maps, so encoding failures
	// would be programming errors; past WriteHeader there is no way to
	// surface one anyway.
	_ = json.NewEncoder(w).Encode(body)
}

type errorBody struct {
	Error APIError `json:"error"`
}

func writeError(logger *logrus.Entry, w http.ResponseWriter, err error) {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		logger.WithError(err).Error("request failed")
		apiErr = errDatabase
	}
	if apiErr.Code == CodeTooManyRequests {
		w.Header().Set("Retry-After", "1")
	}
	writeJSON(w, apiErr.httpStatus(), errorBody{Error: *apiErr})
}

// dataResponse wraps single-object results; Data may be nil and then
// serializes as an explicit null.
type dataResponse struct {
	Data any `json:"data"`
}

// pageMeta is the pagination block every list endpoint returns. has_more is
// always present; the rest collapse away at their zero values.
type pageMeta struct {
	HasMore     bool   `json:"has_more"`
	Truncated   bool   `json:"truncated,omitempty"`
	NextCursor  string `json:"next_cursor,omitempty"`
	DroppedRows uint32 `json:"dropped_rows,omitempty"`
}

type pageResponse struct {
	Data any      `json:"data"`
	Meta pageMeta `json:"meta"`
}

func metaFor[T any](p db.Page[T]) pageMeta {
	return pageMeta{
		HasMore:     p.HasMore,
		Truncated:   p.Truncated,
		NextCursor:  p.NextCursor,
		DroppedRows: clampDropped(p.DroppedRows),
	}
}

func clampDropped(n int) uint32 {
	if n <= 0 {
		return 0
	}
	if uint64(n) > math.MaxUint32 {
		return math.MaxUint32
	}
	return uint32(n)
}

// stringPage shapes a page of bare identifiers; an empty page still
// serializes data as [].
func stringPage(p db.Page[string]) pageResponse {
	items := p.Items
	if items == nil {
		items = []string{}
	}
	return pageResponse{Data: items, Meta: metaFor(p)}
}

// entryPage shapes a page of entries, applying field projection and value
// decoding when requested.
func entryPage(p db.Page[db.Entry], fields fieldSet, decode bool) pageResponse {
	items := make([]any, 0, len(p.Items))
	for _, e := range p.Items {
		items = append(items, entryView(e, fields, decode))
	}
	return pageResponse{Data: items, Meta: metaFor(p)}
}
