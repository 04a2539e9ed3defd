package methods

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/Kampouse/kvindexer/internal/db"
)

func testLogger() *logrus.Entry {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logrus.NewEntry(logger)
}

// fakeStore serves a fixed reader, or nothing when down.
type fakeStore struct {
	reader db.Reader
	down   bool
}

func (f *fakeStore) CurrentReader() (db.Reader, bool) {
	if f.down || f.reader == nil {
		return nil, false
	}
	return f.reader, true
}

func storeOf(r db.Reader) *fakeStore { return &fakeStore{reader: r} }
func downStore() *fakeStore          { return &fakeStore{down: true} }

// fakeReader delegates to whichever closures a test wires up; calling an
// unwired method panics through the embedded nil interface.
type fakeReader struct {
	db.Reader

	getLast      func(accountID, contractID, key string) (*db.Entry, error)
	getAtBlock   func(accountID, contractID, key string, blockHeight int64) (*db.Entry, error)
	listKeys     func(q db.ListKeysQuery) (db.Page[db.Entry], error)
	history      func(q db.HistoryQuery) (db.Page[db.Entry], error)
	timeline     func(q db.TimelineQuery) (db.Page[db.Entry], error)
	writers      func(q db.WritersQuery) (db.Page[db.Entry], error)
	accounts     func(q db.AccountsQuery) (db.Page[string], error)
	allAccounts  func(limit int, afterAccount string) (db.Page[string], error)
	contractsBy  func(accountID string, limit int, afterContract string) (db.Page[string], error)
	allContracts func(limit int, afterContract string) (db.Page[string], error)
	edges        func(q db.EdgesQuery) (db.Page[db.EdgeSource], error)
	edgesCount   func(edgeType, target string) (int64, error)
	ping         func() error
}

func (f *fakeReader) GetLast(_ context.Context, accountID, contractID, key string) (*db.Entry, error) {
	return f.getLast(accountID, contractID, key)
}

func (f *fakeReader) GetAtBlock(_ context.Context, accountID, contractID, key string, blockHeight int64) (*db.Entry, error) {
	return f.getAtBlock(accountID, contractID, key, blockHeight)
}

func (f *fakeReader) ListKeys(_ context.Context, q db.ListKeysQuery) (db.Page[db.Entry], error) {
	return f.listKeys(q)
}

func (f *fakeReader) History(_ context.Context, q db.HistoryQuery) (db.Page[db.Entry], error) {
	return f.history(q)
}

func (f *fakeReader) Timeline(_ context.Context, q db.TimelineQuery) (db.Page[db.Entry], error) {
	return f.timeline(q)
}

func (f *fakeReader) Writers(_ context.Context, q db.WritersQuery) (db.Page[db.Entry], error) {
	return f.writers(q)
}

func (f *fakeReader) AccountsByContract(_ context.Context, q db.AccountsQuery) (db.Page[string], error) {
	return f.accounts(q)
}

func (f *fakeReader) AllAccounts(_ context.Context, limit int, afterAccount string) (db.Page[string], error) {
	return f.allAccounts(limit, afterAccount)
}

func (f *fakeReader) ContractsByAccount(_ context.Context, accountID string, limit int, afterContract string) (db.Page[string], error) {
	return f.contractsBy(accountID, limit, afterContract)
}

func (f *fakeReader) AllContracts(_ context.Context, limit int, afterContract string) (db.Page[string], error) {
	return f.allContracts(limit, afterContract)
}

func (f *fakeReader) Edges(_ context.Context, q db.EdgesQuery) (db.Page[db.EdgeSource], error) {
	return f.edges(q)
}

func (f *fakeReader) EdgesCount(_ context.Context, edgeType, target string) (int64, error) {
	return f.edgesCount(edgeType, target)
}

func (f *fakeReader) Ping(_ context.Context) error {
	return f.ping()
}

func doGet(h http.HandlerFunc, target string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, target, nil)
	rec := httptest.NewRecorder()
	h(rec, req)
	return rec
}

func doPost(h http.HandlerFunc, target, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, target, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h(rec, req)
	return rec
}

func apiErrorOf(t *testing.T, rec *httptest.ResponseRecorder) APIError {
	t.Helper()
	var body errorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body.Error
}

func aliceEntry() db.Entry {
	return db.Entry{
		AccountID:      "alice.near",
		ContractID:     "social.near",
		Key:            "profile/name",
		Value:          `"Alice"`,
		BlockHeight:    100,
		BlockTimestamp: 1_700_000_000_000,
		ReceiptID:      "receipt-1",
		TxHash:         "tx-1",
	}
}
