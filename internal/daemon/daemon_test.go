package daemon

import (
	"io"
	"testing"

	dto "github.com/prometheus/client_model/go"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Kampouse/kvindexer/internal/db"
)

func TestHeightCache(t *testing.T) {
	var cache heightCache

	_, ok := cache.IndexerHeight()
	require.False(t, ok, "no height before the first checkpoint")

	cache.set(1234)
	height, ok := cache.IndexerHeight()
	require.True(t, ok)
	assert.Equal(t, uint64(1234), height)

	cache.set(1250)
	height, _ = cache.IndexerHeight()
	assert.Equal(t, uint64(1250), height)
}

func TestStoreAdaptersReportMissingSession(t *testing.T) {
	// A supervisor with no installed session must yield ok=false and a nil
	// interface, not an interface wrapping a nil *db.Session.
	supervisor := &db.Supervisor{}

	reader, ok := readerStore{supervisor}.CurrentReader()
	assert.False(t, ok)
	assert.Nil(t, reader)

	getter, ok := watchStore{supervisor}.CurrentReader()
	assert.False(t, ok)
	assert.Nil(t, getter)

	writer, ok := writerStore{supervisor}.CurrentWriter()
	assert.False(t, ok)
	assert.Nil(t, writer)
}

func TestLogCounterHook(t *testing.T) {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	hook := newLogCounterHook("kvindexer")
	logger.AddHook(hook)

	logger.Info("one")
	logger.Info("two")
	logger.Warn("three")

	var metric dto.Metric
	require.NoError(t, hook.counter.WithLabelValues("info").Write(&metric))
	assert.Equal(t, float64(2), metric.GetCounter().GetValue())

	require.NoError(t, hook.counter.WithLabelValues("warning").Write(&metric))
	assert.Equal(t, float64(1), metric.GetCounter().GetValue())
}
