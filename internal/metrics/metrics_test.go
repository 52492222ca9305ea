package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRegistersDefaultCollectors(t *testing.T) {
	c := New()
	mfs, err := c.Registry.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, mfs)
}

func TestCacheHitMissIncrementDistinctLabels(t *testing.T) {
	c := New()
	c.CacheHitInc()
	c.CacheHitInc()
	c.CacheMissInc()

	mfs, err := c.Registry.Gather()
	require.NoError(t, err)
	family := findFamily(mfs, "bookwatch_cache_total")
	require.NotNil(t, family, "cache counter family should be registered")

	var hit, miss float64
	for _, m := range family.Metric {
		for _, l := range m.Label {
			if l.GetName() != "outcome" {
				continue
			}
			switch l.GetValue() {
			case "hit":
				hit = m.GetCounter().GetValue()
			case "miss":
				miss = m.GetCounter().GetValue()
			}
		}
	}
	assert.Equal(t, 2.0, hit)
	assert.Equal(t, 1.0, miss)
}

func TestInstrumentRecordsNormalizedPath(t *testing.T) {
	c := New()
	r := chi.NewRouter()
	r.Get("/book/{bookID}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	handler := c.Instrument(r)

	req := httptest.NewRequest(http.MethodGet, "/book/abc123", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestNormalizePatternStripsPathParams(t *testing.T) {
	assert.Equal(t, "/book/", normalizePattern("/book/{bookID}"))
}

func findFamily(mfs []*dto.MetricFamily, name string) *dto.MetricFamily {
	for _, mf := range mfs {
		if mf.GetName() == name {
			return mf
		}
	}
	return nil
}
