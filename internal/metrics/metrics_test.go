package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObservePageCountsRows(t *testing.T) {
	pagesBefore := testutil.ToFloat64(pagesTotal)
	rowsBefore := testutil.ToFloat64(repositoriesUpsertedTotal)

	ObservePage(100)
	ObservePage(0)

	assert.InDelta(t, pagesBefore+2, testutil.ToFloat64(pagesTotal), 0.001)
	assert.InDelta(t, rowsBefore+100, testutil.ToFloat64(repositoriesUpsertedTotal), 0.001)
}

func TestObserveFetchFailureByKind(t *testing.T) {
	before := testutil.ToFloat64(fetchFailuresTotal.WithLabelValues("transport"))
	ObserveFetchFailure("transport")
	assert.InDelta(t, before+1, testutil.ToFloat64(fetchFailuresTotal.WithLabelValues("transport")), 0.001)
}

func TestGaugesAndRuns(t *testing.T) {
	SetRateLimitRemaining(42)
	assert.InDelta(t, 42, testutil.ToFloat64(rateLimitRemaining), 0.001)

	before := testutil.ToFloat64(runsTotal.WithLabelValues("exhausted"))
	ObserveRun("exhausted")
	assert.InDelta(t, before+1, testutil.ToFloat64(runsTotal.WithLabelValues("exhausted")), 0.001)

	ObserveThrottle(90 * time.Second)
	ObservePersistFailure()
	ObserveArchiveFailure()
}

func TestRouterServesHealthAndMetrics(t *testing.T) {
	ts := httptest.NewServer(Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	ObservePage(1)
	resp, err = http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer func() {
		if errInner := resp.Body.Close(); errInner != nil {
			t.Log(errInner)
		}
	}()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	buf := new(strings.Builder)
	_, err = io.Copy(buf, resp.Body)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "harvester_pages_total")

	if val := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("/healthz", "200")); val < 1 {
		t.Errorf("Expected healthz request to be counted, got %f", val)
	}
}
