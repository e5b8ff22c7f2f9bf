package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandlerExposesCollectors(t *testing.T) {
	StepsTotal.WithLabelValues("ok").Inc()
	SessionState.WithLabelValues("planning").Set(1)

	srv := httptest.NewServer(Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `datascout_steps_total{status="ok"}`)
	assert.Contains(t, string(body), `datascout_session_state{state="planning"} 1`)
}

func TestCountersByLabel(t *testing.T) {
	before := testutil.ToFloat64(OracleRequests.WithLabelValues("code", "error"))
	OracleRequests.WithLabelValues("code", "error").Inc()
	assert.Equal(t, before+1, testutil.ToFloat64(OracleRequests.WithLabelValues("code", "error")))
}
