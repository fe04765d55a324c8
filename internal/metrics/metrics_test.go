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

func TestHandler(t *testing.T) {
	ImagesTotal.WithLabelValues("test", OutcomeDescribed).Inc()

	srv := httptest.NewServer(Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Contains(t, string(body), `idt_images_total{outcome="described",provider="test"}`)
}

func TestCounters(t *testing.T) {
	before := testutil.ToFloat64(FramesExtractedTotal)
	FramesExtractedTotal.Add(3)
	assert.Equal(t, before+3, testutil.ToFloat64(FramesExtractedTotal))
}
