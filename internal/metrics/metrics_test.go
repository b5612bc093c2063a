package metrics

import (
	"io"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/exepirit/radiobridge/pkg/radiobridge"
)

func TestStatsRecords(t *testing.T) {
	RegisterMetrics()
	RegisterMetrics()

	var s Stats
	before := testutil.ToFloat64(frames.WithLabelValues("outbound", "delivered"))
	s.FrameDelivered(radiobridge.Outbound, 10)
	assert.Equal(t, before+1, testutil.ToFloat64(frames.WithLabelValues("outbound", "delivered")))

	s.FrameDiscarded(radiobridge.Inbound, 4, "malformed")
	assert.GreaterOrEqual(t, testutil.ToFloat64(discards.WithLabelValues("inbound", "malformed")), 1.0)

	s.StateChanged(radiobridge.StateReceiving)
	assert.Equal(t, 1.0, testutil.ToFloat64(schedulerState.WithLabelValues("RECEIVING")))
	assert.Equal(t, 0.0, testutil.ToFloat64(schedulerState.WithLabelValues("IDLE")))
}

func TestHandlerExposesMetrics(t *testing.T) {
	Stats{}.TransmitTimedOut(3)

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "radiobridge_channel_transmit_timeouts_total")
}
