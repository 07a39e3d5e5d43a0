package influx

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"gridprice/internal/models"
	"gridprice/internal/testutil"

	influxhttp "github.com/influxdata/influxdb-client-go/v2/api/http"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type writeServer struct {
	mu     sync.Mutex
	bodies []string
	urls   []string
	status int
}

func newWriteServer(t *testing.T, status int) (*writeServer, *httptest.Server) {
	t.Helper()
	ws := &writeServer{status: status}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		assert.NoError(t, err)

		ws.mu.Lock()
		ws.bodies = append(ws.bodies, string(body))
		ws.urls = append(ws.urls, r.URL.String())
		ws.mu.Unlock()

		if ws.status >= 400 {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(ws.status)
			_, _ = w.Write([]byte(`{"code":"invalid","message":"rejected"}`))
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	t.Cleanup(srv.Close)
	return ws, srv
}

func TestSink_WriteChunk(t *testing.T) {
	ws, srv := newWriteServer(t, http.StatusNoContent)
	sink := NewSink(Config{URL: srv.URL, Token: "secret", Org: "grid", Bucket: "prices", Timeout: 5 * time.Second})
	defer sink.Close()

	ts := time.Date(2026, 2, 6, 10, 0, 0, 0, time.UTC)
	hub := testutil.RealTimePoint(ts, "HB_NORTH", testutil.Float(23.5), testutil.Float(20.1), testutil.Float(3), testutil.Float(0.4))
	hub.PointType = "HU"

	require.NoError(t, sink.WriteChunk(context.Background(), "rtm_lmp", []models.PricePoint{hub}))

	require.Len(t, ws.bodies, 1)
	require.Contains(t, ws.urls[0], "/api/v2/write")
	require.Contains(t, ws.urls[0], "bucket=prices")
	require.Contains(t, ws.urls[0], "org=grid")

	line := strings.TrimSpace(ws.bodies[0])
	require.True(t, strings.HasPrefix(line, "rtm_lmp,settlement_point=HB_NORTH,settlement_point_kind=hub,settlement_point_type=HU "), line)
	require.Contains(t, line, "lmp=23.5")
	require.Contains(t, line, "congestion_component=3")
	require.True(t, strings.HasSuffix(line, " 1770372000"), line)
}

func TestSink_WriteChunkEmpty(t *testing.T) {
	ws, srv := newWriteServer(t, http.StatusNoContent)
	sink := NewSink(Config{URL: srv.URL, Org: "grid", Bucket: "prices"})
	defer sink.Close()

	require.NoError(t, sink.WriteChunk(context.Background(), "rtm_lmp", nil))
	require.Empty(t, ws.bodies)
}

func TestSink_WriteChunkServerError(t *testing.T) {
	_, srv := newWriteServer(t, http.StatusServiceUnavailable)
	sink := NewSink(Config{URL: srv.URL, Org: "grid", Bucket: "prices"})
	defer sink.Close()

	p := testutil.DayAheadPoint(time.Date(2026, 2, 8, 0, 0, 0, 0, time.UTC), "LZ_WEST", testutil.Float(31.2))
	err := sink.WriteChunk(context.Background(), "dam_spp", []models.PricePoint{p})
	require.Error(t, err)
	require.True(t, IsRetryable(err))
}

func TestNewPoint(t *testing.T) {
	ts := time.Date(2026, 2, 6, 10, 5, 0, 0, time.UTC)

	_, err := NewPoint("rtm_lmp", testutil.RealTimePoint(ts, "HB_WEST", nil, nil, nil, nil))
	require.ErrorIs(t, err, ErrNoFields)

	pt, err := NewPoint("rtm_lmp", testutil.RealTimePoint(ts, "NODE_X1", testutil.Float(19), nil, nil, nil))
	require.NoError(t, err)
	require.Equal(t, "rtm_lmp", pt.Name())
	require.Len(t, pt.FieldList(), 1)
	require.Equal(t, "lmp", pt.FieldList()[0].Key)
	require.Len(t, pt.TagList(), 2)
	require.True(t, ts.Equal(pt.Time()))
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "Nil", err: nil, want: false},
		{name: "Canceled", err: context.Canceled, want: false},
		{name: "NoFields", err: ErrNoFields, want: false},
		{name: "TooManyRequests", err: &influxhttp.Error{StatusCode: http.StatusTooManyRequests}, want: true},
		{name: "ServerError", err: &influxhttp.Error{StatusCode: http.StatusBadGateway}, want: true},
		{name: "BadRequest", err: &influxhttp.Error{StatusCode: http.StatusBadRequest}, want: false},
		{name: "Unauthorized", err: &influxhttp.Error{StatusCode: http.StatusUnauthorized}, want: false},
		{name: "Transport", err: io.ErrUnexpectedEOF, want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, IsRetryable(tt.err))
		})
	}
}
