package metrics

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"gridprice/internal/models"

	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func summary(outcome models.Outcome) *models.CycleSummary {
	return &models.CycleSummary{
		Stream:          "rtm_lmp",
		Outcome:         outcome,
		StartedAt:       time.Date(2026, 2, 8, 12, 0, 0, 0, time.UTC),
		Elapsed:         1500 * time.Millisecond,
		RecordsFetched:  10,
		RecordsRejected: 1,
		Write: models.WriteSummary{
			PrimaryWritten: 9,
			DerivedWritten: 4,
			DerivedChunks:  []models.ChunkResult{{Index: 0, Points: 4, Attempts: 1}, {Index: 1, Points: 2, Attempts: 3, Error: "boom"}},
		},
	}
}

func gather(t *testing.T, p *Pusher) map[string]*dto.MetricFamily {
	t.Helper()
	g := p.Gatherer()
	require.NotNil(t, g)
	families, err := g.Gather()
	require.NoError(t, err)

	out := make(map[string]*dto.MetricFamily, len(families))
	for _, f := range families {
		out[f.GetName()] = f
	}
	return out
}

func TestPusher_ObserveCycle(t *testing.T) {
	p := NewPusher("", "gridprice_ingest")
	require.Nil(t, p.Gatherer())

	p.ObserveCycle(summary(models.OutcomePartial))
	families := gather(t, p)

	assert.Equal(t, 10.0, families["gridprice_cycle_records_fetched"].GetMetric()[0].GetGauge().GetValue())
	assert.Equal(t, 1.0, families["gridprice_cycle_failed_derived_chunks"].GetMetric()[0].GetGauge().GetValue())
	assert.Equal(t, 1.5, families["gridprice_cycle_duration_seconds"].GetMetric()[0].GetGauge().GetValue())
	assert.Len(t, families["gridprice_cycle_records_written"].GetMetric(), 2)

	for _, m := range families["gridprice_cycle_outcome"].GetMetric() {
		want := 0.0
		if m.GetLabel()[0].GetValue() == "partial" {
			want = 1
		}
		assert.Equal(t, want, m.GetGauge().GetValue())
	}

	last := families["gridprice_cycle_last_success_timestamp_seconds"]
	require.NotNil(t, last)
	assert.Equal(t, float64(time.Date(2026, 2, 8, 12, 0, 1, 0, time.UTC).Unix()), last.GetMetric()[0].GetGauge().GetValue())
}

func TestPusher_FailureOmitsLastSuccess(t *testing.T) {
	p := NewPusher("", "gridprice_ingest")
	p.ObserveCycle(summary(models.OutcomeFailure))

	_, ok := gather(t, p)["gridprice_cycle_last_success_timestamp_seconds"]
	assert.False(t, ok)
}

func TestPusher_Push(t *testing.T) {
	var method, path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		method, path = r.Method, r.URL.Path
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	p := NewPusher(srv.URL, "gridprice_ingest")
	require.NoError(t, p.Push(context.Background()), "nothing observed yet")
	assert.Empty(t, path)

	p.ObserveCycle(summary(models.OutcomeSuccess))
	require.NoError(t, p.Push(context.Background()))
	assert.Equal(t, http.MethodPost, method)
	assert.Equal(t, "/metrics/job/gridprice_ingest/stream/rtm_lmp", path)
}

func TestPusher_PushError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	p := NewPusher(srv.URL, "gridprice_ingest")
	p.ObserveCycle(summary(models.OutcomeSuccess))
	require.Error(t, p.Push(context.Background()))
}

func TestPusher_Disabled(t *testing.T) {
	p := NewPusher("", "gridprice_ingest")
	p.ObserveCycle(summary(models.OutcomeSuccess))
	require.NoError(t, p.Push(context.Background()))
}
