package metrics_test

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	metrics "github.com/kilianp07/scm/core/metrics"
	inframetrics "github.com/kilianp07/scm/infra/metrics"
)

type influxStub struct {
	mu     sync.Mutex
	auth   []string
	query  []string
	bodies []string
}

func newInfluxStub(t *testing.T) (*influxStub, *httptest.Server) {
	t.Helper()
	stub := &influxStub{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/health":
			w.Header().Set("Content-Type", "application/json")
			_, _ = io.WriteString(w, `{"name":"influxdb","status":"pass","message":"ready for queries and writes","checks":[]}`)
		case "/api/v2/write":
			b, _ := io.ReadAll(r.Body)
			stub.mu.Lock()
			stub.auth = append(stub.auth, r.Header.Get("Authorization"))
			stub.query = append(stub.query, r.URL.RawQuery)
			stub.bodies = append(stub.bodies, string(b))
			stub.mu.Unlock()
			w.WriteHeader(http.StatusNoContent)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return stub, srv
}

// A metrics section with a prometheus and an influx sink decodes into a
// MultiSink whose influx member writes with the configured credentials.
func TestMetricsConfigDecodeYAML(t *testing.T) {
	stub, srv := newInfluxStub(t)
	data := `sinks:
  - type: prometheus
  - type: influx
    conf:
      url: ` + srv.URL + `/api/v2/write
      token: secret
      org: depot
      bucket: charging
`
	var cfg metrics.Config
	require.NoError(t, yaml.Unmarshal([]byte(data), &cfg))
	require.Len(t, cfg.Sinks, 2)
	assert.Equal(t, "influx", cfg.Sinks[1].Type)
	assert.Equal(t, "charging", cfg.Sinks[1].Conf["bucket"])

	s, err := metrics.NewMetricsSink(cfg.Sinks)
	require.NoError(t, err)
	multi, ok := s.(*metrics.MultiSink)
	require.True(t, ok, "got %T", s)
	require.Len(t, multi.Sinks, 2)
	assert.IsType(t, &inframetrics.PromSink{}, multi.Sinks[0])
	assert.IsType(t, &inframetrics.InfluxSink{}, multi.Sinks[1])
	defer multi.Close()

	rec := metrics.CycleRecord{
		CycleID:   "c-1",
		Group:     "depot-a",
		Trigger:   "tick",
		Algorithm: "greedy",
		Outcome:   metrics.OutcomeSkippedNoBudget,
		Time:      time.Date(2025, 3, 23, 10, 0, 0, 0, time.UTC),
	}
	require.NoError(t, metrics.Record(s, rec))

	stub.mu.Lock()
	defer stub.mu.Unlock()
	require.Len(t, stub.bodies, 1)
	assert.Equal(t, "Token secret", stub.auth[0])
	assert.Contains(t, stub.query[0], "org=depot")
	assert.Contains(t, stub.query[0], "bucket=charging")
	assert.Contains(t, stub.bodies[0], "scm_cycle")
	assert.Contains(t, stub.bodies[0], "depot-a")
}

// An unreachable influx endpoint degrades to a NopSink instead of failing
// the whole metrics section.
func TestMetricsConfigDecodeJSON_InfluxUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	data := `{"sinks":[{"type":"influx","conf":{"url":"` + url + `","token":"t","org":"o","bucket":"b"}}]}`
	var cfg metrics.Config
	require.NoError(t, json.Unmarshal([]byte(data), &cfg))
	s, err := metrics.NewMetricsSink(cfg.Sinks)
	require.NoError(t, err)
	assert.IsType(t, metrics.NopSink{}, s)
}

func TestMetricsConfigDecodeJSON_Invalid(t *testing.T) {
	data := `{"sinks":[{"type":"prometheus"},{"type":"statsd"}]}`
	var cfg metrics.Config
	require.NoError(t, json.Unmarshal([]byte(data), &cfg))
	_, err := metrics.NewMetricsSink(cfg.Sinks)
	assert.ErrorContains(t, err, "metrics sink 1")
}
