package metrics

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.ObserveRequest("ListRecords", "ok", time.Second)
	m.IncRetry("ListRecords")
	m.AddRecords("oai_dc", 3)
	m.IncEndpoint("succeeded")
	m.ObservePoolWait(time.Second)
	assert.Nil(t, m.Registry())
	assert.NoError(t, m.WriteTextfile("ignored"))
}

func TestCounters(t *testing.T) {
	m := New()
	m.ObserveRequest("ListRecords", "ok", 10*time.Millisecond)
	m.ObserveRequest("ListRecords", "ok", 10*time.Millisecond)
	m.IncRetry("ListIdentifiers")
	m.AddRecords("oai_dc", 3)
	m.AddRecords("oai_dc", 0)
	m.IncEndpoint("failed")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.RequestsTotal.WithLabelValues("ListRecords", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RetriesTotal.WithLabelValues("ListIdentifiers")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.RecordsTotal.WithLabelValues("oai_dc")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.EndpointsTotal.WithLabelValues("failed")))
}

func TestWriteTextfile(t *testing.T) {
	m := New()
	m.IncEndpoint("succeeded")
	fn := filepath.Join(t.TempDir(), "oaiharvest.prom")
	require.NoError(t, m.WriteTextfile(fn))

	b, err := os.ReadFile(fn)
	require.NoError(t, err)
	assert.Contains(t, string(b), `oaiharvest_endpoints_total{status="succeeded"} 1`)
}
