package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clarin-eric/oai-harvest-manager-sub001/metrics"
	"github.com/clarin-eric/oai-harvest-manager-sub001/oai"
	"github.com/clarin-eric/oai-harvest-manager-sub001/output"
	"github.com/clarin-eric/oai-harvest-manager-sub001/overview"
	"github.com/clarin-eric/oai-harvest-manager-sub001/registry"
	"github.com/clarin-eric/oai-harvest-manager-sub001/scenario"
)

// endpoint is a fake repository offering oai_dc with a fixed number of
// records. A non-zero status makes every list request fail.
type endpoint struct {
	records int
	status  int
	delay   time.Duration

	mu    sync.Mutex
	froms []string
}

func (e *endpoint) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	body := `<ListMetadataFormats><metadataFormat><metadataPrefix>oai_dc</metadataPrefix></metadataFormat></ListMetadataFormats>`
	if q.Get("verb") == oai.VerbListRecords {
		time.Sleep(e.delay)
		if e.status != 0 {
			w.WriteHeader(e.status)
			return
		}
		e.mu.Lock()
		e.froms = append(e.froms, q.Get("from"))
		e.mu.Unlock()
		var buf bytes.Buffer
		buf.WriteString("<ListRecords>")
		for i := 0; i < e.records; i++ {
			fmt.Fprintf(&buf, `<record><header><identifier>r%d</identifier><datestamp>2020-01-01</datestamp></header><metadata><dc/></metadata></record>`, i)
		}
		buf.WriteString("</ListRecords>")
		body = buf.String()
	}
	fmt.Fprintf(w, `<?xml version="1.0"?><OAI-PMH><responseDate>2020-01-01T00:00:00Z</responseDate>%s</OAI-PMH>`, body)
}

func (e *endpoint) requestedFrom() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.froms...)
}

func start(t *testing.T, e *endpoint) string {
	t.Helper()
	srv := httptest.NewServer(e)
	t.Cleanup(srv.Close)
	return srv.URL + "/oai"
}

func harvesters(n int) []*oai.Harvester {
	var hs []*oai.Harvester
	for i := 0; i < n; i++ {
		hs = append(hs, oai.NewHarvester(oai.NewClientDoer(http.DefaultClient),
			oai.WithMaxAttempts(2),
			oai.WithBackoff(time.Millisecond, time.Millisecond),
			oai.WithTimeout(2*time.Second)))
	}
	return hs
}

func coordinator() *scenario.Coordinator {
	return scenario.NewCoordinator([]scenario.FormatSelector{{Type: scenario.ByPrefix, Value: "oai_dc"}}, output.Discard)
}

func fixed(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestParsePolicy(t *testing.T) {
	p, err := ParsePolicy("")
	require.NoError(t, err)
	assert.Equal(t, PolicyBlock, p)
	p, err = ParsePolicy("SKIP")
	require.NoError(t, err)
	assert.Equal(t, PolicySkip, p)
	_, err = ParsePolicy("drop")
	assert.ErrorIs(t, err, overview.ErrConfig)
}

func TestRunFullThenIncremental(t *testing.T) {
	e := &endpoint{records: 3}
	uri := start(t, e)
	store := &overview.MemoryStore{}
	src := registry.Static{{URI: uri, Group: "G"}}

	now1 := time.Date(2021, 1, 1, 8, 0, 0, 0, time.UTC)
	summary, err := New(store, coordinator(), harvesters(1), WithSource(src), WithClock(fixed(now1))).Run(context.Background())
	require.NoError(t, err)
	out, ok := summary.Outcome(uri)
	require.True(t, ok)
	assert.Equal(t, StatusSucceeded, out.Status)
	assert.Equal(t, 3, out.Count)
	assert.False(t, out.Incremental)
	assert.NotEmpty(t, summary.RunID)

	o, err := store.Load(context.Background())
	require.NoError(t, err)
	s, ok := o.Get(uri)
	require.True(t, ok)
	assert.Equal(t, now1, s.LastSucceeded)
	assert.Equal(t, now1, s.LastAttempted)
	assert.Equal(t, 3, s.RecordCount)
	assert.Equal(t, 0, s.RecordIncrement)
	assert.Equal(t, "G", s.Group)

	now2 := now1.Add(48 * time.Hour)
	summary, err = New(store, coordinator(), harvesters(1), WithSource(src), WithClock(fixed(now2))).Run(context.Background())
	require.NoError(t, err)
	out, _ = summary.Outcome(uri)
	assert.True(t, out.Incremental)
	assert.Equal(t, 3, out.Increment)
	assert.Equal(t, []string{"", "2021-01-01"}, e.requestedFrom())

	o, err = store.Load(context.Background())
	require.NoError(t, err)
	s, _ = o.Get(uri)
	assert.Equal(t, now2, s.LastSucceeded)
	assert.Equal(t, 3, s.RecordIncrement)
}

func TestRunFailureIsRecordedAndSaved(t *testing.T) {
	good := start(t, &endpoint{records: 2})
	bad := start(t, &endpoint{status: http.StatusServiceUnavailable})
	dir := t.TempDir()
	store := &overview.FileStore{Path: filepath.Join(dir, "overview.xml"), Backups: 2}

	last := time.Date(2020, 6, 1, 0, 0, 0, 0, time.UTC)
	o := overview.New()
	require.NoError(t, o.Put(&overview.EndpointState{
		URI: bad, AllowIncremental: true, Scenario: overview.ScenarioListRecords,
		LastAttempted: last, LastSucceeded: last, RecordCount: 10,
	}))
	require.NoError(t, store.Save(context.Background(), o))

	now := time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC)
	m := metrics.New()
	metricsFile := filepath.Join(dir, "oaiharvest.prom")
	summary, err := New(store, coordinator(), harvesters(2),
		WithSource(registry.Static{{URI: good}}),
		WithClock(fixed(now)),
		WithMetrics(m),
		WithMetricsFile(metricsFile)).Run(context.Background())
	require.NoError(t, err, "endpoint failures do not fail the run")

	out, _ := summary.Outcome(bad)
	assert.Equal(t, StatusFailed, out.Status)
	assert.ErrorIs(t, out.Err, oai.ErrRetriesExhausted)
	out, _ = summary.Outcome(good)
	assert.Equal(t, StatusSucceeded, out.Status)

	back, err := store.Load(context.Background())
	require.NoError(t, err)
	s, _ := back.Get(bad)
	assert.Equal(t, now, s.LastAttempted)
	assert.Equal(t, last, s.LastSucceeded, "failure does not advance the last success")
	assert.Equal(t, 0, s.RecordCount)
	s, _ = back.Get(good)
	assert.Equal(t, now, s.LastSucceeded)

	_, err = os.Stat(store.Path + ".1")
	assert.NoError(t, err, "previous overview kept as backup")
	b, err := os.ReadFile(metricsFile)
	require.NoError(t, err)
	assert.Contains(t, string(b), `oaiharvest_endpoints_total{status="failed"} 1`)
}

func TestRunRetryMode(t *testing.T) {
	e := &endpoint{records: 1}
	retry := start(t, e)
	noRetry := start(t, &endpoint{records: 1})
	blocked := start(t, &endpoint{records: 1})
	last := time.Date(2020, 6, 1, 0, 0, 0, 0, time.UTC)

	var store overview.MemoryStore
	o := overview.New()
	for _, s := range []*overview.EndpointState{
		{URI: retry, AllowRetry: true, AllowIncremental: true, LastAttempted: last, LastSucceeded: last, Scenario: overview.ScenarioListRecords},
		{URI: noRetry, AllowIncremental: true, Scenario: overview.ScenarioListRecords},
		{URI: blocked, Blocked: true, AllowRetry: true, Scenario: overview.ScenarioListRecords},
	} {
		require.NoError(t, o.Put(s))
	}
	require.NoError(t, store.Save(context.Background(), o))

	summary, err := New(&store, coordinator(), harvesters(1), WithMode(overview.ModeRetry)).Run(context.Background())
	require.NoError(t, err)
	statuses := map[string]Status{}
	for _, out := range summary.Outcomes() {
		statuses[out.URI] = out.Status
	}
	assert.Equal(t, map[string]Status{retry: StatusSucceeded, noRetry: StatusSkipped, blocked: StatusBlocked}, statuses)
	assert.Equal(t, []string{""}, e.requestedFrom(), "retry harvests are full harvests")

	back, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, overview.ModeRetry, back.Settings.Mode, "mode override is persisted")
	s, _ := back.Get(noRetry)
	assert.True(t, s.LastAttempted.IsZero())
}

func TestRunSkipPolicyDefers(t *testing.T) {
	slow := start(t, &endpoint{records: 1, delay: 200 * time.Millisecond})
	other := start(t, &endpoint{records: 1})
	var store overview.MemoryStore
	summary, err := New(&store, coordinator(), harvesters(1),
		WithSource(registry.Static{{URI: slow}, {URI: other}}),
		WithPolicy(PolicySkip)).Run(context.Background())
	require.NoError(t, err)
	out, _ := summary.Outcome(other)
	assert.Equal(t, StatusDeferred, out.Status)
	out, _ = summary.Outcome(slow)
	assert.Equal(t, StatusSucceeded, out.Status)

	o, err := store.Load(context.Background())
	require.NoError(t, err)
	s, _ := o.Get(other)
	assert.True(t, s.LastAttempted.IsZero(), "deferred endpoints are not recorded")
}

func TestRunSkipPolicyTakesTurns(t *testing.T) {
	first := start(t, &endpoint{records: 1, delay: 100 * time.Millisecond})
	second := start(t, &endpoint{records: 1, delay: 100 * time.Millisecond})
	src := registry.Static{{URI: first}, {URI: second}}
	var store overview.MemoryStore

	day := time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC)
	statuses := func(s *Summary) map[string]Status {
		m := map[string]Status{}
		for _, out := range s.Outcomes() {
			m[out.URI] = out.Status
		}
		return m
	}
	var runs []map[string]Status
	for i := 0; i < 3; i++ {
		summary, err := New(&store, coordinator(), harvesters(1),
			WithSource(src),
			WithPolicy(PolicySkip),
			WithClock(fixed(day.AddDate(0, 0, i)))).Run(context.Background())
		require.NoError(t, err)
		runs = append(runs, statuses(summary))
	}
	assert.Equal(t, map[string]Status{first: StatusSucceeded, second: StatusDeferred}, runs[0])
	assert.Equal(t, map[string]Status{first: StatusDeferred, second: StatusSucceeded}, runs[1], "deferred endpoint goes first")
	assert.Equal(t, map[string]Status{first: StatusSucceeded, second: StatusDeferred}, runs[2])

	o, err := store.Load(context.Background())
	require.NoError(t, err)
	s, _ := o.Get(second)
	assert.Equal(t, day.AddDate(0, 0, 1), s.LastAttempted)
	s, _ = o.Get(first)
	assert.Equal(t, day.AddDate(0, 0, 2), s.LastAttempted)
}

// pager is a repository whose record list never ends; every page takes
// delay to produce.
type pager struct {
	delay time.Duration
}

func (p pager) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	body := `<ListMetadataFormats><metadataFormat><metadataPrefix>oai_dc</metadataPrefix></metadataFormat></ListMetadataFormats>`
	if q.Get("verb") == oai.VerbListRecords {
		time.Sleep(p.delay)
		n, _ := strconv.Atoi(q.Get("resumptionToken"))
		body = fmt.Sprintf(`<ListRecords><record><header><identifier>r%d</identifier><datestamp>2020-01-01</datestamp></header><metadata><dc/></metadata></record>`+
			`<resumptionToken>%d</resumptionToken></ListRecords>`, n, n+1)
	}
	fmt.Fprintf(w, `<?xml version="1.0"?><OAI-PMH><responseDate>2020-01-01T00:00:00Z</responseDate>%s</OAI-PMH>`, body)
}

func TestRunCanceledDuringHarvest(t *testing.T) {
	srv := httptest.NewServer(pager{delay: 50 * time.Millisecond})
	t.Cleanup(srv.Close)
	uri := srv.URL + "/oai"

	dir := t.TempDir()
	sink, err := output.NewFileSink(dir)
	require.NoError(t, err)
	c := scenario.NewCoordinator([]scenario.FormatSelector{{Type: scenario.ByPrefix, Value: "oai_dc"}}, sink)
	var store overview.MemoryStore

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(120*time.Millisecond, cancel)
	summary, err := New(&store, c, harvesters(1), WithSource(registry.Static{{URI: uri}})).Run(ctx)
	require.NoError(t, err)
	require.NoError(t, sink.Close())

	out, _ := summary.Outcome(uri)
	assert.Equal(t, StatusCanceled, out.Status)
	assert.ErrorIs(t, out.Err, context.Canceled)
	assert.Greater(t, out.Count, 0, "pages before the cancellation were harvested")

	o, err := store.Load(context.Background())
	require.NoError(t, err)
	s, ok := o.Get(uri)
	require.True(t, ok)
	assert.True(t, s.LastAttempted.IsZero(), "interrupted harvest is not recorded")
	assert.Zero(t, s.RecordCount)

	var files []string
	require.NoError(t, filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err == nil && !d.IsDir() {
			files = append(files, path)
		}
		return err
	}))
	assert.Empty(t, files, "output of an interrupted harvest is dropped")
}

func TestRunIgnoresEntryWithoutURI(t *testing.T) {
	uri := start(t, &endpoint{records: 1})
	var store overview.MemoryStore
	for i := 0; i < 2; i++ {
		summary, err := New(&store, coordinator(), harvesters(1),
			WithSource(registry.Static{{URI: " ", Group: "broken"}, {URI: uri}})).Run(context.Background())
		require.NoError(t, err)
		out, _ := summary.Outcome(uri)
		assert.Equal(t, StatusSucceeded, out.Status)
		assert.Len(t, summary.Outcomes(), 1)
	}
	o, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, o.Len())
}

func TestRunRefreshNeedsDate(t *testing.T) {
	_, err := New(&overview.MemoryStore{}, coordinator(), harvesters(1), WithMode(overview.ModeRefresh)).Run(context.Background())
	assert.ErrorIs(t, err, overview.ErrConfig)
}

func TestRunRefreshFrom(t *testing.T) {
	e := &endpoint{records: 1}
	uri := start(t, e)
	_, err := New(&overview.MemoryStore{}, coordinator(), harvesters(1),
		WithSource(registry.Static{{URI: uri}}),
		WithMode(overview.ModeRefresh),
		WithRefreshFrom(time.Date(2014, 7, 21, 0, 0, 0, 0, time.UTC))).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"2014-07-21"}, e.requestedFrom())
}

func TestRunCorruptOverview(t *testing.T) {
	path := filepath.Join(t.TempDir(), "overview.xml")
	require.NoError(t, os.WriteFile(path, []byte("<overview><endpoint"), 0644))
	_, err := New(&overview.FileStore{Path: path}, coordinator(), harvesters(1)).Run(context.Background())
	assert.ErrorIs(t, err, overview.ErrConfig)
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "<overview><endpoint", string(b), "corrupt file is not replaced")
}

func TestRunCanceledBeforeStart(t *testing.T) {
	e := &endpoint{records: 1}
	uri := start(t, e)
	var store overview.MemoryStore
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	summary, err := New(&store, coordinator(), harvesters(1), WithSource(registry.Static{{URI: uri}})).Run(ctx)
	require.NoError(t, err)
	out, _ := summary.Outcome(uri)
	assert.Equal(t, StatusCanceled, out.Status)
	assert.Empty(t, e.requestedFrom())

	o, err := store.Load(context.Background())
	require.NoError(t, err)
	s, ok := o.Get(uri)
	require.True(t, ok, "overview saved after cancellation")
	assert.True(t, s.LastAttempted.IsZero())
}

type failingStore struct{ overview.MemoryStore }

func (*failingStore) Save(context.Context, *overview.Overview) error {
	return errors.New("read-only file system")
}

func TestRunSaveFailureIsFatal(t *testing.T) {
	_, err := New(&failingStore{}, coordinator(), harvesters(1)).Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read-only file system")
}

func TestRunWithoutWorkers(t *testing.T) {
	_, err := New(&overview.MemoryStore{}, coordinator(), nil).Run(context.Background())
	assert.ErrorIs(t, err, overview.ErrConfig)
}

func TestSummaryRender(t *testing.T) {
	s := &Summary{RunID: "r1", Mode: overview.ModeNormal}
	s.add(Outcome{URI: "http://b/oai", Status: StatusFailed, Err: errors.New("boom"), Count: 1})
	s.add(Outcome{URI: "http://a/oai", Status: StatusSucceeded, Count: 2, Increment: 2})
	var buf bytes.Buffer
	s.Render(&buf)
	out := buf.String()
	assert.Contains(t, out, "http://a/oai")
	assert.Contains(t, out, "boom")
	assert.Contains(t, out, "r1")
	assert.Equal(t, map[Status]int{StatusFailed: 1, StatusSucceeded: 1}, s.Counts())
	assert.Equal(t, "http://a/oai", s.Outcomes()[0].URI)
}
