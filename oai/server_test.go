package oai

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"
)

// step is one scripted answer of a fake repository.
type step struct {
	status int
	body   string
	delay  time.Duration
}

func ok(body string) step { return step{status: http.StatusOK, body: body} }

// scriptedServer answers requests with the given steps in order and records
// the query of every request it sees.
type scriptedServer struct {
	*httptest.Server
	mu      sync.Mutex
	steps   []step
	queries []url.Values
}

func newScriptedServer(t *testing.T, steps ...step) *scriptedServer {
	t.Helper()
	s := &scriptedServer{steps: steps}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.queries = append(s.queries, r.URL.Query())
		if len(s.steps) == 0 {
			s.mu.Unlock()
			t.Errorf("unexpected request: %s", r.URL)
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		st := s.steps[0]
		s.steps = s.steps[1:]
		s.mu.Unlock()
		if st.delay > 0 {
			time.Sleep(st.delay)
		}
		w.WriteHeader(st.status)
		fmt.Fprint(w, st.body)
	}))
	t.Cleanup(s.Close)
	return s
}

func (s *scriptedServer) Queries() []url.Values {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]url.Values(nil), s.queries...)
}

func envelope(verb, inner string) string {
	return `<?xml version="1.0" encoding="UTF-8"?>
<OAI-PMH xmlns="http://www.openarchives.org/OAI/2.0/">
<responseDate>2014-07-21T10:00:00Z</responseDate>
<request verb="` + verb + `">http://example.com/oai</request>
` + inner + `
</OAI-PMH>`
}

func recordsPage(token string, ids ...string) string {
	var sb strings.Builder
	sb.WriteString("<ListRecords>")
	for _, id := range ids {
		fmt.Fprintf(&sb, `<record><header><identifier>%s</identifier><datestamp>2014-07-21</datestamp></header>`+
			`<metadata><dc>%s</dc></metadata></record>`, id, id)
	}
	fmt.Fprintf(&sb, `<resumptionToken cursor="0">%s</resumptionToken>`, token)
	sb.WriteString("</ListRecords>")
	return envelope(VerbListRecords, sb.String())
}

func oaiError(code string) string {
	return envelope(VerbListRecords, `<error code="`+code+`">message</error>`)
}

func testHarvester(s *scriptedServer, opts ...Option) *Harvester {
	base := []Option{
		WithMaxAttempts(3),
		WithBackoff(time.Millisecond, 2*time.Millisecond),
		WithTimeout(time.Second),
	}
	return NewHarvester(NewClientDoer(s.Client()), append(base, opts...)...)
}
