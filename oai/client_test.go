package oai

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type doerFunc func(*http.Request) (*http.Response, error)

func (f doerFunc) Do(r *http.Request) (*http.Response, error) { return f(r) }

func TestRetryableStatus(t *testing.T) {
	for code, want := range map[int]bool{
		http.StatusInternalServerError: true,
		http.StatusServiceUnavailable:  true,
		http.StatusRequestTimeout:      true,
		http.StatusTooManyRequests:     true,
		http.StatusNotFound:            false,
		http.StatusBadRequest:          false,
		http.StatusForbidden:           false,
	} {
		assert.Equal(t, want, retryableStatus(code), code)
	}
}

func TestClientTransportErrors(t *testing.T) {
	boom := errors.New("connection reset by peer")
	c := NewClientDoer(doerFunc(func(*http.Request) (*http.Response, error) { return nil, boom }))
	_, err := c.Do(context.Background(), Request{Endpoint: "http://example.com/oai", Verb: VerbIdentify})
	require.Error(t, err)
	assert.True(t, IsTransient(err))
	assert.ErrorIs(t, err, boom)

	c = NewClientDoer(doerFunc(func(*http.Request) (*http.Response, error) { return nil, context.Canceled }))
	_, err = c.Do(context.Background(), Request{Endpoint: "http://example.com/oai", Verb: VerbIdentify})
	require.Error(t, err)
	assert.False(t, IsTransient(err))
}

func TestClientSetsUserAgent(t *testing.T) {
	srv := newScriptedServer(t, ok(envelope(VerbIdentify, "<Identify><repositoryName>x</repositoryName></Identify>")))
	var agent string
	c := NewClientDoer(doerFunc(func(r *http.Request) (*http.Response, error) {
		agent = r.Header.Get("User-Agent")
		return srv.Client().Do(r)
	}))
	resp, err := c.Do(context.Background(), Request{Endpoint: srv.URL, Verb: VerbIdentify})
	require.NoError(t, err)
	assert.Equal(t, "x", resp.Identify.Name)
	assert.Equal(t, UserAgent, agent)
}

func TestClientInvalidRequest(t *testing.T) {
	_, err := NewClient(0).Do(context.Background(), Request{Verb: VerbIdentify})
	assert.ErrorIs(t, err, ErrNoEndpoint)
	assert.False(t, IsTransient(err))
}
