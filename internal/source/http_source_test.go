package source

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/timetable-sync/pkg/config"
	appErrors "github.com/noah-isme/timetable-sync/pkg/errors"
)

func TestHTTPSourceFetchesPayloads(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		switch r.URL.Path {
		case "/timetable":
			_, _ = w.Write([]byte(`{"days":[]}`))
		case "/substitutions":
			_, _ = w.Write([]byte(`[]`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	src := NewHTTPSource(config.SourceConfig{
		TimetableURL:    server.URL + "/timetable",
		SubstitutionURL: server.URL + "/substitutions",
		AuthToken:       "secret",
	}, nil)

	body, err := src.FetchTimetable(context.Background())
	require.NoError(t, err)
	assert.Equal(t, `{"days":[]}`, string(body))

	subs, err := src.FetchSubstitutions(context.Background())
	require.NoError(t, err)
	assert.Equal(t, `[]`, string(subs))
}

func TestHTTPSourceWithoutSubstitutionFeed(t *testing.T) {
	src := NewHTTPSource(config.SourceConfig{TimetableURL: "http://example.invalid"}, nil)
	subs, err := src.FetchSubstitutions(context.Background())
	assert.NoError(t, err)
	assert.Nil(t, subs)
}

func TestHTTPSourceMapsStatusCodes(t *testing.T) {
	for _, status := range []int{http.StatusUnauthorized, http.StatusNotFound, http.StatusServiceUnavailable} {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(status)
		}))
		src := NewHTTPSource(config.SourceConfig{TimetableURL: server.URL}, nil)

		_, err := src.FetchTimetable(context.Background())
		server.Close()

		require.Error(t, err)
		assert.True(t, appErrors.HasCode(err, appErrors.ErrFetchHTTP.Code))
		got, ok := appErrors.UpstreamStatus(err)
		require.True(t, ok)
		assert.Equal(t, status, got)
	}
}

func TestHTTPSourceTimeout(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	src := NewHTTPSource(config.SourceConfig{TimetableURL: server.URL}, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := src.FetchTimetable(ctx)
	require.Error(t, err)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrFetchTimeout.Code))
}

func TestHTTPSourceNetworkError(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	src := NewHTTPSource(config.SourceConfig{TimetableURL: url}, nil)
	_, err := src.FetchTimetable(context.Background())
	require.Error(t, err)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrFetchNetwork.Code))
}

func TestHTTPSourceRequiresTimetableURL(t *testing.T) {
	_, err := NewHTTPSource(config.SourceConfig{}, nil).FetchTimetable(context.Background())
	assert.True(t, appErrors.HasCode(err, appErrors.ErrFetchNetwork.Code))
}
