package geocode

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carnamapa/carnamapa/internal/resilience"
)

func newTestGoogle(srvURL string) *Google {
	g := NewGoogle("test-key", WithGoogleBaseURL(srvURL))
	g.retry = resilience.RetryConfig{MaxAttempts: 1}
	return g
}

func TestGoogle_Match(t *testing.T) {
	var gotKey, gotRegion string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.URL.Query().Get("key")
		gotRegion = r.URL.Query().Get("region")
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{
			"status": "OK",
			"results": [{
				"geometry": {"location": {"lat": -23.5613, "lng": -46.6565}},
				"formatted_address": "Av. Paulista, 1000 - São Paulo, SP, Brazil"
			}]
		}`)
	}))
	defer srv.Close()

	res := newTestGoogle(srv.URL).Geocode(context.Background(), Query{Text: "Avenida Paulista, 1000, São Paulo, Brazil"})

	require.Equal(t, KindMatch, res.Kind)
	assert.InDelta(t, -46.6565, res.Lon, 1e-9)
	assert.InDelta(t, -23.5613, res.Lat, 1e-9)
	assert.Equal(t, "google", res.Provider)
	assert.Equal(t, "test-key", gotKey)
	assert.Equal(t, "br", gotRegion)
}

func TestGoogle_ZeroResults_NoMatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"status":"ZERO_RESULTS","results":[]}`)
	}))
	defer srv.Close()

	res := newTestGoogle(srv.URL).Geocode(context.Background(), Query{Text: "Rua Inexistente, Brazil"})
	assert.Equal(t, KindNoMatch, res.Kind)
}

func TestGoogle_RequestDenied_Permanent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"status":"REQUEST_DENIED","error_message":"The provided API key is invalid.","results":[]}`)
	}))
	defer srv.Close()

	res := newTestGoogle(srv.URL).Geocode(context.Background(), Query{Text: "Centro, Salvador, Brazil"})
	require.Equal(t, KindPermanent, res.Kind)
	assert.Contains(t, res.Detail, "REQUEST_DENIED")
}

func TestGoogle_OverQueryLimit_Transient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"status":"OVER_QUERY_LIMIT","results":[]}`)
	}))
	defer srv.Close()

	res := newTestGoogle(srv.URL).Geocode(context.Background(), Query{Text: "Centro, Salvador, Brazil"})
	assert.Equal(t, KindTransient, res.Kind)
}

func TestGoogle_ServerError_Transient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	res := newTestGoogle(srv.URL).Geocode(context.Background(), Query{Text: "Centro, Salvador, Brazil"})
	assert.Equal(t, KindTransient, res.Kind)
}

func TestGoogle_NotConfigured_Permanent(t *testing.T) {
	g := NewGoogle("")
	assert.False(t, g.Configured())

	res := g.Geocode(context.Background(), Query{Text: "Centro, Salvador, Brazil"})
	assert.Equal(t, KindPermanent, res.Kind)
}
