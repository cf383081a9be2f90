package geo

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/fromscratch/from-scratch/pkg/fromscratch/metrics"
)

func TestLookupSuccess(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/203.0.113.7", r.URL.Path)
		w.Write([]byte(`{"status":"success","country":"Germany","city":"Berlin","regionName":"BE","timezone":"Europe/Berlin"}`))
	}))
	defer server.Close()

	loc := NewHTTPClient(server.URL).Lookup(context.Background(), "203.0.113.7")
	assert.Equal(t, Location{
		Country:  "Germany",
		City:     "Berlin",
		Region:   "BE",
		Timezone: "Europe/Berlin",
	}, loc)
}

func TestLookupFailuresYieldZeroLocation(t *testing.T) {
	t.Run("service reports fail", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"status":"fail","message":"private range"}`))
		}))
		defer server.Close()

		loc := NewHTTPClient(server.URL).Lookup(context.Background(), "10.0.0.1")
		assert.Equal(t, Location{}, loc)
	})

	t.Run("non-OK status", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusTooManyRequests)
		}))
		defer server.Close()

		loc := NewHTTPClient(server.URL).Lookup(context.Background(), "203.0.113.7")
		assert.Equal(t, Location{}, loc)
	})

	t.Run("malformed body", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{not json`))
		}))
		defer server.Close()

		loc := NewHTTPClient(server.URL).Lookup(context.Background(), "203.0.113.7")
		assert.Equal(t, Location{}, loc)
	})

	t.Run("unreachable endpoint", func(t *testing.T) {
		loc := NewHTTPClient("http://127.0.0.1:1").Lookup(context.Background(), "203.0.113.7")
		assert.Equal(t, Location{}, loc)
	})

	t.Run("empty ip short-circuits", func(t *testing.T) {
		loc := NewHTTPClient("http://127.0.0.1:1").Lookup(context.Background(), "")
		assert.Equal(t, Location{}, loc)
	})
}

func TestLookupFailureCounter(t *testing.T) {
	// A "fail" answer is a completed lookup with no data, not a failure.
	noData := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"fail","message":"private range"}`))
	}))
	defer noData.Close()

	before := testutil.ToFloat64(metrics.GeoLookupFailures)
	NewHTTPClient(noData.URL).Lookup(context.Background(), "10.0.0.1")
	assert.Equal(t, before, testutil.ToFloat64(metrics.GeoLookupFailures))

	broken := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer broken.Close()

	NewHTTPClient(broken.URL).Lookup(context.Background(), "203.0.113.7")
	assert.Equal(t, before+1, testutil.ToFloat64(metrics.GeoLookupFailures))
}

func TestNoop(t *testing.T) {
	assert.Equal(t, Location{}, Noop{}.Lookup(context.Background(), "203.0.113.7"))
}
