package provider

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/smallbiznis/royaltyledger/internal/config"
	"github.com/smallbiznis/royaltyledger/internal/fxrate/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testProvider(url string, tries int64) *HTTPProvider {
	p := newHTTPProvider(url, config.FXConfig{TimeoutSeconds: 2, MaxRetries: tries}, nil, zap.NewNop())
	p.initialInterval = time.Millisecond
	return p
}

func TestHTTPProvider_GetRate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/2024-03-31", r.URL.Path)
		assert.Equal(t, "EUR", r.URL.Query().Get("from"))
		assert.Equal(t, "USD", r.URL.Query().Get("to"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"amount":1.0,"base":"EUR","date":"2024-03-28","rates":{"USD":1.0811}}`))
	}))
	defer srv.Close()

	rate, err := testProvider(srv.URL, 3).GetRate(context.Background(), time.Date(2024, 3, 31, 12, 0, 0, 0, time.UTC), "EUR", "USD")
	require.NoError(t, err)
	assert.Equal(t, "1.0811", rate.String())
}

func TestHTTPProvider_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{"rates":{"BRL":5.4}}`))
	}))
	defer srv.Close()

	rate, err := testProvider(srv.URL, 3).GetRate(context.Background(), time.Now(), "USD", "BRL")
	require.NoError(t, err)
	assert.Equal(t, "5.4", rate.String())
	assert.Equal(t, int32(3), calls.Load())
}

func TestHTTPProvider_ClientErrorIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := testProvider(srv.URL, 5).GetRate(context.Background(), time.Now(), "EUR", "XAU")
	assert.ErrorIs(t, err, domain.ErrUnavailable)
	assert.Equal(t, int32(1), calls.Load())
}

func TestNewHTTPProvider_Disabled(t *testing.T) {
	assert.Nil(t, NewHTTPProvider(Params{Config: config.Config{}, Log: zap.NewNop()}))
	assert.Nil(t, NewHTTPProvider(Params{
		Config: config.Config{FX: config.FXConfig{APIURL: "http://x", Offline: true}},
		Log:    zap.NewNop(),
	}))
}
