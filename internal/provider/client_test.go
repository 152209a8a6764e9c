package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSendSuccess(t *testing.T) {
	var got sendRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, "Bearer cred-1", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, 5*time.Second)
	err := c.Send(context.Background(), "cred-1", Message{Phone: "+5511999990000", Body: "hi", TrackingID: "trk-1"})
	require.NoError(t, err)
	assert.Equal(t, "+5511999990000", got.To)
	assert.Equal(t, "trk-1", got.TrackingID)
}

func TestSendRateLimitedStatusCode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	err := NewClient(srv.URL, 5*time.Second).Send(context.Background(), "c", Message{Phone: "+55", Body: "x"})
	assert.ErrorIs(t, err, ErrRateLimited)
}

func TestSendRateLimitedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(sendResponse{Status: "rate_limited"})
	}))
	defer srv.Close()

	err := NewClient(srv.URL, 5*time.Second).Send(context.Background(), "c", Message{Phone: "+55", Body: "x"})
	assert.ErrorIs(t, err, ErrRateLimited)
}

func TestSendGenericFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		json.NewEncoder(w).Encode(sendResponse{Error: "upstream unreachable"})
	}))
	defer srv.Close()

	err := NewClient(srv.URL, 5*time.Second).Send(context.Background(), "c", Message{Phone: "+55", Body: "x"})
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrRateLimited)
	assert.Contains(t, err.Error(), "upstream unreachable")
}

func TestSendTimeoutIsGenericError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	err := NewClient(srv.URL, 20*time.Millisecond).Send(context.Background(), "c", Message{Phone: "+55", Body: "x"})
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrRateLimited)
}
