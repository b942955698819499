package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestClientMutateReturnsHTTPStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_ = json.NewEncoder(w).Encode(mutateResponse{Action: "kill", OK: false, Error: "task not found"})
	}))
	defer srv.Close()

	c := newClient(srv.URL)
	resp, status, err := c.mutate(context.Background(), mutateRequest{Action: "kill", IDs: []string{"foo%1"}})
	require.NoError(t, err)
	require.Equal(t, http.StatusNotFound, status)
	require.False(t, resp.OK)
	require.Equal(t, "task not found", resp.Error)
}

func TestClientMutateTransportFailure(t *testing.T) {
	c := newClient("http://127.0.0.1:0")
	_, _, err := c.mutate(context.Background(), mutateRequest{Action: "kill"})
	require.Error(t, err)
}
