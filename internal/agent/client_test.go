package agent

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInvoke_Accepted(t *testing.T) {
	workflowID := uuid.New()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req invocationRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, workflowID, req.WorkflowID)
		assert.JSONEq(t, `{"event_type":"pr.opened","event":{}}`, string(req.Payload))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, 5*time.Second)
	err := client.Invoke(context.Background(), workflowID, []byte(`{"event_type":"pr.opened","event":{}}`))
	assert.NoError(t, err)
}

func TestInvoke_Rejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, 5*time.Second)
	err := client.Invoke(context.Background(), uuid.New(), []byte(`{}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")
}

func TestInvoke_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // closed on purpose

	client := NewClient(srv.URL, time.Second)
	err := client.Invoke(context.Background(), uuid.New(), []byte(`{}`))
	assert.Error(t, err)
}
