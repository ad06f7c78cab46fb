package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"revflow/internal/metrics"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// Client starts the external long-running review agent. Fire-and-forget:
// the response tells us only whether the invocation was accepted, never
// its result. The agent reports back through the completion-callback API
// using the workflow ID as its session key.
type Client struct {
	url        string
	httpClient *http.Client
}

func NewClient(url string, timeout time.Duration) *Client {
	return &Client{
		url: url,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

type invocationRequest struct {
	WorkflowID uuid.UUID       `json:"workflow_id"`
	Payload    json.RawMessage `json:"payload"`
}

func (c *Client) Invoke(ctx context.Context, workflowID uuid.UUID, payload []byte) error {
	body, err := json.Marshal(invocationRequest{
		WorkflowID: workflowID,
		Payload:    payload,
	})
	if err != nil {
		return errors.Wrap(err, "encoding agent invocation")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return errors.Wrap(err, "building agent invocation request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		metrics.AgentInvocations.WithLabelValues("rejected").Inc()
		return errors.Wrap(err, "calling agent")
	}
	defer resp.Body.Close()
	// The result body is never inspected; drain it so the connection can
	// be reused.
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 300 {
		metrics.AgentInvocations.WithLabelValues("rejected").Inc()
		return errors.Errorf("agent rejected invocation with status %d", resp.StatusCode)
	}
	metrics.AgentInvocations.WithLabelValues("accepted").Inc()
	return nil
}
