// Package client provides the REST consumer of the external mission
// execution engine: mission/run fetches, run start and node retry requests.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/groundlink/missionwatch/pkg/models"
)

// ErrNotFound is returned when the engine reports a missing resource.
var ErrNotFound = errors.New("resource not found")

// DefaultTimeout bounds each REST call.
const DefaultTimeout = 30 * time.Second

// EngineClient is the subset of engine operations this core consumes.
// Defined as an interface so ingest, retry and session logic can be tested
// against fakes.
type EngineClient interface {
	// GetMission fetches the static mission definition
	GetMission(ctx context.Context, missionID string) (models.Mission, error)

	// ListRuns lists known runs
	ListRuns(ctx context.Context) ([]models.Run, error)

	// GetRun fetches one run instance with per-node state
	GetRun(ctx context.Context, runID string) (models.Run, error)

	// StartRun asks the engine to begin executing a mission
	StartRun(ctx context.Context, missionID string) (models.Run, error)

	// RetryNode asks the engine to retry a single failed node within a run
	RetryNode(ctx context.Context, runID, nodeID string) error
}

// HTTPEngineClient talks JSON over HTTP to the engine's REST API.
type HTTPEngineClient struct {
	baseURL string
	client  *http.Client
}

// NewHTTPEngineClient creates a client for the engine at baseURL, e.g.
// "http://localhost:8080/api/v1".
func NewHTTPEngineClient(baseURL string) *HTTPEngineClient {
	return &HTTPEngineClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: DefaultTimeout},
	}
}

// SetTimeout overrides the per-request timeout.
func (c *HTTPEngineClient) SetTimeout(timeout time.Duration) {
	c.client.Timeout = timeout
}

// GetMission fetches a mission definition by id.
func (c *HTTPEngineClient) GetMission(ctx context.Context, missionID string) (models.Mission, error) {
	var mission models.Mission
	err := c.doJSON(ctx, http.MethodGet, "/missions/"+url.PathEscape(missionID), nil, &mission)
	if err != nil {
		return models.Mission{}, fmt.Errorf("fetch mission %s: %w", missionID, err)
	}
	return mission, nil
}

// ListRuns lists all runs the engine is tracking.
func (c *HTTPEngineClient) ListRuns(ctx context.Context) ([]models.Run, error) {
	var runs []models.Run
	if err := c.doJSON(ctx, http.MethodGet, "/runs", nil, &runs); err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	return runs, nil
}

// GetRun fetches one run instance, including per-node state. This is the
// reconciliation endpoint used after a reconnect.
func (c *HTTPEngineClient) GetRun(ctx context.Context, runID string) (models.Run, error) {
	var run models.Run
	err := c.doJSON(ctx, http.MethodGet, "/runs/"+url.PathEscape(runID), nil, &run)
	if err != nil {
		return models.Run{}, fmt.Errorf("fetch run %s: %w", runID, err)
	}
	return run, nil
}

// StartRun launches a new run of the given mission.
func (c *HTTPEngineClient) StartRun(ctx context.Context, missionID string) (models.Run, error) {
	body := map[string]string{"missionId": missionID}
	var run models.Run
	err := c.doJSON(ctx, http.MethodPost, "/runs", body, &run)
	if err != nil {
		return models.Run{}, fmt.Errorf("start run for mission %s: %w", missionID, err)
	}
	return run, nil
}

// RetryNode issues a retry request for one node within a run.
func (c *HTTPEngineClient) RetryNode(ctx context.Context, runID, nodeID string) error {
	path := "/runs/" + url.PathEscape(runID) + "/nodes/" + url.PathEscape(nodeID) + "/retry"
	if err := c.doJSON(ctx, http.MethodPost, path, nil, nil); err != nil {
		return fmt.Errorf("retry node %s in run %s: %w", nodeID, runID, err)
	}
	return nil
}

// doJSON performs one request with a JSON body and decodes a JSON response
// into out when out is non-nil.
func (c *HTTPEngineClient) doJSON(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request body: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("engine returned %d: %s", resp.StatusCode, bytes.TrimSpace(snippet))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
