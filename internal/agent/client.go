package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"strings"

	"github.com/MentalVibez/fleetdex/internal/config"
	"github.com/MentalVibez/fleetdex/internal/utils"
)

// RunStatus values reported by the agent-execution subsystem.
const (
	StatusPending   = "pending"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
)

// Run is one poll result for a submitted agent run. Answer is untrusted text
// and only meaningful once Status is completed.
type Run struct {
	RunID  string `json:"run_id"`
	Status string `json:"status"`
	Answer string `json:"answer,omitempty"`
}

// diagnosticProfileID selects the read-only diagnostics profile on the agent
// side; runs under it may inspect but never mutate an endpoint.
const diagnosticProfileID = "dex_proactive"

// Client talks to the agent-execution subsystem over HTTP.
type Client struct {
	baseURL    string
	submitPath string
	pollPath   string
	apiKey     string
	httpClient *http.Client
}

// NewClient constructs a client targeting the configured agent subsystem.
func NewClient(cfg config.AgentConfig) *Client {
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		submitPath: cfg.SubmitPath,
		pollPath:   cfg.PollPath,
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
	}
}

// Submit starts a diagnostic run for the given goal and returns its run id.
func (c *Client) Submit(ctx context.Context, goal string, runContext map[string]any) (string, error) {
	if c.baseURL == "" {
		return "", fmt.Errorf("agent base URL not configured")
	}

	payload := map[string]any{
		"goal":             goal,
		"agent_profile_id": diagnosticProfileID,
		"context":          runContext,
	}

	var response struct {
		RunID string `json:"run_id"`
	}
	if err := c.postJSON(ctx, c.resolvePath(c.submitPath), payload, &response); err != nil {
		return "", utils.NewAppError("agent.submit", "submit diagnostic run", err)
	}
	if response.RunID == "" {
		return "", fmt.Errorf("agent submit returned no run id")
	}
	return response.RunID, nil
}

// Poll fetches the current status of a run.
func (c *Client) Poll(ctx context.Context, runID string) (*Run, error) {
	if c.baseURL == "" {
		return nil, fmt.Errorf("agent base URL not configured")
	}
	if runID == "" {
		return nil, fmt.Errorf("run id is required")
	}

	endpoint := c.resolvePath(path.Join(c.pollPath, runID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, utils.NewAppError("agent.poll", "poll run "+runID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, utils.NewAppError("agent.poll", "poll run "+runID,
			fmt.Errorf("agent subsystem returned %s", resp.Status))
	}

	var run Run
	if err := json.NewDecoder(resp.Body).Decode(&run); err != nil {
		return nil, fmt.Errorf("decode poll response: %w", err)
	}
	if run.RunID == "" {
		run.RunID = runID
	}
	return &run, nil
}

func (c *Client) resolvePath(p string) string {
	if c.baseURL == "" {
		return ""
	}
	cleaned := "/" + strings.TrimLeft(p, "/")
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return c.baseURL + cleaned
	}
	u.Path = path.Join(u.Path, cleaned)
	return u.String()
}

func (c *Client) postJSON(ctx context.Context, endpoint string, payload any, out any) error {
	if endpoint == "" {
		return fmt.Errorf("empty endpoint")
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		return fmt.Errorf("agent subsystem returned %s", resp.Status)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}
}
