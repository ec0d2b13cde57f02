// Package webhook implements the connector for systems integrated over
// HTTP callbacks. The remote endpoint answers access and erasure calls
// synchronously with 200, or accepts them for asynchronous human handling
// with 202, which surfaces as a pause.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/privacyrun/subjectgrid/internal/checkpoint"
	"github.com/privacyrun/subjectgrid/internal/connector"
	"github.com/privacyrun/subjectgrid/internal/dataset"
	"github.com/privacyrun/subjectgrid/internal/policy"
	"github.com/privacyrun/subjectgrid/internal/traversal"
)

// Config carries the endpoint settings of one webhook connection.
type Config struct {
	// BaseURL is the endpoint root; the connector appends /access, /erasure
	// and /health.
	BaseURL string
	// AuthToken, when set, is sent as a bearer token.
	AuthToken string
	// RetryMax overrides the retry budget for transient failures.
	RetryMax int
	// Timeout bounds each attempt.
	Timeout time.Duration
}

// Connector serves one webhook endpoint.
type Connector struct {
	cfg    Config
	client *retryablehttp.Client
}

// New creates a webhook connector from its endpoint settings.
func New(cfg Config) *Connector {
	client := retryablehttp.NewClient()
	client.Logger = nil
	if cfg.RetryMax > 0 {
		client.RetryMax = cfg.RetryMax
	}
	if cfg.Timeout > 0 {
		client.HTTPClient.Timeout = cfg.Timeout
	}
	return &Connector{cfg: cfg, client: client}
}

// request is the body posted for both phases. Erasure-only fields are
// omitted on access calls and vice versa.
type request struct {
	RequestID  string           `json:"request_id"`
	Collection string           `json:"collection"`
	Locators   map[string][]any `json:"locators"`
	Fields     []string         `json:"fields,omitempty"`
	Update     map[string]any   `json:"update,omitempty"`
	Rows       []dataset.Row    `json:"rows,omitempty"`
}

// response is the synchronous (200) or accepted (202) endpoint answer.
type response struct {
	Rows          []dataset.Row             `json:"rows,omitempty"`
	MaskedCount   int                       `json:"masked_count,omitempty"`
	ActionsNeeded []checkpoint.ManualAction `json:"actions_needed,omitempty"`
}

// StatusError reports a non-success endpoint answer.
type StatusError struct {
	URL    string
	Status int
}

// Error implements the error interface.
func (e *StatusError) Error() string {
	return fmt.Sprintf("webhook %s answered status %d", e.URL, e.Status)
}

// RetrieveData implements connector.Connector.
func (c *Connector) RetrieveData(ctx context.Context, node *traversal.Node, _ *policy.Policy, req connector.RequestContext, input connector.InputData) ([]dataset.Row, error) {
	body := request{
		RequestID:  req.RequestID,
		Collection: node.Address.String(),
		Locators:   locators(input),
		Fields:     fieldNames(node),
	}
	resp, err := c.post(ctx, "/access", body)
	if err != nil {
		return nil, err
	}
	return resp.Rows, nil
}

// MaskData implements connector.Connector.
func (c *Connector) MaskData(ctx context.Context, node *traversal.Node, pol *policy.Policy, req connector.RequestContext, rows []dataset.Row, input connector.InputData) (int, error) {
	update := make(map[string]any)
	for _, path := range connector.MaskTargets(node, pol) {
		update[path.String()] = nil
	}
	body := request{
		RequestID:  req.RequestID,
		Collection: node.Address.String(),
		Locators:   locators(input),
		Update:     update,
		Rows:       rows,
	}
	resp, err := c.post(ctx, "/erasure", body)
	if err != nil {
		return 0, err
	}
	return resp.MaskedCount, nil
}

// TestConnection implements connector.Connector.
func (c *Connector) TestConnection(ctx context.Context) error {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("building health request: %w", err)
	}
	c.authorize(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("probing webhook endpoint: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return &StatusError{URL: req.URL.String(), Status: resp.StatusCode}
	}
	return nil
}

// post sends one phase call and decodes the answer. A 202 answer becomes a
// pause carrying the endpoint's reported actions.
func (c *Connector) post(ctx context.Context, path string, body request) (*response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encoding webhook request: %w", err)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("building webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	c.authorize(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling webhook endpoint: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusAccepted:
	default:
		io.Copy(io.Discard, resp.Body)
		return nil, &StatusError{URL: req.URL.String(), Status: resp.StatusCode}
	}

	var decoded response
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil && err != io.EOF {
		return nil, fmt.Errorf("decoding webhook response: %w", err)
	}

	if resp.StatusCode == http.StatusAccepted {
		return nil, connector.Pause(decoded.ActionsNeeded...)
	}
	return &decoded, nil
}

func (c *Connector) authorize(req *retryablehttp.Request) {
	if c.cfg.AuthToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.AuthToken)
	}
}

func locators(input connector.InputData) map[string][]any {
	out := make(map[string][]any, len(input))
	for path, values := range input {
		out[path.String()] = values
	}
	return out
}

func fieldNames(node *traversal.Node) []string {
	var names []string
	for _, f := range node.Graph.Collection.Fields {
		names = append(names, f.Base().Name)
	}
	return names
}
