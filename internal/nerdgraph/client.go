// Package nerdgraph is a small client for the New Relic NerdGraph GraphQL
// API covering cloud account linking.
package nerdgraph

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// ErrAlreadyLinked is returned by LinkAccount when the AWS account is
// already linked to the New Relic account.
var ErrAlreadyLinked = errors.New("aws account already linked")

// Request is a GraphQL request document with its variables.
type Request struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

// GraphQLError is a top level GraphQL error.
type GraphQLError struct {
	Message string `json:"message"`
}

type response struct {
	Data   json.RawMessage `json:"data"`
	Errors []GraphQLError  `json:"errors"`
}

type Client struct {
	endpoint   string
	httpClient *http.Client
	logger     zerolog.Logger
}

// NewClient creates a client for endpoint. tlsConfig may be nil.
func NewClient(endpoint string, tlsConfig *tls.Config, logger zerolog.Logger) *Client {
	httpClient := &http.Client{Timeout: 30 * time.Second}
	if tlsConfig != nil {
		transport := http.DefaultTransport.(*http.Transport).Clone()
		transport.TLSClientConfig = tlsConfig
		httpClient.Transport = transport
	}
	return &Client{
		endpoint:   endpoint,
		httpClient: httpClient,
		logger:     logger.With().Str("component", "nerdgraph").Logger(),
	}
}

// Do posts req authenticated with apiKey and decodes the data member into
// out. Top level GraphQL errors fail the call.
func (c *Client) Do(ctx context.Context, apiKey string, req Request, out any) error {
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal graphql request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create graphql request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("API-Key", apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("graphql request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read graphql response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("graphql request: status %d: %s", resp.StatusCode, string(respBody))
	}
	c.logger.Debug().Int("status", resp.StatusCode).Bytes("response", respBody).Msg("graphql response")

	var r response
	if err := json.Unmarshal(respBody, &r); err != nil {
		return fmt.Errorf("decode graphql response: %w", err)
	}
	if len(r.Errors) > 0 {
		msgs := make([]string, 0, len(r.Errors))
		for _, e := range r.Errors {
			msgs = append(msgs, e.Message)
		}
		return fmt.Errorf("graphql errors: %s", strings.Join(msgs, "; "))
	}
	if out == nil {
		return nil
	}
	if len(r.Data) == 0 || string(r.Data) == "null" {
		return fmt.Errorf("graphql response has no data")
	}
	if err := json.Unmarshal(r.Data, out); err != nil {
		return fmt.Errorf("decode graphql data: %w", err)
	}
	return nil
}
