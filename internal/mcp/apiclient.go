package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"

	"github.com/G3UKB/SDRLibE/internal/script"
	"github.com/G3UKB/SDRLibE/pkg/protocol"
)

// DaemonAPI is the interface for talking to the sdrd daemon API.
// Implemented by APIClient; tests can provide a mock.
type DaemonAPI interface {
	GetStatus(ctx context.Context) (*protocol.StatusResponse, error)
	GetOutputs(ctx context.Context) (*protocol.OutputsResponse, error)
	GetScripts(ctx context.Context) ([]script.Info, error)
	ReloadScripts(ctx context.Context) error
	SendCommand(ctx context.Context, req protocol.CommandRequest) (*protocol.CommandResponse, error)
}

// APIClient talks to the sdrd daemon over its Unix socket HTTP API.
type APIClient struct {
	client *http.Client
}

// NewAPIClient creates an APIClient connected to the daemon's Unix socket.
func NewAPIClient(socketPath string) *APIClient {
	return &APIClient{
		client: &http.Client{
			Transport: &http.Transport{
				DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
					return (&net.Dialer{}).DialContext(ctx, "unix", socketPath)
				},
			},
		},
	}
}

func (c *APIClient) GetStatus(ctx context.Context) (*protocol.StatusResponse, error) {
	var resp protocol.StatusResponse
	if err := c.do(ctx, http.MethodGet, "/api/v1/status", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *APIClient) GetOutputs(ctx context.Context) (*protocol.OutputsResponse, error) {
	var resp protocol.OutputsResponse
	if err := c.do(ctx, http.MethodGet, "/api/v1/outputs", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *APIClient) GetScripts(ctx context.Context) ([]script.Info, error) {
	var resp struct {
		Scripts []script.Info `json:"scripts"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/v1/scripts", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Scripts, nil
}

func (c *APIClient) ReloadScripts(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/api/v1/scripts/reload", nil, nil)
}

func (c *APIClient) SendCommand(ctx context.Context, req protocol.CommandRequest) (*protocol.CommandResponse, error) {
	var resp protocol.CommandResponse
	if err := c.do(ctx, http.MethodPost, "/api/v1/command", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *APIClient) do(ctx context.Context, method, path string, body, dst any) error {
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, "http://sdrd"+path, rd)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("request %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.NewDecoder(resp.Body).Decode(&apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("%s returned status %d: %s", path, resp.StatusCode, apiErr.Error)
		}
		return fmt.Errorf("%s returned status %d", path, resp.StatusCode)
	}
	if dst == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(dst)
}
