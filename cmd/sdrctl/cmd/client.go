package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
)

func dialSocket(ctx context.Context, _, _ string) (net.Conn, error) {
	return (&net.Dialer{}).DialContext(ctx, "unix", socketPath)
}

// apiClient returns an http.Client that connects over the Unix socket.
func apiClient() *http.Client {
	return &http.Client{
		Transport: &http.Transport{DialContext: dialSocket},
	}
}

// apiGet performs a GET and decodes the JSON response.
func apiGet(path string, dest any) error {
	resp, err := apiClient().Get("http://sdrd" + path)
	if err != nil {
		return fmt.Errorf("cannot connect to sdrd at %s: %w", socketPath, err)
	}
	defer resp.Body.Close()
	return decodeResponse(resp, dest)
}

// apiPost performs a POST with an optional JSON body and decodes the JSON response.
func apiPost(path string, body, dest any) error {
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(data)
	}
	resp, err := apiClient().Post("http://sdrd"+path, "application/json", rd)
	if err != nil {
		return fmt.Errorf("cannot connect to sdrd at %s: %w", socketPath, err)
	}
	defer resp.Body.Close()
	return decodeResponse(resp, dest)
}

func decodeResponse(resp *http.Response, dest any) error {
	if resp.StatusCode != http.StatusOK {
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.NewDecoder(resp.Body).Decode(&apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("sdrd returned HTTP %d: %s", resp.StatusCode, apiErr.Error)
		}
		return fmt.Errorf("sdrd returned HTTP %d", resp.StatusCode)
	}
	if dest != nil {
		return json.NewDecoder(resp.Body).Decode(dest)
	}
	return nil
}
