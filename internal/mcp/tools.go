package mcp

import (
	"context"
	"encoding/json"
	"time"

	mcplib "github.com/mark3labs/mcp-go/mcp"

	"github.com/G3UKB/SDRLibE/pkg/protocol"
)

const defaultPacketWait = 5 * time.Second

func (s *MCPServer) handleGetStatus(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	status, err := s.api.GetStatus(ctx)
	if err != nil {
		return textError("failed to get status: " + err.Error()), nil
	}
	return textJSON(status)
}

func (s *MCPServer) handleListOutputs(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	outputs, err := s.api.GetOutputs(ctx)
	if err != nil {
		return textError("failed to list outputs: " + err.Error()), nil
	}
	return textJSON(outputs.Outputs)
}

func (s *MCPServer) handleListScripts(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	scripts, err := s.api.GetScripts(ctx)
	if err != nil {
		return textError("failed to list scripts: " + err.Error()), nil
	}
	return textJSON(scripts)
}

func (s *MCPServer) handleReloadScripts(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	if err := s.api.ReloadScripts(ctx); err != nil {
		return textError("failed to reload scripts: " + err.Error()), nil
	}
	return textResult(`{"status":"reloaded"}`), nil
}

func (s *MCPServer) handleSendCommand(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	cmd, err := req.RequireString("cmd")
	if err != nil || cmd == "" {
		return textError("missing required parameter: cmd"), nil
	}

	params := []any{}
	if raw, ok := req.GetArguments()["params"]; ok && raw != nil {
		list, ok := raw.([]any)
		if !ok {
			return textError("params must be an array"), nil
		}
		params = list
	}

	resp, err := s.api.SendCommand(ctx, protocol.CommandRequest{Cmd: cmd, Params: params})
	if err != nil {
		return textError("command failed: " + err.Error()), nil
	}
	return textJSON(resp)
}

func (s *MCPServer) handleNextPacket(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	if s.nc == nil {
		return textError("stream not available: no NATS URL configured"), nil
	}

	subject := protocol.SubjectStreamAll
	if port := req.GetInt("port", 0); port > 0 {
		subject = protocol.SubjectStream(port)
	}
	wait := defaultPacketWait
	if ms := req.GetInt("timeout_ms", 0); ms > 0 {
		wait = time.Duration(ms) * time.Millisecond
	}

	sub, err := s.nc.SubscribeSync(subject)
	if err != nil {
		return textError("failed to subscribe: " + err.Error()), nil
	}
	defer sub.Unsubscribe()

	ctx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()
	msg, err := sub.NextMsgWithContext(ctx)
	if err != nil {
		return textError("no packet on " + subject + " within " + wait.String()), nil
	}

	var ev protocol.Event
	if err := json.Unmarshal(msg.Data, &ev); err != nil {
		return textError("malformed packet event: " + err.Error()), nil
	}
	return textJSON(ev)
}

// textResult returns a successful text result.
func textResult(text string) *mcplib.CallToolResult {
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: text},
		},
	}
}

// textError returns an error text result.
func textError(msg string) *mcplib.CallToolResult {
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}

// textJSON marshals v to indented JSON and returns it as a text result.
func textJSON(v any) (*mcplib.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return textError("failed to marshal response: " + err.Error()), nil
	}
	return textResult(string(data)), nil
}
