// Package mcpintrospect exposes a read-only MCP tool surface over the
// supervisor's Child Table: list_children, get_child_output, and one
// signal — request_stop — rather than a full start/list/logs/kill
// surface, since spawning belongs to the wire control channel alone.
package mcpintrospect

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/rivenq/execport/supervisor"
)

// ListChildrenArgs takes no parameters; list_children always returns the
// full Child Table snapshot.
type ListChildrenArgs struct{}

// GetChildOutputArgs selects one tracked child by pid.
type GetChildOutputArgs struct {
	Pid int `json:"pid" jsonschema:"the OS pid of a tracked child, from list_children"`
}

// RequestStopArgs selects one tracked child to SIGTERM.
type RequestStopArgs struct {
	Pid int `json:"pid" jsonschema:"the OS pid of the tracked child to stop"`
}

// NewServer builds an MCP server with list_children/get_child_output/
// request_stop bound to sup.
func NewServer(sup *supervisor.Supervisor) *mcp.Server {
	server := mcp.NewServer(&mcp.Implementation{
		Name:    "execport-introspect",
		Version: "0.1.0",
	}, nil)

	mcp.AddTool(server, &mcp.Tool{
		Name: "list_children",
		Description: `List every child the supervisor currently tracks (spawned or attached via manage), with its pid, command line, and termination state.

Call this before get_child_output or request_stop to find the pid you need.`,
	}, func(ctx context.Context, req *mcp.CallToolRequest, args ListChildrenArgs) (*mcp.CallToolResult, any, error) {
		snap := sup.Snapshot()
		data, err := json.Marshal(snap)
		if err != nil {
			return nil, nil, fmt.Errorf("marshaling response: %w", err)
		}
		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: string(data)}},
		}, nil, nil
	})

	mcp.AddTool(server, &mcp.Tool{
		Name: "get_child_output",
		Description: `Get the most recent captured stdout+stderr bytes (up to 16KiB) for a tracked child.

Use this to check why a child is failing or stuck, the same way you'd tail a log file.`,
	}, func(ctx context.Context, req *mcp.CallToolRequest, args GetChildOutputArgs) (*mcp.CallToolResult, any, error) {
		tail := sup.OutputTail(args.Pid)
		if tail == nil {
			return &mcp.CallToolResult{
				IsError: true,
				Content: []mcp.Content{&mcp.TextContent{Text: "pid not tracked"}},
			}, nil, nil
		}
		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: string(tail)}},
		}, nil, nil
	})

	mcp.AddTool(server, &mcp.Tool{
		Name: "request_stop",
		Description: `Send SIGTERM to a tracked child. This is a single signal: the supervisor does not escalate to SIGKILL if the child ignores it.

Use this to free resources a child is holding (a port, a lock) without waiting for the peer to issue a stop over the control channel.`,
	}, func(ctx context.Context, req *mcp.CallToolRequest, args RequestStopArgs) (*mcp.CallToolResult, any, error) {
		if err := sup.RequestKill(args.Pid, 15); err != nil {
			return &mcp.CallToolResult{
				IsError: true,
				Content: []mcp.Content{&mcp.TextContent{Text: err.Error()}},
			}, nil, nil
		}
		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: "SIGTERM sent"}},
		}, nil, nil
	})

	return server
}

// ListenAndServe hosts the introspection surface over streamable HTTP at
// addr, a separate port from admin's dashboard and entirely outside the
// wire control channel's stdio.
func ListenAndServe(addr string, sup *supervisor.Supervisor) error {
	server := NewServer(sup)
	handler := mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server { return server }, nil)
	return http.ListenAndServe(addr, handler)
}
