package api

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"plugd/internal/session"
	"plugd/internal/storage"
)

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Manager *session.Manager
}

// NewMCPServer creates an MCP server exposing the video session tools.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"plugd",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithInstructions("plugd — ask questions about videos previously uploaded for analysis."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("list_videos",
			mcp.WithDescription("List the video sessions currently held in memory, with status and origin."),
		),
		mcpListVideos(deps),
	)

	s.AddTool(
		mcp.NewTool("ask_video",
			mcp.WithDescription("Ask a question about an analyzed video. The session must be in the ready state."),
			mcp.WithString("session_id", mcp.Description("Video session id"), mcp.Required()),
			mcp.WithString("question", mcp.Description("Question about the video content"), mcp.Required()),
		),
		mcpAskVideo(deps),
	)

	s.AddTool(
		mcp.NewTool("delete_video",
			mcp.WithDescription("Delete a video session, its chat history, and the stored media."),
			mcp.WithString("session_id", mcp.Description("Video session id"), mcp.Required()),
		),
		mcpDeleteVideo(deps),
	)

	return s
}

func mcpListVideos(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		sessions, err := deps.Manager.List()
		if err != nil {
			return mcpError(fmt.Sprintf("failed to list videos: %v", err)), nil
		}

		if len(sessions) == 0 {
			return mcpText("[]"), nil
		}

		type videoResult struct {
			ID        string         `json:"id"`
			Source    storage.Source `json:"source"`
			Origin    string         `json:"origin"`
			Status    storage.Status `json:"status"`
			CreatedAt string         `json:"created_at"`
		}

		results := make([]videoResult, len(sessions))
		for i, s := range sessions {
			results[i] = videoResult{
				ID:        s.ID,
				Source:    s.Source,
				Origin:    s.Origin,
				Status:    s.Status,
				CreatedAt: s.CreatedAt.Format(time.RFC3339),
			}
		}

		b, err := json.Marshal(results)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal results: %v", err)), nil
		}

		return mcpText(string(b)), nil
	}
}

func mcpAskVideo(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := req.RequireString("session_id")
		if err != nil {
			return mcpError("session_id is required"), nil
		}
		question, err := req.RequireString("question")
		if err != nil {
			return mcpError("question is required"), nil
		}
		if strings.TrimSpace(question) == "" {
			return mcpError("question must not be empty"), nil
		}

		answer, err := deps.Manager.Ask(ctx, id, question)
		if err != nil {
			return mcpError(fmt.Sprintf("ask failed: %v", err)), nil
		}

		return mcpText(answer), nil
	}
}

func mcpDeleteVideo(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := req.RequireString("session_id")
		if err != nil {
			return mcpError("session_id is required"), nil
		}

		if err := deps.Manager.Delete(ctx, id); err != nil {
			return mcpError(fmt.Sprintf("delete failed: %v", err)), nil
		}

		return mcpText(fmt.Sprintf("Deleted video session %s", id)), nil
	}
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
