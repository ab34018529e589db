package api

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/filerag/internal/pipeline"
	"github.com/kalambet/filerag/internal/querylog"
)

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Store    StoreManager
	Registry DocumentRegistry
	Pipeline Asker
	Log      *querylog.Log
}

// NewMCPServer creates an MCP server with the document QA tools and the
// query history resource registered.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"filerag",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("filerag answers questions using only the uploaded documents."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("ask",
			mcp.WithDescription("Answer a question using only the uploaded documents."),
			mcp.WithString("question", mcp.Description("The question to answer"), mcp.Required()),
		),
		mcpAsk(deps),
	)

	s.AddTool(
		mcp.NewTool("list_documents",
			mcp.WithDescription("List the uploaded documents and their processing state."),
		),
		mcpListDocuments(deps),
	)

	s.AddTool(
		mcp.NewTool("add_document",
			mcp.WithDescription("Upload a document. Provide either text content or base64 content."),
			mcp.WithString("display_name", mcp.Description("File name shown for the document, e.g. notes.txt"), mcp.Required()),
			mcp.WithString("content", mcp.Description("Plain text content")),
			mcp.WithString("content_b64", mcp.Description("Base64 encoded file content")),
			mcp.WithString("mime_type", mcp.Description("Optional MIME type; detected from the name when omitted")),
		),
		mcpAddDocument(deps),
	)

	s.AddTool(
		mcp.NewTool("rate_answer",
			mcp.WithDescription("Record a 1-5 rating for an answer."),
			mcp.WithString("question", mcp.Description("The question that was asked"), mcp.Required()),
			mcp.WithString("answer", mcp.Description("The answer being rated")),
			mcp.WithNumber("score", mcp.Description("Rating from 1 to 5"), mcp.Required()),
			mcp.WithString("note", mcp.Description("Optional comment")),
			mcp.WithString("query_id", mcp.Description("Id of the answered query, if known")),
		),
		mcpRateAnswer(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"history://log",
			"Query History",
			mcp.WithResourceDescription("The plain-text query and rating log"),
			mcp.WithMIMEType("text/plain"),
		),
		mcpResourceHistory(deps),
	)

	return s
}

func mcpAsk(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		question, err := req.RequireString("question")
		if err != nil || strings.TrimSpace(question) == "" {
			return mcpError("question is required"), nil
		}
		if !deps.Store.Exists() {
			return mcpError("No store configured. Create one first."), nil
		}

		resp := deps.Pipeline.Query(ctx, question)
		return mcpText(renderAnswer(resp)), nil
	}
}

// renderAnswer formats a response as the answer followed by numbered sources.
func renderAnswer(resp pipeline.Response) string {
	d := pipeline.FormatForDisplay(resp)
	var b strings.Builder
	b.WriteString(d.Message)
	if len(d.Sources) > 0 {
		b.WriteString("\n\nSources:\n")
		for _, s := range d.Sources {
			fmt.Fprintf(&b, "%d. %s\n", s.Index, s.Document)
		}
	}
	if !resp.Found {
		b.WriteString("\n[not found in documents]")
	}
	fmt.Fprintf(&b, "\n[query id: %s]", resp.ID)
	return b.String()
}

func mcpListDocuments(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		if !deps.Store.Exists() {
			return mcpError("No store configured. Create one first."), nil
		}
		docs, err := deps.Registry.ListDocuments(ctx)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to list documents: %v", err)), nil
		}
		if len(docs) == 0 {
			return mcpText("[]"), nil
		}

		b, err := json.Marshal(docs)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal documents: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpAddDocument(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		name, err := req.RequireString("display_name")
		if err != nil || name == "" {
			return mcpError("display_name is required"), nil
		}
		if !deps.Store.Exists() {
			return mcpError("No store configured. Create one first."), nil
		}

		var content []byte
		if b64 := req.GetString("content_b64", ""); b64 != "" {
			content, err = base64.StdEncoding.DecodeString(b64)
			if err != nil {
				return mcpError("invalid base64 content"), nil
			}
		} else {
			content = []byte(req.GetString("content", ""))
		}
		if len(content) == 0 {
			return mcpError("one of content or content_b64 is required"), nil
		}

		res := deps.Registry.UploadDocument(ctx, content, name, req.GetString("mime_type", ""))
		if !res.Success {
			return mcpError(res.Message), nil
		}
		return mcpText(fmt.Sprintf("%s (id: %s)", res.Message, res.Document.ID)), nil
	}
}

func mcpRateAnswer(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		question, err := req.RequireString("question")
		if err != nil {
			return mcpError("question is required"), nil
		}
		score := req.GetInt("score", 0)

		id := uuid.New().String()
		if err := deps.Pipeline.SaveRating(querylog.Rating{
			ID:       id,
			QueryID:  req.GetString("query_id", ""),
			Question: question,
			Answer:   req.GetString("answer", ""),
			Score:    score,
			Note:     req.GetString("note", ""),
		}); err != nil {
			return mcpError(fmt.Sprintf("failed to save rating: %v", err)), nil
		}
		return mcpText(fmt.Sprintf("Rating saved (%d/5)", score)), nil
	}
}

func mcpResourceHistory(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		text, err := deps.Log.ReadAll()
		if err != nil {
			return nil, fmt.Errorf("failed to read history: %w", err)
		}
		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "text/plain",
				Text:     text,
			},
		}, nil
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
