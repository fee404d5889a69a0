package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/engramhq/engram/internal/domain"
	"github.com/engramhq/engram/internal/service"
)

// Server exposes the memory engine to agents over the stdio tool protocol.
// The transport owns stdout, so the logger passed in must sink to stderr or
// a file; anything printed to stdout corrupts the framing.
type Server struct {
	memories *service.MemoryService
	recall   *service.RecallService
	mcp      *server.MCPServer
	logger   *zap.Logger
}

func NewServer(memories *service.MemoryService, recall *service.RecallService, version string, logger *zap.Logger) *Server {
	s := &Server{
		memories: memories,
		recall:   recall,
		logger:   logger,
	}

	srv := server.NewMCPServer("engram", version,
		server.WithToolCapabilities(false),
	)
	srv.AddTool(rememberTool(), s.handleRemember)
	srv.AddTool(recallTool(), s.handleRecall)
	srv.AddTool(forgetTool(), s.handleForget)
	srv.AddTool(statusTool(), s.handleStatus)
	s.mcp = srv
	return s
}

// ServeStdio blocks reading requests from stdin until EOF or a fatal
// transport error.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

func rememberTool() mcp.Tool {
	return mcp.NewTool("remember",
		mcp.WithDescription("Store a memory. Category, entity and confidence are inferred from the content when left out."),
		mcp.WithString("content",
			mcp.Required(),
			mcp.Description("What to remember"),
		),
		mcp.WithString("category",
			mcp.Description("One of: preference, fact, pattern, decision, outcome"),
		),
		mcp.WithString("entity",
			mcp.Description("Subject the memory is about"),
		),
		mcp.WithNumber("confidence",
			mcp.Description("Initial confidence, between 0 and 1"),
			mcp.Min(0),
			mcp.Max(1),
		),
		mcp.WithString("namespace",
			mcp.Description("Scope key; defaults to \"default\""),
		),
		mcp.WithArray("tags",
			mcp.Description("Free-form labels"),
			mcp.Items(map[string]any{"type": "string"}),
		),
	)
}

func recallTool() mcp.Tool {
	return mcp.NewTool("recall",
		mcp.WithDescription("Search stored memories by meaning and keywords. Results carry a blended score and its breakdown."),
		mcp.WithString("query",
			mcp.Required(),
			mcp.Description("What to look for"),
		),
		mcp.WithNumber("limit",
			mcp.Description("Maximum results, between 1 and 100; defaults to 5"),
			mcp.Min(1),
			mcp.Max(100),
		),
		mcp.WithNumber("threshold",
			mcp.Description("Minimum semantic similarity, between 0 and 1; defaults to 0.3"),
			mcp.Min(0),
			mcp.Max(1),
		),
		mcp.WithString("namespace",
			mcp.Description("Scope key; defaults to \"default\""),
		),
		mcp.WithString("category",
			mcp.Description("Restrict to one category"),
		),
	)
}

func forgetTool() mcp.Tool {
	return mcp.NewTool("forget",
		mcp.WithDescription("Delete a memory by id."),
		mcp.WithString("id",
			mcp.Required(),
			mcp.Description("Memory id to delete"),
		),
	)
}

func statusTool() mcp.Tool {
	return mcp.NewTool("status",
		mcp.WithDescription("Report store counts, embedding model health and the effective configuration."),
	)
}

type rememberPayload struct {
	ID         string           `json:"id"`
	Content    string           `json:"content"`
	Category   domain.Category  `json:"category"`
	Entity     *string          `json:"entity,omitempty"`
	Confidence float64          `json:"confidence"`
	Namespace  string           `json:"namespace"`
	Tags       []string         `json:"tags"`
	Warnings   []domain.Warning `json:"warnings,omitempty"`
}

func (s *Server) handleRemember(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	content, err := req.RequireString("content")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	in := service.IngestInput{
		Content:   content,
		Category:  req.GetString("category", ""),
		Namespace: req.GetString("namespace", ""),
		Tags:      req.GetStringSlice("tags", nil),
		Source:    string(domain.SourceMCP),
	}
	if e := req.GetString("entity", ""); e != "" {
		in.Entity = &e
	}
	// Zero is a legal confidence, so presence has to be checked explicitly.
	if _, ok := req.GetArguments()["confidence"]; ok {
		c := req.GetFloat("confidence", 0)
		in.Confidence = &c
	}

	result, err := s.memories.Ingest(ctx, in)
	if err != nil {
		return toolError(err), nil
	}

	s.logger.Info("memory remembered",
		zap.String("id", result.Memory.ID),
		zap.String("category", string(result.Memory.Category)),
	)

	return toolJSON(rememberPayload{
		ID:         result.Memory.ID,
		Content:    result.Memory.Content,
		Category:   result.Memory.Category,
		Entity:     result.Memory.Entity,
		Confidence: result.Memory.Confidence,
		Namespace:  result.Memory.Namespace,
		Tags:       result.Memory.Tags,
		Warnings:   result.Warnings,
	})
}

type recallPayload struct {
	Memories []domain.RecallResult `json:"memories"`
	Count    int                   `json:"count"`
}

func (s *Server) handleRecall(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, err := req.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	q := domain.RecallQuery{
		Query:     query,
		Limit:     req.GetInt("limit", 0),
		Namespace: req.GetString("namespace", ""),
	}
	if _, ok := req.GetArguments()["threshold"]; ok {
		th := req.GetFloat("threshold", 0)
		q.Threshold = &th
	}
	if c := req.GetString("category", ""); c != "" {
		cat := domain.Category(c)
		q.Category = &cat
	}

	results, err := s.recall.Recall(ctx, q)
	if err != nil {
		return toolError(err), nil
	}
	if results == nil {
		results = []domain.RecallResult{}
	}

	return toolJSON(recallPayload{Memories: results, Count: len(results)})
}

func (s *Server) handleForget(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	if err := s.memories.Delete(ctx, id); err != nil {
		return toolError(err), nil
	}

	s.logger.Info("memory forgotten", zap.String("id", id))
	return toolJSON(map[string]any{"deleted": true, "id": id})
}

func (s *Server) handleStatus(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	status, err := s.memories.Status(ctx)
	if err != nil {
		return toolError(err), nil
	}
	return toolJSON(status)
}

func toolJSON(v any) (*mcp.CallToolResult, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Internal: encode result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(b)), nil
}

// toolError reports a failure in-band as "Kind: message" so agents can react
// to the kind. Protocol-level errors are reserved for transport problems.
func toolError(err error) *mcp.CallToolResult {
	var derr *domain.Error
	if errors.As(err, &derr) {
		return mcp.NewToolResultError(fmt.Sprintf("%s: %s", derr.Kind, derr.Message))
	}
	return mcp.NewToolResultError(err.Error())
}
