// guidon-mcp exposes a guidon server to MCP clients over stdio.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"guidon/internal/client"
	"guidon/internal/interaction"
	"guidon/internal/logging"
	"guidon/internal/reconcile"
)

// DispatchParams are the arguments of guidon_dispatch.
type DispatchParams struct {
	Command    string   `json:"command" mcp:"command name, e.g. 'draw'"`
	Options    []string `json:"options,omitempty" mcp:"options as name=value pairs, e.g. ['x=10','y=20','color=red']"`
	Token      string   `json:"token,omitempty" mcp:"correlation token (generated when empty)"`
	WebhookURL string   `json:"webhook_url,omitempty" mcp:"URL that receives the result of a slow command"`
	Wait       bool     `json:"wait,omitempty" mcp:"poll until the result is final"`
}

// ResultParams are the arguments of guidon_result.
type ResultParams struct {
	Token string `json:"token" mcp:"correlation token returned by guidon_dispatch"`
}

type API interface {
	reconcile.ResultSource
	Issue(ctx context.Context, req interaction.Request) (client.Ack, error)
}

// GuidonMCPServer forwards tool calls to a guidon server.
type GuidonMCPServer struct {
	api    API
	poller *reconcile.Poller
	logger *zap.Logger
}

func NewGuidonMCPServer(api API, logger *zap.Logger) *GuidonMCPServer {
	return &GuidonMCPServer{api: api, poller: reconcile.NewPoller(api), logger: logger}
}

func toolError(format string, args ...any) *mcp.CallToolResultFor[any] {
	return &mcp.CallToolResultFor[any]{
		IsError: true,
		Content: []mcp.Content{&mcp.TextContent{Text: "❌ " + fmt.Sprintf(format, args...)}},
	}
}

func resultText(token, status string, payload []byte) string {
	var b strings.Builder
	fmt.Fprintf(&b, "**Token:** %s\n**Status:** %s\n", token, status)
	if len(payload) > 0 {
		fmt.Fprintf(&b, "**Payload:**\n```json\n%s\n```\n", payload)
	}
	return b.String()
}

func (s *GuidonMCPServer) Dispatch(ctx context.Context, _ *mcp.ServerSession, params *mcp.CallToolParamsFor[DispatchParams]) (*mcp.CallToolResultFor[any], error) {
	args := params.Arguments
	if strings.TrimSpace(args.Command) == "" {
		return toolError("command is required"), nil
	}
	opts, err := interaction.ParseArgs(args.Options)
	if err != nil {
		return toolError("%v", err), nil
	}
	req := interaction.Request{Command: args.Command, Options: opts, Token: args.Token, WebhookURL: args.WebhookURL}

	ack, err := s.api.Issue(ctx, req)
	if err != nil {
		s.logger.Warn("dispatch failed", zap.String("command", args.Command), zap.Error(err))
		return toolError("dispatch %s failed: %v", args.Command, err), nil
	}
	token := ack.Response.Token
	if ack.Terminal() {
		return s.final(token, string(ack.Response.Status), ack.Response.Payload, 0), nil
	}
	if !args.Wait {
		return &mcp.CallToolResultFor[any]{
			Content: []mcp.Content{&mcp.TextContent{Text: "⏳ accepted, poll guidon_result with token " + token}},
			Meta:    map[string]interface{}{"token": token, "status": "processing"},
		}, nil
	}

	rec, attempts, err := s.poller.Poll(ctx, token)
	switch {
	case err == nil:
		return s.final(token, string(rec.Status), rec.Payload, attempts), nil
	case errors.Is(err, reconcile.ErrPollTimeout):
		return toolError("no result for %s after %d attempts", token, attempts), nil
	default:
		return toolError("poll %s: %v", token, err), nil
	}
}

func (s *GuidonMCPServer) final(token, status string, payload []byte, attempts int) *mcp.CallToolResultFor[any] {
	return &mcp.CallToolResultFor[any]{
		IsError: status != "success",
		Content: []mcp.Content{&mcp.TextContent{Text: resultText(token, status, payload)}},
		Meta: map[string]interface{}{
			"token":    token,
			"status":   status,
			"attempts": attempts,
		},
	}
}

func (s *GuidonMCPServer) Result(ctx context.Context, _ *mcp.ServerSession, params *mcp.CallToolParamsFor[ResultParams]) (*mcp.CallToolResultFor[any], error) {
	token := strings.TrimSpace(params.Arguments.Token)
	if token == "" {
		return toolError("token is required"), nil
	}
	rec, err := s.api.Result(ctx, token)
	if err != nil {
		return toolError("result %s: %v", token, err), nil
	}
	if !rec.Status.Terminal() {
		return &mcp.CallToolResultFor[any]{
			Content: []mcp.Content{&mcp.TextContent{Text: resultText(token, string(rec.Status), nil)}},
			Meta:    map[string]interface{}{"token": token, "status": string(rec.Status)},
		}, nil
	}
	return s.final(token, string(rec.Status), rec.Payload, 1), nil
}

func main() {
	_ = godotenv.Load(".env")

	logger, err := logging.New(envOr("LOG_LEVEL", "info"), "json")
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	api := client.New(envOr("GUIDON_URL", "http://localhost:8080"), os.Getenv("GUIDON_SESSION"), 10*time.Second)
	guidon := NewGuidonMCPServer(api, logger)

	server := mcp.NewServer(&mcp.Implementation{
		Name:    "guidon-mcp",
		Version: "1.0.0",
	}, nil)
	mcp.AddTool(server, &mcp.Tool{
		Name:        "guidon_dispatch",
		Description: "Issues a guidon command on the web channel and optionally waits for its result",
	}, guidon.Dispatch)
	mcp.AddTool(server, &mcp.Tool{
		Name:        "guidon_result",
		Description: "Looks up the result of a previously dispatched guidon command",
	}, guidon.Result)

	logger.Info("🔗 guidon MCP server on stdin/stdout", zap.Strings("tools", []string{"guidon_dispatch", "guidon_result"}))
	if err := server.Run(context.Background(), mcp.NewStdioTransport()); err != nil {
		logger.Fatal("❌ guidon MCP server failed", zap.Error(err))
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
