package main

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"guidon/internal/client"
	"guidon/internal/dispatch"
	"guidon/internal/interaction"
	"guidon/internal/results"
)

type fakeAPI struct {
	ack    client.Ack
	result client.Result
	issued interaction.Request
}

func (f *fakeAPI) Issue(_ context.Context, req interaction.Request) (client.Ack, error) {
	f.issued = req
	return f.ack, nil
}

func (f *fakeAPI) Result(context.Context, string) (client.Result, error) {
	return f.result, nil
}

func text(t *testing.T, res *mcp.CallToolResultFor[any]) string {
	t.Helper()
	if len(res.Content) == 0 {
		t.Fatal("empty result")
	}
	tc, ok := res.Content[0].(*mcp.TextContent)
	if !ok {
		t.Fatalf("unexpected content %T", res.Content[0])
	}
	return tc.Text
}

func TestDispatchAcceptedWithoutWait(t *testing.T) {
	api := &fakeAPI{ack: client.Ack{Status: http.StatusAccepted, Response: dispatch.Response{Token: "T1"}}}
	s := NewGuidonMCPServer(api, zap.NewNop())

	res, err := s.Dispatch(context.Background(), nil, &mcp.CallToolParamsFor[DispatchParams]{
		Arguments: DispatchParams{Command: "draw", Options: []string{"x=10", "y=20", "color=red"}},
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.IsError || !strings.Contains(text(t, res), "T1") {
		t.Fatalf("unexpected result: %+v", res)
	}
	if x, _ := api.issued.Options.Int("x"); x != 10 {
		t.Fatalf("options not forwarded: %+v", api.issued.Options)
	}
}

func TestDispatchWaitsForResult(t *testing.T) {
	api := &fakeAPI{
		ack:    client.Ack{Status: http.StatusAccepted, Response: dispatch.Response{Token: "T1"}},
		result: client.Result{Token: "T1", Status: results.StatusSuccess, Payload: json.RawMessage(`{"x":10}`)},
	}
	s := NewGuidonMCPServer(api, zap.NewNop())
	res, err := s.Dispatch(context.Background(), nil, &mcp.CallToolParamsFor[DispatchParams]{
		Arguments: DispatchParams{Command: "draw", Wait: true},
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.IsError || !strings.Contains(text(t, res), `{"x":10}`) {
		t.Fatalf("unexpected result: %s", text(t, res))
	}
}

func TestDispatchRequiresCommand(t *testing.T) {
	s := NewGuidonMCPServer(&fakeAPI{}, zap.NewNop())
	res, _ := s.Dispatch(context.Background(), nil, &mcp.CallToolParamsFor[DispatchParams]{})
	if !res.IsError {
		t.Fatal("expected tool error")
	}
}

func TestResultProcessing(t *testing.T) {
	api := &fakeAPI{result: client.Result{Token: "T1", Status: results.StatusProcessing}}
	s := NewGuidonMCPServer(api, zap.NewNop())
	res, err := s.Result(context.Background(), nil, &mcp.CallToolParamsFor[ResultParams]{Arguments: ResultParams{Token: "T1"}})
	if err != nil {
		t.Fatal(err)
	}
	if res.IsError || !strings.Contains(text(t, res), "processing") {
		t.Fatalf("unexpected: %s", text(t, res))
	}
}

func TestResultError(t *testing.T) {
	api := &fakeAPI{result: client.Result{Token: "T1", Status: results.StatusError, Payload: json.RawMessage(`{"error":"boom"}`)}}
	s := NewGuidonMCPServer(api, zap.NewNop())
	res, _ := s.Result(context.Background(), nil, &mcp.CallToolParamsFor[ResultParams]{Arguments: ResultParams{Token: "T1"}})
	if !res.IsError {
		t.Fatal("error record should surface as tool error")
	}
}
