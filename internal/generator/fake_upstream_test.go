package generator

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/microsoft/secure-azureai-agent/internal/config"
	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/require"
)

// fakeUpstream is a scripted Azure OpenAI endpoint. Streaming requests pop
// the next chunk script, non-streaming requests pop the next completion.
type fakeUpstream struct {
	mu          sync.Mutex
	streams     [][]openai.ChatCompletionStreamResponse
	completions []string
	requests    []openai.ChatCompletionRequest
	paths       []string
	status      int
}

func (f *fakeUpstream) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req openai.ChatCompletionRequest
	_ = json.NewDecoder(r.Body).Decode(&req)

	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.paths = append(f.paths, r.URL.Path)
	status := f.status
	var chunks []openai.ChatCompletionStreamResponse
	var completion string
	if req.Stream && len(f.streams) > 0 {
		chunks, f.streams = f.streams[0], f.streams[1:]
	}
	if !req.Stream && len(f.completions) > 0 {
		completion, f.completions = f.completions[0], f.completions[1:]
	}
	f.mu.Unlock()

	if status != 0 {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		fmt.Fprint(w, `{"error":{"message":"access denied","type":"invalid_request_error","code":"denied"}}`)
		return
	}

	if !req.Stream {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(openai.ChatCompletionResponse{
			ID:    "cmpl-1",
			Model: req.Model,
			Choices: []openai.ChatCompletionChoice{{
				Message: openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: completion},
			}},
		})
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	flusher := w.(http.Flusher)
	for _, c := range chunks {
		data, _ := json.Marshal(c)
		fmt.Fprintf(w, "data: %s\n\n", data)
		flusher.Flush()
	}
	fmt.Fprint(w, "data: [DONE]\n\n")
	flusher.Flush()
}

func (f *fakeUpstream) recorded() []openai.ChatCompletionRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]openai.ChatCompletionRequest(nil), f.requests...)
}

func textChunks(parts ...string) []openai.ChatCompletionStreamResponse {
	out := make([]openai.ChatCompletionStreamResponse, 0, len(parts))
	for _, p := range parts {
		out = append(out, openai.ChatCompletionStreamResponse{
			ID:      "chunk",
			Object:  "chat.completion.chunk",
			Choices: []openai.ChatCompletionStreamChoice{{Delta: openai.ChatCompletionStreamChoiceDelta{Content: p}}},
		})
	}
	return out
}

// toolCallChunks splits one tool call's arguments over several chunks the
// way the upstream streams them.
func toolCallChunks(id, name string, argParts ...string) []openai.ChatCompletionStreamResponse {
	idx := 0
	out := []openai.ChatCompletionStreamResponse{{
		Choices: []openai.ChatCompletionStreamChoice{{Delta: openai.ChatCompletionStreamChoiceDelta{
			ToolCalls: []openai.ToolCall{{Index: &idx, ID: id, Type: openai.ToolTypeFunction, Function: openai.FunctionCall{Name: name}}},
		}}},
	}}
	for _, p := range argParts {
		out = append(out, openai.ChatCompletionStreamResponse{
			Choices: []openai.ChatCompletionStreamChoice{{Delta: openai.ChatCompletionStreamChoiceDelta{
				ToolCalls: []openai.ToolCall{{Index: &idx, Function: openai.FunctionCall{Arguments: p}}},
			}}},
		})
	}
	return out
}

func newFakeClient(t *testing.T, f *fakeUpstream) *openai.Client {
	t.Helper()
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)

	client, err := NewAzureClient(config.OpenAIConfig{
		APIKey:     "test-key",
		Endpoint:   srv.URL,
		Deployment: "gpt-4o",
		APIVersion: "2024-06-01",
	}, srv.Client())
	require.NoError(t, err)
	return client
}

func collect(deltas *[]string) EmitFunc {
	return func(d string) error {
		*deltas = append(*deltas, d)
		return nil
	}
}
