package llm_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentoven/opsdesk/internal/llm"
	"github.com/agentoven/opsdesk/pkg/models"
)

func TestOpenAIClient_ToolCalls(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))

		var req map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "auto", req["tool_choice"])
		assert.Len(t, req["tools"], 1)

		w.Write([]byte(`{
			"id": "chatcmpl-1",
			"choices": [{"message": {"content": null, "tool_calls": [
				{"id": "call_1", "type": "function", "function": {"name": "get_logs", "arguments": "{\"level\":\"error\"}"}}
			]}, "finish_reason": "tool_calls"}],
			"usage": {"prompt_tokens": 10, "completion_tokens": 5, "total_tokens": 15}
		}`))
	}))
	defer srv.Close()

	c := llm.NewOpenAIClient(llm.OpenAIConfig{Endpoint: srv.URL + "/v1", APIKey: "sk-test"})
	resp, err := c.Complete(context.Background(), llm.Request{
		Messages: []models.ChatMessage{{Role: "user", Content: "show errors"}},
		Tools:    []models.ToolDefinition{{Type: "function", Function: models.ToolFunction{Name: "get_logs"}}},
	})
	require.NoError(t, err)
	assert.Equal(t, "", resp.Content)
	require.Len(t, resp.ToolCalls, 1)
	assert.Equal(t, "call_1", resp.ToolCalls[0].ID)
	assert.Equal(t, "get_logs", resp.ToolCalls[0].Function.Name)
	assert.JSONEq(t, `{"level":"error"}`, resp.ToolCalls[0].Function.Arguments)
	assert.Equal(t, int64(15), resp.Usage.TotalTokens)
}

func TestOpenAIClient_StatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error":"slow down"}`))
	}))
	defer srv.Close()

	c := llm.NewOpenAIClient(llm.OpenAIConfig{Endpoint: srv.URL, APIKey: "k"})
	_, err := c.Complete(context.Background(), llm.Request{})

	var se *llm.StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusTooManyRequests, se.StatusCode)
}

func TestOpenAIClient_AzureHeader(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "az-key", r.Header.Get("api-key"))
		assert.Empty(t, r.Header.Get("Authorization"))
		w.Write([]byte(`{"choices":[{"message":{"content":"hi"}}]}`))
	}))
	defer srv.Close()

	c := llm.NewOpenAIClient(llm.OpenAIConfig{Endpoint: srv.URL, APIKey: "az-key", Azure: true})
	resp, err := c.Complete(context.Background(), llm.Request{})
	require.NoError(t, err)
	assert.Equal(t, "hi", resp.Content)
}

func TestUnconfigured(t *testing.T) {
	_, err := llm.Unconfigured{}.Complete(context.Background(), llm.Request{})
	assert.ErrorIs(t, err, llm.ErrNotConfigured)

	_, err = llm.NewOpenAIClient(llm.OpenAIConfig{}).Complete(context.Background(), llm.Request{})
	assert.ErrorIs(t, err, llm.ErrNotConfigured)
}
