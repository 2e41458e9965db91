package llm_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rezonia/vat-compliance/internal/llm"
	"github.com/rezonia/vat-compliance/internal/model"
)

func TestNewClient(t *testing.T) {
	client := llm.NewClient("test-api-key")
	require.NotNil(t, client)
}

func TestNewClient_WithOptions(t *testing.T) {
	client := llm.NewClient("test-api-key",
		llm.WithBaseURL("https://custom.api.com/v1"),
		llm.WithDefaultModel("openai/gpt-4o"),
		llm.WithTimeout(5*time.Second),
	)
	require.NotNil(t, client)
}

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "json code block",
			input:    "Review:\n```json\n{\"advisories\": []}\n```",
			expected: `{"advisories": []}`,
		},
		{
			name:     "generic code block",
			input:    "```\n{\"advisories\": []}\n```",
			expected: `{"advisories": []}`,
		},
		{
			name:     "raw json",
			input:    `  {"advisories": []}  `,
			expected: `{"advisories": []}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, llm.ExtractJSON(tt.input))
		})
	}
}

func chatServer(t *testing.T, content string, calls *int) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*calls++
		assert.True(t, strings.HasSuffix(r.URL.Path, "/chat/completions"), r.URL.Path)

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"id":      "chatcmpl-test",
			"object":  "chat.completion",
			"created": 1700000000,
			"model":   llm.DefaultModel,
			"choices": []map[string]interface{}{
				{
					"index":         0,
					"finish_reason": "stop",
					"message": map[string]interface{}{
						"role":    "assistant",
						"content": content,
					},
				},
			},
		})
	}))
}

func TestAdvisor_Review(t *testing.T) {
	calls := 0
	srv := chatServer(t, "```json\n{\"advisories\": [{\"reason\": \"cash settlement mentioned\"}, {\"reason\": \" \"}]}\n```", &calls)
	defer srv.Close()

	advisor := llm.NewAdvisor(llm.NewClient("key", llm.WithBaseURL(srv.URL+"/v1/")))

	reasons, err := advisor.Review(context.Background(), &model.Invoice{
		ID:          "INV-7",
		Description: "Paid in cash, no receipt needed",
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"cash settlement mentioned"}, reasons)
	assert.Equal(t, 1, calls)
}

func TestAdvisor_SkipsEmptyDescription(t *testing.T) {
	calls := 0
	srv := chatServer(t, `{"advisories": []}`, &calls)
	defer srv.Close()

	advisor := llm.NewAdvisor(llm.NewClient("key", llm.WithBaseURL(srv.URL+"/v1/")))

	reasons, err := advisor.Review(context.Background(), &model.Invoice{ID: "INV-8"})
	require.NoError(t, err)
	assert.Empty(t, reasons)
	assert.Equal(t, 0, calls)
}

func TestAdvisor_InvalidJSON(t *testing.T) {
	calls := 0
	srv := chatServer(t, "I cannot help with that", &calls)
	defer srv.Close()

	advisor := llm.NewAdvisor(llm.NewClient("key", llm.WithBaseURL(srv.URL+"/v1/")))

	_, err := advisor.Review(context.Background(), &model.Invoice{ID: "INV-9", Description: "consulting"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse advisory response")
}

func TestClient_UsesConfiguredModel(t *testing.T) {
	for _, tt := range []struct {
		name string
		opts []llm.ClientOption
		want string
	}{
		{name: "default", want: llm.DefaultModel},
		{name: "configured", opts: []llm.ClientOption{llm.WithDefaultModel("anthropic/claude-3-haiku")}, want: "anthropic/claude-3-haiku"},
	} {
		t.Run(tt.name, func(t *testing.T) {
			var requested string
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				var body struct {
					Model string `json:"model"`
				}
				assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
				requested = body.Model

				w.Header().Set("Content-Type", "application/json")
				_ = json.NewEncoder(w).Encode(map[string]interface{}{
					"id":      "chatcmpl-test",
					"object":  "chat.completion",
					"created": 1700000000,
					"model":   body.Model,
					"choices": []map[string]interface{}{
						{"index": 0, "finish_reason": "stop", "message": map[string]interface{}{"role": "assistant", "content": `{"advisories": []}`}},
					},
				})
			}))
			defer srv.Close()

			opts := append([]llm.ClientOption{llm.WithBaseURL(srv.URL + "/v1/")}, tt.opts...)
			advisor := llm.NewAdvisor(llm.NewClient("key", opts...))

			_, err := advisor.Review(context.Background(), &model.Invoice{ID: "INV-10", Description: "consulting"})
			require.NoError(t, err)
			assert.Equal(t, tt.want, requested)
		})
	}
}

func TestClient_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer srv.Close()
	defer close(release)

	client := llm.NewClient("key", llm.WithBaseURL(srv.URL+"/v1/"), llm.WithTimeout(50*time.Millisecond))

	start := time.Now()
	_, err := client.ChatText(context.Background(), "", "", "hello")
	require.Error(t, err)
	assert.Less(t, time.Since(start), 5*time.Second)
}
