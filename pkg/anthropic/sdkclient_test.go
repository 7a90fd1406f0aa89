package anthropic

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func messageBody(text string, in, out, cacheWrite int) map[string]any {
	return map[string]any{
		"id":          "msg_1",
		"type":        "message",
		"role":        "assistant",
		"content":     []map[string]any{{"type": "text", "text": text}},
		"model":       "claude-haiku-4-5-20251001",
		"stop_reason": "end_turn",
		"usage": map[string]any{
			"input_tokens":                in,
			"output_tokens":               out,
			"cache_creation_input_tokens": cacheWrite,
			"cache_read_input_tokens":     0,
		},
	}
}

func TestSDKClient_CreateMessage_ClassifyReply(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Contains(t, r.URL.Path, "/messages")

		var body struct {
			System []struct {
				Text         string `json:"text"`
				CacheControl struct {
					TTL string `json:"ttl"`
				} `json:"cache_control"`
			} `json:"system"`
			Messages []struct {
				Role string `json:"role"`
			} `json:"messages"`
			Temperature *float64 `json:"temperature"`
		}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		if assert.Len(t, body.System, 1) {
			assert.Equal(t, "Label the reply.", body.System[0].Text)
			assert.Equal(t, "5m", body.System[0].CacheControl.TTL)
		}
		if assert.Len(t, body.Messages, 2) {
			assert.Equal(t, "assistant", body.Messages[1].Role)
		}
		if assert.NotNil(t, body.Temperature) {
			assert.Zero(t, *body.Temperature)
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(messageBody("```json\n{\"label\":\"demo_request\",\"confidence\":0.92}\n```", 120, 14, 900))
	}))
	defer ts.Close()

	temp := 0.0
	client := NewClient("test-key", option.WithBaseURL(ts.URL))
	resp, err := client.CreateMessage(context.Background(), MessageRequest{
		Model:     "claude-haiku-4-5-20251001",
		MaxTokens: 256,
		System:    CachedSystem("Label the reply."),
		Messages: []Message{
			{Role: "user", Content: "Can we book a demo next week?"},
			{Role: "assistant", Content: "{"},
		},
		Temperature: &temp,
	})
	require.NoError(t, err)
	assert.Equal(t, "end_turn", resp.StopReason)
	assert.Equal(t, int64(900), resp.Usage.CacheCreationInputTokens)

	var out struct {
		Label      string  `json:"label"`
		Confidence float64 `json:"confidence"`
	}
	require.NoError(t, DecodeJSON(resp, &out))
	assert.Equal(t, "demo_request", out.Label)
	assert.InDelta(t, 0.92, out.Confidence, 1e-9)
}

func TestSDKClient_CreateMessage_NoSDKRetries(t *testing.T) {
	var hits atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"type":  "error",
			"error": map[string]any{"type": "rate_limit_error", "message": "slow down"},
		})
	}))
	defer ts.Close()

	client := NewClient("test-key", option.WithBaseURL(ts.URL))
	_, err := client.CreateMessage(context.Background(), MessageRequest{
		Model:     "claude-haiku-4-5-20251001",
		MaxTokens: 64,
		Messages:  []Message{{Role: "user", Content: "hi"}},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "anthropic: create message")
	assert.Equal(t, int32(1), hits.Load())
}
