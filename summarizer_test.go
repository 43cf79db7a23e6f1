package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSummarizer(baseURL string, timeoutSeconds int) *MistralSummarizer {
	return NewMistralSummarizer(&Config{
		MistralAPIKey:     "test-key",
		MistralBaseURL:    baseURL,
		MistralModel:      "mistral-large-latest",
		SummarizerTimeout: timeoutSeconds,
	})
}

func completionResponse(content string) string {
	return fmt.Sprintf(`{
		"id": "cmpl-1",
		"object": "chat.completion",
		"created": 1,
		"model": "mistral-large-latest",
		"choices": [{
			"index": 0,
			"message": {"role": "assistant", "content": %q},
			"finish_reason": "stop"
		}]
	}`, content)
}

func TestSummarizerComplete(t *testing.T) {
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, completionResponse("the answer"))
	}))
	defer srv.Close()

	sum := newTestSummarizer(srv.URL, 5)
	answer, err := sum.Complete(context.Background(), "the prompt", false)

	require.NoError(t, err)
	assert.Equal(t, "the answer", answer)
	assert.Equal(t, "mistral-large-latest", gotBody["model"])
	assert.Nil(t, gotBody["response_format"])
}

func TestSummarizerCompleteStructuredJSON(t *testing.T) {
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, completionResponse(`{"selected":[0]}`))
	}))
	defer srv.Close()

	sum := newTestSummarizer(srv.URL, 5)
	answer, err := sum.Complete(context.Background(), "pick", true)

	require.NoError(t, err)
	assert.JSONEq(t, `{"selected":[0]}`, answer)

	format, ok := gotBody["response_format"].(map[string]any)
	require.True(t, ok, "request must carry a response_format")
	assert.Equal(t, "json_object", format["type"])
}

func TestSummarizerTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(5 * time.Second):
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()

	sum := newTestSummarizer(srv.URL, 5)
	sum.timeout = 100 * time.Millisecond

	_, err := sum.Complete(context.Background(), "slow", false)
	assert.ErrorIs(t, err, ErrSummarizerTimeout)
}

func TestSummarizerEmptyChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":"cmpl-1","object":"chat.completion","created":1,"model":"m","choices":[]}`)
	}))
	defer srv.Close()

	sum := newTestSummarizer(srv.URL, 5)

	_, err := sum.Complete(context.Background(), "prompt", false)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrSummarizerTimeout)
}
