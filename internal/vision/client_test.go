package vision

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"poolguard/internal/config"
)

func encodeFrame(size int) string {
	return base64.StdEncoding.EncodeToString(make([]byte, size))
}

func TestClassifyMockModeWhenUnconfigured(t *testing.T) {
	t.Parallel()

	client := NewClient(config.ClassifierConfig{})
	result, err := client.Classify(context.Background(), encodeFrame(128))
	if err != nil {
		t.Fatalf("classify: %v", err)
	}
	if !result.Mock || result.Distress || result.Confidence != 0 {
		t.Fatalf("expected mock result, got %+v", result)
	}
}

func TestClassifyRejectsOversizedPayloadBeforeUpstream(t *testing.T) {
	t.Parallel()

	var calls atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := NewClient(config.ClassifierConfig{
		Endpoint:      server.URL,
		APIKey:        "key",
		MaxImageBytes: 4 << 20,
	})
	_, err := client.Classify(context.Background(), encodeFrame(5<<20))
	if !errors.Is(err, ErrPayloadTooLarge) {
		t.Fatalf("expected ErrPayloadTooLarge, got %v", err)
	}
	if calls.Load() != 0 {
		t.Fatalf("expected no upstream call for oversized payload")
	}
}

func TestClassifyParsesStrictContract(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer key" {
			t.Errorf("unexpected auth header %q", got)
		}
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"{\"distress\":true,\"confidence\":0.85,\"description\":\"sinking\",\"submerged\":true}"}}]}`))
	}))
	defer server.Close()

	client := NewClient(config.ClassifierConfig{Endpoint: server.URL, APIKey: "key", Model: "gpt-4o-mini"})
	result, err := client.Classify(context.Background(), encodeFrame(64))
	if err != nil {
		t.Fatalf("classify: %v", err)
	}
	if !result.Distress || !result.Submerged || result.Confidence != 0.85 {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestClassifyExtractsWrappedJSONObject(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"Here is the verdict:\n{\"distress\":false,\"confidence\":0.2,\"description\":\"calm {pool} water\"}\nthanks"}}]}`))
	}))
	defer server.Close()

	client := NewClient(config.ClassifierConfig{Endpoint: server.URL, APIKey: "key"})
	result, err := client.Classify(context.Background(), encodeFrame(64))
	if err != nil {
		t.Fatalf("classify: %v", err)
	}
	if result.Distress || result.Description != "calm {pool} water" {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestClassifyParseErrorOnNonJSONContent(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"no verdict available"}}]}`))
	}))
	defer server.Close()

	client := NewClient(config.ClassifierConfig{Endpoint: server.URL, APIKey: "key"})
	if _, err := client.Classify(context.Background(), encodeFrame(64)); !errors.Is(err, ErrParse) {
		t.Fatalf("expected ErrParse, got %v", err)
	}
}

func TestAnalyzeDegradesUpstreamFailureToSafeResult(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	client := NewClient(config.ClassifierConfig{Endpoint: server.URL, APIKey: "key"})
	result := client.Analyze(context.Background(), encodeFrame(64))
	if result.Distress || result.Submerged || result.Confidence != 0 {
		t.Fatalf("expected safe non-distress result, got %+v", result)
	}
	if result.Description == "" {
		t.Fatalf("expected error text in description")
	}
}

func TestExtractJSONObject(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want string
		ok   bool
	}{
		{`{"a":1}`, `{"a":1}`, true},
		{"```json\n{\"a\":{\"b\":2}}\n```", `{"a":{"b":2}}`, true},
		{`prefix {"a":"br}ace"} suffix`, `{"a":"br}ace"}`, true},
		{`{"a":"esc\"}`, "", false},
		{`no object here`, "", false},
	}
	for _, tc := range cases {
		got, ok := extractJSONObject(tc.in)
		if ok != tc.ok || got != tc.want {
			t.Fatalf("extract %q: got %q ok=%v", tc.in, got, ok)
		}
	}
}
