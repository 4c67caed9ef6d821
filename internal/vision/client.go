package vision

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"poolguard/internal/config"
	"poolguard/internal/domain"
)

var (
	// ErrPayloadTooLarge marks frames rejected before any upstream call.
	ErrPayloadTooLarge = errors.New("image payload too large")
	// ErrInvalidImage marks payloads that are not valid base64.
	ErrInvalidImage = errors.New("invalid image payload")
	// ErrParse marks malformed classifier responses.
	ErrParse = errors.New("classifier response parse error")
	// ErrUpstream marks transport or non-2xx classifier failures.
	ErrUpstream = errors.New("classifier upstream error")
)

const classifierPrompt = `You analyze pool/swimming footage. Detect signs of drowning or distress:
- Vertical posture (person upright, unable to swim)
- Inability to keep head above water
- Lack of coordinated arm movement, struggling
- Person not moving or sinking
- Person fully submerged (underwater, not visible at surface)

Respond ONLY with valid JSON in this exact format, no other text:
{"distress": true or false, "confidence": 0-1, "description": "brief explanation", "submerged": true or false}

Use "submerged": true only when a person is fully underwater (not at surface). Focus on pose and motion only. No facial identification. Be cautious—false negatives are serious.`

// Client submits encoded frames to an OpenAI-compatible vision classifier.
// Params: classifier settings and shared HTTP client.
// Returns: normalized analysis results for the detection pipeline.
type Client struct {
	cfg        config.ClassifierConfig
	httpClient *http.Client
}

// NewClient creates a classifier client.
// Params: classifier config section.
// Returns: initialized client; an empty endpoint or API key selects mock mode.
func NewClient(cfg config.ClassifierConfig) *Client {
	timeout := time.Duration(cfg.TimeoutSec) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Configured reports whether a real classifier is reachable by configuration.
// Params: none.
// Returns: false when the client runs in mock mode.
func (c *Client) Configured() bool {
	return strings.TrimSpace(c.cfg.Endpoint) != "" && strings.TrimSpace(c.cfg.APIKey) != ""
}

// Classify submits one base64 JPEG frame and returns the parsed verdict.
// Params: context and base64-encoded image payload.
// Returns: analysis result, or a typed error for size/encoding/upstream/parse failures.
//
// Frames larger than the configured ceiling are rejected without contacting
// the classifier. An unconfigured classifier yields a mock result, not an error.
func (c *Client) Classify(ctx context.Context, imageBase64 string) (domain.AnalysisResult, error) {
	if strings.TrimSpace(imageBase64) == "" {
		return domain.AnalysisResult{}, fmt.Errorf("%w: missing imageBase64", ErrInvalidImage)
	}

	decoded, err := base64.StdEncoding.DecodeString(imageBase64)
	if err != nil {
		return domain.AnalysisResult{}, fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}
	maxBytes := c.cfg.MaxImageBytes
	if maxBytes <= 0 {
		maxBytes = config.DefaultMaxImageBytes
	}
	if int64(len(decoded)) > maxBytes {
		return domain.AnalysisResult{}, fmt.Errorf("%w: %d bytes exceeds %d", ErrPayloadTooLarge, len(decoded), maxBytes)
	}

	if !c.Configured() {
		return domain.MockResult(), nil
	}

	text, err := c.complete(ctx, imageBase64)
	if err != nil {
		return domain.AnalysisResult{}, err
	}

	body, ok := extractJSONObject(text)
	if !ok {
		return domain.AnalysisResult{}, fmt.Errorf("%w: no JSON object in %q", ErrParse, truncate(text, 120))
	}
	result, err := domain.DecodeAnalysisResult([]byte(body))
	if err != nil {
		return domain.AnalysisResult{}, fmt.Errorf("%w: %v", ErrParse, err)
	}
	return result, nil
}

// Analyze classifies one frame without ever surfacing an error.
// Params: context and base64-encoded image payload.
// Returns: well-formed result; failures degrade to a non-distress result
// carrying the error text so the sampling loop never stops.
func (c *Client) Analyze(ctx context.Context, imageBase64 string) domain.AnalysisResult {
	result, err := c.Classify(ctx, imageBase64)
	if err != nil {
		return domain.SafeResult(err.Error())
	}
	return result
}

type chatRequest struct {
	Model     string        `json:"model"`
	MaxTokens int           `json:"max_tokens"`
	Messages  []chatMessage `json:"messages"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type imagePart struct {
	Type     string      `json:"type"`
	ImageURL imageSource `json:"image_url"`
}

type imageSource struct {
	URL string `json:"url"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// complete performs one chat-completion round trip for one frame.
// Params: context and base64 image payload.
// Returns: raw model text or upstream error.
func (c *Client) complete(ctx context.Context, imageBase64 string) (string, error) {
	payload := chatRequest{
		Model:     c.cfg.Model,
		MaxTokens: 200,
		Messages: []chatMessage{
			{Role: "system", Content: classifierPrompt},
			{Role: "user", Content: []imagePart{{
				Type:     "image_url",
				ImageURL: imageSource{URL: "data:image/jpeg;base64," + imageBase64},
			}}},
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("encode classify request: %w", err)
	}

	endpoint := strings.TrimSuffix(c.cfg.Endpoint, "/") + "/chat/completions"
	request, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build classify request: %w", err)
	}
	request.Header.Set("Content-Type", "application/json")
	request.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	response, err := c.httpClient.Do(request)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	defer response.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(response.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("%w: read response: %v", ErrUpstream, err)
	}
	if response.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: status %d: %s", ErrUpstream, response.StatusCode, truncate(string(raw), 200))
	}

	var parsed chatResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", fmt.Errorf("%w: %v", ErrParse, err)
	}
	if parsed.Error != nil {
		return "", fmt.Errorf("%w: %s", ErrUpstream, parsed.Error.Message)
	}
	if len(parsed.Choices) == 0 || strings.TrimSpace(parsed.Choices[0].Message.Content) == "" {
		return "", fmt.Errorf("%w: empty model response", ErrParse)
	}
	return strings.TrimSpace(parsed.Choices[0].Message.Content), nil
}

// extractJSONObject finds the first balanced JSON object substring.
// Params: raw model text that may wrap JSON in prose or code fences.
// Returns: object substring and true when one balanced object exists.
func extractJSONObject(text string) (string, bool) {
	start := strings.IndexByte(text, '{')
	if start < 0 {
		return "", false
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		ch := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return text[start : i+1], true
			}
		}
	}
	return "", false
}

// truncate bounds error context strings.
// Params: raw string and max length.
// Returns: possibly shortened string.
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
