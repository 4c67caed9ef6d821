package sampler

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"time"
)

// maxSnapshotBytes bounds one camera snapshot read.
const maxSnapshotBytes = 8 << 20

// HTTPFrameSource pulls JPEG snapshots from a camera snapshot endpoint.
// Params: snapshot URL and HTTP client.
// Returns: FrameSource implementation for IP cameras.
type HTTPFrameSource struct {
	url    string
	client *http.Client
}

// NewHTTPFrameSource creates a snapshot-pulling frame source.
// Params: snapshot URL; empty URL yields a source that never has frames.
// Returns: initialized source.
func NewHTTPFrameSource(url string) *HTTPFrameSource {
	return &HTTPFrameSource{
		url:    url,
		client: &http.Client{Timeout: 5 * time.Second},
	}
}

// Frame fetches one snapshot and encodes it for the classifier.
// Params: context bounding the request.
// Returns: base64 JPEG; empty string when no snapshot endpoint is configured.
func (s *HTTPFrameSource) Frame(ctx context.Context) (string, error) {
	if s.url == "" {
		return "", nil
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return "", fmt.Errorf("build snapshot request: %w", err)
	}
	response, err := s.client.Do(request)
	if err != nil {
		return "", fmt.Errorf("fetch snapshot: %w", err)
	}
	defer response.Body.Close()
	if response.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fetch snapshot: unexpected status %d", response.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(response.Body, maxSnapshotBytes))
	if err != nil {
		return "", fmt.Errorf("read snapshot: %w", err)
	}
	if len(body) == 0 {
		return "", nil
	}
	return base64.StdEncoding.EncodeToString(body), nil
}
