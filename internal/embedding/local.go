package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/engramhq/engram/internal/domain"
)

const (
	embedPath        = "/api/embed"
	maxEmbedResponse = 10 << 20 // 10 MiB
	defaultTimeout   = 30 * time.Second
)

var (
	// ErrNoEmbeddings means the runtime answered 200 but sent no vectors.
	ErrNoEmbeddings = errors.New("embedding runtime returned no embeddings")
	// ErrWrongWidth means the returned vector does not match the configured
	// dimensionality; storing it would poison similarity scoring.
	ErrWrongWidth = errors.New("embedding has unexpected dimensions")
)

// LocalClient embeds text through an Ollama-compatible runtime's /api/embed
// endpoint. Construction never dials: the daemon starts cleanly with the
// runtime down and individual requests degrade instead.
type LocalClient struct {
	baseURL    string
	model      string
	dims       int
	httpClient *http.Client

	// cached flips once the runtime has served this model successfully.
	cached atomic.Bool
}

// LocalOption customizes a LocalClient.
type LocalOption func(*LocalClient)

// WithHTTPClient substitutes the HTTP client, mainly for tests.
func WithHTTPClient(c *http.Client) LocalOption {
	return func(l *LocalClient) {
		if c != nil {
			l.httpClient = c
		}
	}
}

func NewLocalClient(baseURL, model string, dims int, opts ...LocalOption) *LocalClient {
	l := &LocalClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		model:      model,
		dims:       dims,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

type localEmbedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type localEmbedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
	Error      string      `json:"error,omitempty"`
}

func (l *LocalClient) Embed(ctx context.Context, text string) ([]float32, error) {
	body, err := json.Marshal(localEmbedRequest{
		Model: l.model,
		Input: []string{text},
	})
	if err != nil {
		return nil, fmt.Errorf("marshal embed request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, l.baseURL+embedPath, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create embed request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := l.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embed request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxEmbedResponse))
	if err != nil {
		return nil, fmt.Errorf("read embed response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("embedding runtime returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	var result localEmbedResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("unmarshal embed response: %w", err)
	}
	if result.Error != "" {
		return nil, fmt.Errorf("embedding runtime error: %s", result.Error)
	}
	if len(result.Embeddings) == 0 || len(result.Embeddings[0]) == 0 {
		return nil, ErrNoEmbeddings
	}

	vec := result.Embeddings[0]
	if len(vec) != l.dims {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrWrongWidth, len(vec), l.dims)
	}

	l.cached.Store(true)
	// Runtimes do not all return unit vectors; scoring assumes they are.
	return Normalize(vec), nil
}

// Available is optimistic for the raw client; real health tracking lives in
// the breaker that wraps it.
func (l *LocalClient) Available() bool { return true }

func (l *LocalClient) Info() domain.ModelInfo {
	return domain.ModelInfo{
		Name:       l.model,
		Dimensions: l.dims,
		Available:  l.Available(),
		Cached:     l.cached.Load(),
	}
}

var _ domain.Embedder = (*LocalClient)(nil)
