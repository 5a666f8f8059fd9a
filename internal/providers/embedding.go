package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"
)

// Embedder turns text into fixed-length vectors.
type Embedder interface {
	// Embed returns the vector for a single input text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// Dimension returns the vector length, detecting it on first use.
	Dimension(ctx context.Context) (int, error)

	// Model returns the embedding model identifier.
	Model() string
}

// OpenAIEmbedder calls an OpenAI-compatible /embeddings endpoint.
type OpenAIEmbedder struct {
	apiKey      string
	apiBase     string
	model       string
	client      *http.Client
	retryConfig RetryConfig

	mu        sync.Mutex
	dimension int
}

func NewOpenAIEmbedder(apiKey, apiBase, model string) *OpenAIEmbedder {
	if apiBase == "" {
		apiBase = "https://api.openai.com/v1"
	}
	apiBase = strings.TrimRight(apiBase, "/")

	return &OpenAIEmbedder{
		apiKey:      apiKey,
		apiBase:     apiBase,
		model:       model,
		client:      &http.Client{Timeout: 60 * time.Second},
		retryConfig: DefaultRetryConfig(),
	}
}

func (e *OpenAIEmbedder) Model() string { return e.model }

func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.embedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vecs) == 0 {
		return nil, fmt.Errorf("embeddings: empty response for model %s", e.model)
	}

	e.mu.Lock()
	if e.dimension == 0 {
		e.dimension = len(vecs[0])
	}
	e.mu.Unlock()

	return vecs[0], nil
}

// Dimension probes the endpoint with a short input the first time it is
// called; the result is cached for the lifetime of the embedder.
func (e *OpenAIEmbedder) Dimension(ctx context.Context) (int, error) {
	e.mu.Lock()
	if e.dimension > 0 {
		d := e.dimension
		e.mu.Unlock()
		return d, nil
	}
	e.mu.Unlock()

	vec, err := e.Embed(ctx, "test")
	if err != nil {
		return 0, fmt.Errorf("embeddings: detect dimension: %w", err)
	}
	return len(vec), nil
}

func (e *OpenAIEmbedder) embedBatch(ctx context.Context, inputs []string) ([][]float32, error) {
	body := map[string]interface{}{
		"model": e.model,
		"input": inputs,
	}

	return RetryDo(ctx, e.retryConfig, func() ([][]float32, error) {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("embeddings: marshal request: %w", err)
		}

		httpReq, err := http.NewRequestWithContext(ctx, "POST", e.apiBase+"/embeddings", bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("embeddings: create request: %w", err)
		}
		httpReq.Header.Set("Content-Type", "application/json")
		if e.apiKey != "" {
			httpReq.Header.Set("Authorization", "Bearer "+e.apiKey)
		}

		resp, err := e.client.Do(httpReq)
		if err != nil {
			return nil, fmt.Errorf("embeddings: request failed: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			respBody, _ := io.ReadAll(resp.Body)
			return nil, &HTTPError{
				Status:     resp.StatusCode,
				Body:       string(respBody),
				RetryAfter: ParseRetryAfter(resp.Header.Get("Retry-After")),
			}
		}

		var parsed struct {
			Data []struct {
				Embedding []float32 `json:"embedding"`
				Index     int       `json:"index"`
			} `json:"data"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
			return nil, fmt.Errorf("embeddings: decode response: %w", err)
		}

		vecs := make([][]float32, len(parsed.Data))
		for _, d := range parsed.Data {
			if d.Index >= 0 && d.Index < len(vecs) {
				vecs[d.Index] = d.Embedding
			}
		}
		return vecs, nil
	})
}
