package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// OpenAI is a Provider backed by the OpenAI embeddings API (or any
// API-compatible endpoint via BaseURL).
type OpenAI struct {
	apiKey    string
	model     string
	baseURL   string
	dimension int
	client    *http.Client
}

// OpenAIConfig configures an OpenAI provider.
type OpenAIConfig struct {
	APIKey    string
	Model     string // default: text-embedding-3-small
	BaseURL   string // default: https://api.openai.com/v1
	Dimension int    // required for models outside the built-in table
}

// openAIModelDims maps the first-party embedding models to their native
// dimensionality.
var openAIModelDims = map[string]int{
	"text-embedding-3-small": 1536,
	"text-embedding-3-large": 3072,
	"text-embedding-ada-002": 1536,
}

// NewOpenAI creates an OpenAI embedding provider.
//
// The model's dimensionality must be known up front: either the model is one
// of the first-party embedding models, or cfg.Dimension names it explicitly
// (for custom models behind an API-compatible BaseURL). An unknown model
// without a Dimension is an error rather than a guess.
func NewOpenAI(cfg OpenAIConfig) (*OpenAI, error) {
	model := cfg.Model
	if model == "" {
		model = "text-embedding-3-small"
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	dimension := cfg.Dimension
	if dimension == 0 {
		var ok bool
		if dimension, ok = openAIModelDims[model]; !ok {
			return nil, fmt.Errorf("unknown embedding model %q: set OpenAIConfig.Dimension", model)
		}
	}
	return &OpenAI{
		apiKey:    cfg.APIKey,
		model:     model,
		baseURL:   baseURL,
		dimension: dimension,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
	}, nil
}

type openAIEmbedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type openAIEmbedResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
}

// Encode implements Provider.
func (p *OpenAI) Encode(ctx context.Context, text string) ([]float32, error) {
	vecs, err := p.BatchEncode(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// BatchEncode implements Provider. All texts go out in one API call; the
// API embeds each input independently.
func (p *OpenAI) BatchEncode(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	reqBody := openAIEmbedRequest{
		Model: p.model,
		Input: texts,
	}

	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", p.baseURL+"/embeddings", bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embedding request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("embedding API error (status %d): %s", resp.StatusCode, string(body))
	}

	var embedResp openAIEmbedResponse
	if err := json.Unmarshal(body, &embedResp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	// Place each embedding by its index field to maintain input order.
	// An index outside [0, len(texts)) is a malformed response, not a crash.
	result := make([][]float32, len(texts))
	for _, d := range embedResp.Data {
		if d.Index < 0 || d.Index >= len(result) {
			return nil, fmt.Errorf("embedding response index %d out of range for %d inputs", d.Index, len(texts))
		}
		result[d.Index] = d.Embedding
	}
	for i, v := range result {
		if len(v) != p.Dimensions() {
			return nil, fmt.Errorf("embedding %d has %d dims, want %d", i, len(v), p.Dimensions())
		}
	}

	return result, nil
}

// Dimensions implements Provider.
func (p *OpenAI) Dimensions() int { return p.dimension }

// Model implements Provider.
func (p *OpenAI) Model() string { return p.model }
