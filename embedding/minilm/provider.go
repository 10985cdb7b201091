// Package minilm provides a local [embedding.Provider] backed by a quantized
// MiniLM-L6-v2 ONNX model. Text is tokenized with WordPiece, run through the
// model, mean-pooled over non-padding tokens, and L2-normalized into a
// 384-dimensional dense vector. No network access is involved.
package minilm

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"runtime"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

const (
	// MiniLM-L6-v2 produces 384-dimensional float32 embeddings.
	embDims = 384

	// Default max sequence length for tokenization (BERT standard).
	defaultMaxSeqLen = 128
)

// Provider implements embedding.Provider using a local MiniLM ONNX model.
// Thread-safe after construction; inference calls are serialized on the
// ONNX session.
type Provider struct {
	mu        sync.Mutex
	session   *ort.DynamicAdvancedSession
	tokenizer *wordPieceTokenizer
	maxSeqLen int
	model     string
}

// Option configures a Provider.
type Option func(*providerConfig)

type providerConfig struct {
	modelPath string
	maxSeqLen int
}

// WithModelPath sets the path to the ONNX model file. The vocab.txt file is
// expected in the same directory. If not set, the provider looks in standard
// locations (see DefaultModelPath).
func WithModelPath(path string) Option {
	return func(c *providerConfig) { c.modelPath = path }
}

// WithMaxSeqLen sets the maximum token sequence length. Default: 128.
// Longer inputs are truncated. Must be > 2 (to fit [CLS] and [SEP]).
func WithMaxSeqLen(n int) Option {
	return func(c *providerConfig) { c.maxSeqLen = n }
}

// New creates a MiniLM provider.
//
// The ONNX runtime shared library must be available on the system; it is
// initialized lazily with default settings on first use.
//
// Returns an error if the model or vocabulary file is not found, or ONNX
// session creation fails.
func New(opts ...Option) (*Provider, error) {
	cfg := providerConfig{maxSeqLen: defaultMaxSeqLen}
	for _, opt := range opts {
		opt(&cfg)
	}

	if cfg.maxSeqLen < 3 {
		return nil, fmt.Errorf("minilm: maxSeqLen must be >= 3, got %d", cfg.maxSeqLen)
	}

	modelPath := cfg.modelPath
	if modelPath == "" {
		var err error
		modelPath, err = DefaultModelPath()
		if err != nil {
			return nil, fmt.Errorf("minilm: model not found: %w (use WithModelPath)", err)
		}
	}
	if _, err := os.Stat(modelPath); err != nil {
		return nil, fmt.Errorf("minilm: model file not accessible: %w", err)
	}

	tokenizer, err := loadVocab(filepath.Join(filepath.Dir(modelPath), vocabFileName))
	if err != nil {
		return nil, err
	}

	if err := ensureRuntime(); err != nil {
		return nil, fmt.Errorf("minilm: ONNX runtime init failed: %w", err)
	}

	inputNames := []string{"input_ids", "attention_mask", "token_type_ids"}
	outputNames := []string{"last_hidden_state"}

	session, err := ort.NewDynamicAdvancedSession(
		modelPath,
		inputNames,
		outputNames,
		nil, // session options
	)
	if err != nil {
		return nil, fmt.Errorf("minilm: failed to create ONNX session: %w", err)
	}

	return &Provider{
		session:   session,
		tokenizer: tokenizer,
		maxSeqLen: cfg.maxSeqLen,
		model:     "all-MiniLM-L6-v2",
	}, nil
}

// Encode implements embedding.Provider.
func (p *Provider) Encode(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return p.embed(text)
}

// BatchEncode implements embedding.Provider. Each text is embedded
// independently; texts are never concatenated.
func (p *Provider) BatchEncode(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		vec, err := p.embed(text)
		if err != nil {
			return nil, err
		}
		out[i] = vec
	}
	return out, nil
}

// Dimensions implements embedding.Provider.
func (p *Provider) Dimensions() int { return embDims }

// Model implements embedding.Provider.
func (p *Provider) Model() string { return p.model }

// embed tokenizes text, runs ONNX inference, applies mean pooling over
// non-padding tokens, and L2-normalizes the result.
func (p *Provider) embed(text string) ([]float32, error) {
	tokens := p.tokenizer.tokenize(text, p.maxSeqLen)
	seqLen := len(tokens.InputIDs)
	tokens.padTo(p.maxSeqLen)

	shape := ort.NewShape(1, int64(p.maxSeqLen))

	inputIDs, err := ort.NewTensor(shape, castInt32ToInt64(tokens.InputIDs))
	if err != nil {
		return nil, fmt.Errorf("minilm: creating input_ids tensor: %w", err)
	}
	defer inputIDs.Destroy()

	attentionMask, err := ort.NewTensor(shape, castInt32ToInt64(tokens.AttentionMask))
	if err != nil {
		return nil, fmt.Errorf("minilm: creating attention_mask tensor: %w", err)
	}
	defer attentionMask.Destroy()

	tokenTypeIDs, err := ort.NewTensor(shape, castInt32ToInt64(tokens.TokenTypeIDs))
	if err != nil {
		return nil, fmt.Errorf("minilm: creating token_type_ids tensor: %w", err)
	}
	defer tokenTypeIDs.Destroy()

	// Output: [1, seq_len, 384]
	outputShape := ort.NewShape(1, int64(p.maxSeqLen), embDims)
	output, err := ort.NewEmptyTensor[float32](outputShape)
	if err != nil {
		return nil, fmt.Errorf("minilm: creating output tensor: %w", err)
	}
	defer output.Destroy()

	p.mu.Lock()
	if p.session == nil {
		p.mu.Unlock()
		return nil, fmt.Errorf("minilm: provider is closed")
	}
	err = p.session.Run(
		[]ort.ArbitraryTensor{inputIDs, attentionMask, tokenTypeIDs},
		[]ort.ArbitraryTensor{output},
	)
	p.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("minilm: ONNX inference failed: %w", err)
	}

	embedding := meanPool(output.GetData(), seqLen, embDims)
	l2Normalize(embedding)
	return embedding, nil
}

// Close releases ONNX session resources. The provider must not be used after Close.
func (p *Provider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.session != nil {
		err := p.session.Destroy()
		p.session = nil
		return err
	}
	return nil
}

// meanPool computes the mean of token embeddings, excluding padding tokens.
// data is [1, maxSeqLen, dims]; the average runs over tokens [0, seqLen).
func meanPool(data []float32, seqLen, dims int) []float32 {
	result := make([]float32, dims)
	if seqLen == 0 {
		return result
	}

	for t := 0; t < seqLen; t++ {
		offset := t * dims
		for d := 0; d < dims; d++ {
			result[d] += data[offset+d]
		}
	}

	scale := 1.0 / float32(seqLen)
	for d := range result {
		result[d] *= scale
	}
	return result
}

// l2Normalize normalizes a vector to unit length in-place.
func l2Normalize(v []float32) {
	var norm float64
	for _, x := range v {
		norm += float64(x) * float64(x)
	}
	norm = math.Sqrt(norm)
	if norm > 0 {
		scale := float32(1.0 / norm)
		for i := range v {
			v[i] *= scale
		}
	}
}

// castInt32ToInt64 converts a slice of int32 to int64 (ONNX Runtime expects int64).
func castInt32ToInt64(in []int32) []int64 {
	out := make([]int64, len(in))
	for i, v := range in {
		out[i] = int64(v)
	}
	return out
}

// ── ONNX Runtime initialization ──────────────────────────────────────────────

var ortOnce sync.Once
var ortErr error

// ensureRuntime initializes the ONNX Runtime library if not already done.
func ensureRuntime() error {
	ortOnce.Do(func() {
		// The library looks for the shared library in standard paths.
		// Set ORT_LIB_PATH or call ort.SetSharedLibraryPath beforehand to override.
		ortErr = ort.InitializeEnvironment()
	})
	return ortErr
}

// DestroyRuntime cleans up the ONNX Runtime environment.
// Call at application shutdown for clean resource release.
func DestroyRuntime() error {
	return ort.DestroyEnvironment()
}

// ── Model path resolution ────────────────────────────────────────────────────

const (
	modelFileName = "all-MiniLM-L6-v2.onnx"
	vocabFileName = "vocab.txt"
)

// DefaultModelPath returns the default path where the ONNX model is expected.
// It checks the following locations in order:
//  1. $RESONANCE_MODEL_PATH (if set)
//  2. $XDG_DATA_HOME/resonance/models/all-MiniLM-L6-v2.onnx
//  3. ~/.local/share/resonance/models/all-MiniLM-L6-v2.onnx
//
// Returns the first path that exists, or an error if none is found.
func DefaultModelPath() (string, error) {
	if p := os.Getenv("RESONANCE_MODEL_PATH"); p != "" {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	candidate := filepath.Join(ModelDir(), modelFileName)
	if _, err := os.Stat(candidate); err == nil {
		return candidate, nil
	}

	return "", fmt.Errorf("model not found in $RESONANCE_MODEL_PATH or %s", candidate)
}

// ModelDir returns the directory where models should be stored.
func ModelDir() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			home = "."
		}
		if runtime.GOOS == "darwin" {
			dataDir = filepath.Join(home, "Library", "Application Support")
		} else {
			dataDir = filepath.Join(home, ".local", "share")
		}
	}
	return filepath.Join(dataDir, "resonance", "models")
}
