//go:build onnx

// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Engram Contributors

package embed

import (
	"context"
	"encoding/json"
	"os"
	"strings"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	engramerr "github.com/engram-dev/engram/pkg/errors"
)

// LocalConfig holds local (onnx) embedder configuration.
type LocalConfig struct {
	// ModelPath is the ONNX model file (all-MiniLM-L6-v2 or compatible).
	ModelPath string
	// VocabPath is the WordPiece vocab JSON (token -> id).
	VocabPath string
	// LibraryPath optionally overrides the onnxruntime shared library.
	LibraryPath string
}

const localMaxTokens = 256

var (
	ortInitOnce sync.Once
	ortInitErr  error
)

// LocalEmbedder runs a sentence-transformer ONNX model in-process,
// producing 384-dimension vectors. The onnx runtime environment is
// initialized once per process; model runs are serialized by a mutex,
// so concurrent callers are safe.
type LocalEmbedder struct {
	mu      sync.Mutex
	session *ort.DynamicAdvancedSession
	vocab   map[string]int64
}

// Compile-time interface check.
var _ Embedder = (*LocalEmbedder)(nil)

// NewLocalEmbedder loads the model and vocabulary. Any failure surfaces
// to the caller; there is no fallback path.
func NewLocalEmbedder(cfg LocalConfig) (*LocalEmbedder, error) {
	if cfg.ModelPath == "" || cfg.VocabPath == "" {
		return nil, engramerr.New(engramerr.CodeEmbedProviderInvalid,
			"local embedder requires model_path and vocab_path")
	}

	ortInitOnce.Do(func() {
		if cfg.LibraryPath != "" {
			ort.SetSharedLibraryPath(cfg.LibraryPath)
		}
		ortInitErr = ort.InitializeEnvironment()
	})
	if ortInitErr != nil {
		return nil, engramerr.Wrap(ortInitErr, engramerr.CodeEmbedProviderInvalid,
			"initializing onnx runtime")
	}

	vocab, err := loadVocab(cfg.VocabPath)
	if err != nil {
		return nil, err
	}

	session, err := ort.NewDynamicAdvancedSession(cfg.ModelPath,
		[]string{"input_ids", "attention_mask", "token_type_ids"},
		[]string{"last_hidden_state"},
		nil,
	)
	if err != nil {
		return nil, engramerr.Wrap(err, engramerr.CodeEmbedProviderInvalid,
			"creating onnx session")
	}

	return &LocalEmbedder{session: session, vocab: vocab}, nil
}

func (e *LocalEmbedder) Dimensions() int { return LocalDimensions }

// Close releases the model session.
func (e *LocalEmbedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session != nil {
		e.session.Destroy()
		e.session = nil
	}
	return nil
}

func (e *LocalEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	ids := e.tokenize(text)
	n := int64(len(ids))

	attention := make([]int64, n)
	tokenTypes := make([]int64, n)
	for i := range attention {
		attention[i] = 1
	}

	shape := ort.NewShape(1, n)
	inputIDs, err := ort.NewTensor(shape, ids)
	if err != nil {
		return nil, engramerr.Wrap(err, engramerr.CodeEmbedUpstreamFailure, "creating input tensor")
	}
	defer inputIDs.Destroy()

	mask, err := ort.NewTensor(shape, attention)
	if err != nil {
		return nil, engramerr.Wrap(err, engramerr.CodeEmbedUpstreamFailure, "creating mask tensor")
	}
	defer mask.Destroy()

	types, err := ort.NewTensor(shape, tokenTypes)
	if err != nil {
		return nil, engramerr.Wrap(err, engramerr.CodeEmbedUpstreamFailure, "creating type tensor")
	}
	defer types.Destroy()

	outputs := []ort.Value{nil}
	e.mu.Lock()
	err = e.session.Run([]ort.Value{inputIDs, mask, types}, outputs)
	e.mu.Unlock()
	if err != nil {
		return nil, engramerr.Wrap(err, engramerr.CodeEmbedUpstreamFailure, "running onnx model")
	}
	hidden := outputs[0].(*ort.Tensor[float32])
	defer hidden.Destroy()

	return meanPool(hidden.GetData(), int(n)), nil
}

// tokenize applies greedy WordPiece over a lowercased whitespace split,
// framed by [CLS] and [SEP]. Unknown fragments map to [UNK].
func (e *LocalEmbedder) tokenize(text string) []int64 {
	cls, sep, unk := e.vocab["[CLS]"], e.vocab["[SEP]"], e.vocab["[UNK]"]

	ids := []int64{cls}
	for _, word := range strings.Fields(strings.ToLower(text)) {
		if len(ids) >= localMaxTokens-1 {
			break
		}
		ids = append(ids, e.wordpiece(word, unk)...)
	}
	return append(ids, sep)
}

func (e *LocalEmbedder) wordpiece(word string, unk int64) []int64 {
	var pieces []int64
	start := 0
	for start < len(word) {
		end := len(word)
		var match int64 = -1
		for end > start {
			candidate := word[start:end]
			if start > 0 {
				candidate = "##" + candidate
			}
			if id, ok := e.vocab[candidate]; ok {
				match = id
				break
			}
			end--
		}
		if match < 0 {
			return []int64{unk}
		}
		pieces = append(pieces, match)
		start = end
	}
	return pieces
}

// meanPool averages token embeddings and normalizes to unit length.
func meanPool(hidden []float32, tokens int) []float32 {
	vec := make([]float32, LocalDimensions)
	if tokens == 0 {
		return vec
	}

	for t := 0; t < tokens; t++ {
		base := t * LocalDimensions
		for d := 0; d < LocalDimensions; d++ {
			vec[d] += hidden[base+d]
		}
	}

	inv := float32(1) / float32(tokens)
	for d := range vec {
		vec[d] *= inv
	}
	return normalize(vec)
}

func loadVocab(path string) (map[string]int64, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, engramerr.Wrap(err, engramerr.CodeEmbedProviderInvalid, "reading vocab file")
	}

	var vocab map[string]int64
	if err := json.Unmarshal(raw, &vocab); err != nil {
		return nil, engramerr.Wrap(err, engramerr.CodeEmbedProviderInvalid, "parsing vocab file")
	}
	return vocab, nil
}
