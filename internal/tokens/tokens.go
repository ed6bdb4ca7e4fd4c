// Package tokens estimates token counts for user input with tiktoken, so
// oversized messages are rejected locally before they cost a remote call.
package tokens

import (
	"fmt"
	"strings"
	"sync"

	"github.com/tiktoken-go/tokenizer"
)

// Estimator counts tokens for a given model family.
type Estimator struct {
	// codecCache caches tokenizer codecs by encoding name
	codecCache map[tokenizer.Encoding]tokenizer.Codec
	cacheMu    sync.RWMutex
}

// NewEstimator creates a token estimator.
func NewEstimator() *Estimator {
	return &Estimator{
		codecCache: make(map[tokenizer.Encoding]tokenizer.Codec),
	}
}

func (e *Estimator) getCodec(model string) (tokenizer.Codec, error) {
	if codec, err := tokenizer.ForModel(tokenizer.Model(model)); err == nil {
		return codec, nil
	}

	encoding := modelToEncoding(model)

	e.cacheMu.RLock()
	if cached, ok := e.codecCache[encoding]; ok {
		e.cacheMu.RUnlock()
		return cached, nil
	}
	e.cacheMu.RUnlock()

	codec, err := tokenizer.Get(encoding)
	if err != nil {
		return nil, fmt.Errorf("failed to get tokenizer encoding: %w", err)
	}

	e.cacheMu.Lock()
	e.codecCache[encoding] = codec
	e.cacheMu.Unlock()

	return codec, nil
}

// modelToEncoding maps model names to encoding names for fallback.
//
// Encoding reference:
// - O200kBase: GPT-4.1, GPT-4o, o-series and newer models
// - Cl100kBase: GPT-4, GPT-3.5-turbo
func modelToEncoding(model string) tokenizer.Encoding {
	model = strings.ToLower(model)

	switch {
	case strings.HasPrefix(model, "gpt-4.1"), strings.HasPrefix(model, "gpt-4o"):
		return tokenizer.O200kBase
	case strings.HasPrefix(model, "o1"), strings.HasPrefix(model, "o3"), strings.HasPrefix(model, "o4"):
		return tokenizer.O200kBase
	case strings.HasPrefix(model, "gpt-4"), strings.HasPrefix(model, "gpt-3.5"):
		return tokenizer.Cl100kBase
	default:
		return tokenizer.O200kBase
	}
}

// Count returns the token count of text under the model's encoding.
func (e *Estimator) Count(model, text string) (int, error) {
	codec, err := e.getCodec(model)
	if err != nil {
		return 0, err
	}
	ids, _, err := codec.Encode(text)
	if err != nil {
		return 0, err
	}
	return len(ids), nil
}
