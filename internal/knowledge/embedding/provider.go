// Package embedding provides deterministic content-to-vector embedding,
// grounded on the repository's reference hash-based provider.
package embedding

import (
	"crypto/sha256"
	"fmt"
	"math"
	"regexp"
	"strings"
)

// Error wraps a failure to produce an embedding, carrying the offending
// content (truncated) for diagnostics.
type Error struct {
	Message string
	Content interface{}
	Cause   error
}

func (e *Error) Error() string {
	msg := e.Message
	if e.Content != nil {
		s := fmt.Sprintf("%v", e.Content)
		if len(s) > 100 {
			s = s[:97] + "..."
		}
		msg += fmt.Sprintf(" (content: %s)", s)
	}
	if e.Cause != nil {
		msg += fmt.Sprintf(" - caused by: %v", e.Cause)
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Cause }

// Provider is a pure, deterministic content -> vector function.
type Provider interface {
	Embed(content interface{}) ([]float32, error)
	EmbedBatch(contents []interface{}) ([][]float32, error)
	Dimension() int
}

var nonWordSpace = regexp.MustCompile(`[^\w\s]`)
var multiSpace = regexp.MustCompile(`\s+`)

// HashProvider is the reference embedding provider: a SHA-256 hash of a
// normalized string rendering of the content, augmented with three simple
// lexical features, then L2-normalized.
type HashProvider struct {
	dimension int
}

// NewHashProvider creates a hash-based embedding provider with the given
// vector dimension (the reference dimension used throughout SPEC_FULL.md's
// scenarios is 128).
func NewHashProvider(dimension int) *HashProvider {
	if dimension <= 0 {
		dimension = 128
	}
	return &HashProvider{dimension: dimension}
}

func (p *HashProvider) Dimension() int { return p.dimension }

func (p *HashProvider) Embed(content interface{}) ([]float32, error) {
	s := contentToString(content)
	return p.generate(s), nil
}

func (p *HashProvider) EmbedBatch(contents []interface{}) ([][]float32, error) {
	out := make([][]float32, len(contents))
	for i, c := range contents {
		v, err := p.Embed(c)
		if err != nil {
			return nil, &Error{Message: "failed to generate embeddings", Content: contents, Cause: err}
		}
		out[i] = v
	}
	return out, nil
}

// contentToString mirrors the reference provider's recursive stringification:
// nil -> "", scalars via fmt, slices/maps space-joined recursively, map
// entries rendered as "key value" pairs.
func contentToString(content interface{}) string {
	switch v := content.(type) {
	case nil:
		return ""
	case string:
		return v
	case int, int32, int64, float32, float64, bool:
		return fmt.Sprintf("%v", v)
	case []interface{}:
		parts := make([]string, len(v))
		for i, item := range v {
			parts[i] = contentToString(item)
		}
		return strings.Join(parts, " ")
	case map[string]interface{}:
		// Deterministic order matters for reproducibility across calls.
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sortStrings(keys)
		parts := make([]string, 0, len(v))
		for _, k := range keys {
			parts = append(parts, contentToString(k)+" "+contentToString(v[k]))
		}
		return strings.Join(parts, " ")
	default:
		return fmt.Sprintf("%v", v)
	}
}

func sortStrings(s []string) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j] < s[j-1]; j-- {
			s[j], s[j-1] = s[j-1], s[j]
		}
	}
}

func (p *HashProvider) generate(raw string) []float32 {
	normalized := strings.ToLower(raw)
	normalized = nonWordSpace.ReplaceAllString(normalized, "")
	normalized = multiSpace.ReplaceAllString(normalized, " ")
	normalized = strings.TrimSpace(normalized)

	sum := sha256.Sum256([]byte(normalized))

	embedding := make([]float32, p.dimension)
	n := len(sum)
	if n > p.dimension {
		n = p.dimension
	}
	for i := 0; i < n; i++ {
		embedding[i] = float32(sum[i]) / 255.0
	}

	words := strings.Fields(normalized)
	if len(words) > 0 {
		wordCount := float64(len(words))
		embedding[0] = float32(math.Min(1.0, wordCount/100.0))

		totalLen := 0
		unique := make(map[string]struct{}, len(words))
		for _, w := range words {
			totalLen += len(w)
			unique[w] = struct{}{}
		}
		avgLen := float64(totalLen) / wordCount
		embedding[1] = float32(math.Min(1.0, avgLen/10.0))
		embedding[2] = float32(float64(len(unique)) / wordCount)
	}

	var normSq float64
	for _, x := range embedding {
		normSq += float64(x) * float64(x)
	}
	norm := math.Sqrt(normSq)
	if norm > 0 {
		for i := range embedding {
			embedding[i] = float32(float64(embedding[i]) / norm)
		}
	}
	return embedding
}
