package store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/pomelo-kg/pomelo/pkg/ai"

	"golang.org/x/sync/errgroup"
)

// ResponseCache stores completion results keyed by a stable request hash.
// A cache hit short-circuits the completion call entirely.
type ResponseCache interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key string, value string) error
}

// CacheKey derives a stable cache key from the parts of a completion
// request (prompt, model, schema name). The same inputs always produce the
// same key.
func CacheKey(parts ...string) string {
	h := sha256.New()
	for _, p := range parts {
		h.Write([]byte(p))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// ChunkRange invokes fn over [start, end) windows covering total elements.
func ChunkRange(total, chunkSize int, fn func(start, end int) error) error {
	if total <= 0 {
		return nil
	}
	if chunkSize <= 0 {
		chunkSize = total
	}
	for start := 0; start < total; start += chunkSize {
		end := min(start+chunkSize, total)
		if err := fn(start, end); err != nil {
			return err
		}
	}
	return nil
}

// DedupeStrings removes empty strings and duplicates, preserving first-seen
// order.
func DedupeStrings(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, v := range in {
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

const embeddingParallelism = 8

type embeddingBatcher interface {
	GenerateEmbeddings(ctx context.Context, inputs [][]byte) ([][]float32, error)
}

// GenerateEmbeddings embeds every input, preferring the client's native batch
// endpoint and otherwise fanning out bounded single-input calls. Output index
// i corresponds to input index i.
func GenerateEmbeddings(
	ctx context.Context,
	client ai.GraphAIClient,
	inputs [][]byte,
) ([][]float32, error) {
	if client == nil {
		return nil, fmt.Errorf("ai client is nil")
	}
	if len(inputs) == 0 {
		return nil, nil
	}
	if b, ok := client.(embeddingBatcher); ok {
		return b.GenerateEmbeddings(ctx, inputs)
	}

	out := make([][]float32, len(inputs))

	eg, ectx := errgroup.WithContext(ctx)
	eg.SetLimit(embeddingParallelism)
	for i := range inputs {
		idx := i
		in := inputs[i]
		eg.Go(func() error {
			emb, err := client.GenerateEmbedding(ectx, in)
			if err != nil {
				return err
			}
			out[idx] = emb
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
