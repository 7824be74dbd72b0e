package embeddings

import (
	"context"
	"fmt"
	"math"
	"sync"

	"github.com/doctalk/doctalk-backend/internal/logger"
)

// Embedder maps text to L2-normalized dense vectors. The profile tag and
// dimension are fixed for the lifetime of a conversation.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
	Profile() string
}

// Normalize rescales v to unit length in place so cosine similarity
// reduces to a dot product. Zero vectors are left untouched.
func Normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return v
	}
	inv := 1 / math.Sqrt(sum)
	for i := range v {
		v[i] = float32(float64(v[i]) * inv)
	}
	return v
}

// Registry holds one lazily-built embedder per profile tag. Construction
// runs at most once per profile even under concurrent first use.
type Registry struct {
	log     *logger.Logger
	mu      sync.Mutex
	entries map[string]*registryEntry
	build   func(profile string) (Embedder, error)
}

type registryEntry struct {
	once sync.Once
	emb  Embedder
	err  error
}

func NewRegistry(log *logger.Logger, build func(profile string) (Embedder, error)) *Registry {
	return &Registry{
		log:     log.With("service", "EmbedderRegistry"),
		entries: make(map[string]*registryEntry),
		build:   build,
	}
}

func (r *Registry) Get(profile string) (Embedder, error) {
	if profile == "" {
		return nil, fmt.Errorf("embedder profile required")
	}
	r.mu.Lock()
	entry, ok := r.entries[profile]
	if !ok {
		entry = &registryEntry{}
		r.entries[profile] = entry
	}
	r.mu.Unlock()

	entry.once.Do(func() {
		r.log.Info("Initializing embedder", "profile", profile)
		entry.emb, entry.err = r.build(profile)
		if entry.err != nil {
			r.log.Error("Embedder init failed", "profile", profile, "error", entry.err)
		}
	})
	if entry.err != nil {
		// allow a later retry instead of caching the failure forever
		r.mu.Lock()
		delete(r.entries, profile)
		r.mu.Unlock()
		return nil, entry.err
	}
	return entry.emb, nil
}
