package embeddings

import (
	"context"
	"math"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/doctalk/doctalk-backend/internal/logger"
)

func TestNormalizeUnitLength(t *testing.T) {
	v := Normalize([]float32{3, 4})
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if math.Abs(sum-1) > 1e-6 {
		t.Fatalf("norm^2: want=1 got=%f", sum)
	}
	if math.Abs(float64(v[0])-0.6) > 1e-6 || math.Abs(float64(v[1])-0.8) > 1e-6 {
		t.Fatalf("direction changed: %v", v)
	}
}

func TestNormalizeZeroVector(t *testing.T) {
	v := Normalize([]float32{0, 0, 0})
	for i, x := range v {
		if x != 0 {
			t.Fatalf("zero vector changed at %d: %f", i, x)
		}
	}
}

type stubEmbedder struct {
	profile string
}

func (s *stubEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return []float32{1}, nil
}
func (s *stubEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1}
	}
	return out, nil
}
func (s *stubEmbedder) Dimension() int  { return 1 }
func (s *stubEmbedder) Profile() string { return s.profile }

func TestRegistryBuildsOncePerProfile(t *testing.T) {
	var builds int32
	reg := NewRegistry(logger.NewNop(), func(profile string) (Embedder, error) {
		atomic.AddInt32(&builds, 1)
		return &stubEmbedder{profile: profile}, nil
	})

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := reg.Get("allminilm"); err != nil {
				t.Errorf("Get: %v", err)
			}
		}()
	}
	wg.Wait()

	if n := atomic.LoadInt32(&builds); n != 1 {
		t.Fatalf("builds: want=1 got=%d", n)
	}

	if _, err := reg.Get("custom"); err != nil {
		t.Fatalf("Get second profile: %v", err)
	}
	if n := atomic.LoadInt32(&builds); n != 2 {
		t.Fatalf("builds after second profile: want=2 got=%d", n)
	}
}

func TestRegistryEmptyProfileRejected(t *testing.T) {
	reg := NewRegistry(logger.NewNop(), func(profile string) (Embedder, error) {
		return &stubEmbedder{profile: profile}, nil
	})
	if _, err := reg.Get(""); err == nil {
		t.Fatalf("expected error for empty profile")
	}
}
