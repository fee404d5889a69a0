package embedding

import (
	"context"
	"errors"
	"math"
	"testing"
)

func TestMockClientDeterministic(t *testing.T) {
	m := NewMockClient(64)

	a1, err := m.Embed(context.Background(), "user prefers tabs")
	if err != nil {
		t.Fatalf("Embed() error = %v", err)
	}
	a2, _ := m.Embed(context.Background(), "user prefers tabs")

	if Cosine(a1, a2) < 0.999999 {
		t.Errorf("identical texts differ: cosine = %v", Cosine(a1, a2))
	}

	var sum float64
	for _, f := range a1 {
		sum += float64(f) * float64(f)
	}
	if math.Abs(sum-1) > 1e-5 {
		t.Errorf("squared norm = %v, want 1", sum)
	}
}

func TestMockClientSharedTokensScoreHigher(t *testing.T) {
	m := NewMockClient(64)

	a, _ := m.Embed(context.Background(), "user prefers tabs for indentation")
	b, _ := m.Embed(context.Background(), "user prefers spaces for indentation")
	c, _ := m.Embed(context.Background(), "deploy runs on fridays")

	if Cosine(a, b) <= Cosine(a, c) {
		t.Errorf("overlapping texts (%v) should outscore unrelated (%v)",
			Cosine(a, b), Cosine(a, c))
	}
}

func TestMockClientFailWith(t *testing.T) {
	m := NewMockClient(8)
	boom := errors.New("embedder down")

	m.FailWith(boom)
	if _, err := m.Embed(context.Background(), "x"); !errors.Is(err, boom) {
		t.Errorf("Embed() error = %v, want %v", err, boom)
	}
	if m.Available() {
		t.Error("Available() = true while failing")
	}

	m.Recover()
	if _, err := m.Embed(context.Background(), "x"); err != nil {
		t.Errorf("Embed() after Recover error = %v", err)
	}
	if !m.Available() {
		t.Error("Available() = false after Recover")
	}
}

func TestMockClientSetVector(t *testing.T) {
	m := NewMockClient(3)
	m.SetVector("pinned", []float32{0, 1, 0})

	got, err := m.Embed(context.Background(), "pinned")
	if err != nil {
		t.Fatalf("Embed() error = %v", err)
	}
	if got[0] != 0 || got[1] != 1 || got[2] != 0 {
		t.Errorf("Embed() = %v, want [0 1 0]", got)
	}

	// Returned slice must be a copy; mutating it cannot corrupt the pin.
	got[1] = 9
	again, _ := m.Embed(context.Background(), "pinned")
	if again[1] != 1 {
		t.Errorf("pinned vector mutated: %v", again)
	}
}

func TestMockClientWhitespaceOnly(t *testing.T) {
	m := NewMockClient(4)
	vec, err := m.Embed(context.Background(), "   ")
	if err != nil {
		t.Fatalf("Embed() error = %v", err)
	}
	if vec[0] != 1 {
		t.Errorf("Embed(whitespace) = %v, want stable fallback", vec)
	}
}

func TestMockClientInfo(t *testing.T) {
	m := NewMockClient(384)
	info := m.Info()
	if info.Name != mockModelName {
		t.Errorf("Info().Name = %q", info.Name)
	}
	if info.Dimensions != 384 {
		t.Errorf("Info().Dimensions = %d", info.Dimensions)
	}
	if !info.Cached {
		t.Error("Info().Cached = false")
	}
}
