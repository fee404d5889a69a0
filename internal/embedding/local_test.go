package embedding

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestLocalClientEmbed(t *testing.T) {
	var gotReq localEmbedRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if r.URL.Path != "/api/embed" {
			t.Errorf("path = %s, want /api/embed", r.URL.Path)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("content-type = %s", ct)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		_ = json.NewEncoder(w).Encode(localEmbedResponse{
			Embeddings: [][]float32{{3, 4, 0}},
		})
	}))
	defer srv.Close()

	c := NewLocalClient(srv.URL+"/", "all-minilm", 3)
	vec, err := c.Embed(context.Background(), "hello world")
	if err != nil {
		t.Fatalf("Embed() error = %v", err)
	}

	if gotReq.Model != "all-minilm" {
		t.Errorf("request model = %q", gotReq.Model)
	}
	if len(gotReq.Input) != 1 || gotReq.Input[0] != "hello world" {
		t.Errorf("request input = %v", gotReq.Input)
	}

	// The runtime answer [3 4 0] is not unit length; the client renormalizes.
	var sum float64
	for _, f := range vec {
		sum += float64(f) * float64(f)
	}
	if math.Abs(sum-1) > 1e-6 {
		t.Errorf("returned vector squared norm = %v, want 1", sum)
	}
	if !c.Info().Cached {
		t.Error("Info().Cached = false after successful embed")
	}
}

func TestLocalClientEmbedErrors(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		wantErr error
	}{
		{
			name: "http error status",
			handler: func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, `model not found`, http.StatusNotFound)
			},
		},
		{
			name: "runtime error field",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_ = json.NewEncoder(w).Encode(localEmbedResponse{Error: "out of memory"})
			},
		},
		{
			name: "no embeddings",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_ = json.NewEncoder(w).Encode(localEmbedResponse{Embeddings: [][]float32{}})
			},
			wantErr: ErrNoEmbeddings,
		},
		{
			name: "wrong width",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_ = json.NewEncoder(w).Encode(localEmbedResponse{Embeddings: [][]float32{{1, 0}}})
			},
			wantErr: ErrWrongWidth,
		},
		{
			name: "malformed body",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte("{not json"))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			c := NewLocalClient(srv.URL, "all-minilm", 3)
			_, err := c.Embed(context.Background(), "text")
			if err == nil {
				t.Fatal("Embed() error = nil, want error")
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("Embed() error = %v, want %v", err, tt.wantErr)
			}
			if c.Info().Cached {
				t.Error("Info().Cached = true after failed embed")
			}
		})
	}
}

func TestLocalClientConnectionRefused(t *testing.T) {
	// Reserve a port and close it so nothing is listening.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	c := NewLocalClient(url, "all-minilm", 3)
	if _, err := c.Embed(context.Background(), "text"); err == nil {
		t.Fatal("Embed() error = nil, want connection error")
	}
}

func TestLocalClientContextCanceled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c := NewLocalClient(srv.URL, "all-minilm", 3)
	if _, err := c.Embed(ctx, "text"); !errors.Is(err, context.Canceled) {
		t.Errorf("Embed() error = %v, want context.Canceled", err)
	}
}
