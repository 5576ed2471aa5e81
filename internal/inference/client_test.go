package inference

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"

	"github.com/solvent-ai/triagekit/internal/core/domain"
	"github.com/solvent-ai/triagekit/internal/core/ports"
)

func chatServer(t *testing.T, handler http.HandlerFunc) (*httptest.Server, *Client) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv, NewClient("test-key", WithBaseURL(srv.URL), WithHTTPClient(srv.Client()))
}

func respondWith(t *testing.T, w http.ResponseWriter, content string) {
	t.Helper()
	resp := map[string]any{
		"choices": []map[string]any{
			{"message": map[string]any{"role": "assistant", "content": content}},
		},
	}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		t.Fatal(err)
	}
}

func TestClassify_SendsAuthAndModel(t *testing.T) {
	var gotAuth, gotModel string
	_, client := chatServer(t, func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		var req chatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatal(err)
		}
		gotModel = req.Model
		respondWith(t, w, `{"category":"billing"}`)
	})

	out, err := client.Classify(context.Background(), "classify this", ports.TierCostOptimized)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != `{"category":"billing"}` {
		t.Errorf("output = %q", out)
	}
	if gotAuth != "Bearer test-key" {
		t.Errorf("auth header = %q", gotAuth)
	}
	if gotModel != "gpt-4o-mini" {
		t.Errorf("model = %q, want cost-optimized default", gotModel)
	}
}

func TestClassify_RetriesTransientThenSucceeds(t *testing.T) {
	attempts := 0
	_, client := chatServer(t, func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		respondWith(t, w, "ok")
	})

	out, err := client.Classify(context.Background(), "p", ports.TierCostOptimized)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "ok" || attempts != 2 {
		t.Errorf("out = %q after %d attempts", out, attempts)
	}
}

func TestClassify_PermanentFailureNotRetried(t *testing.T) {
	attempts := 0
	_, client := chatServer(t, func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusUnauthorized)
	})

	_, err := client.Classify(context.Background(), "p", ports.TierCostOptimized)
	if err == nil {
		t.Fatal("expected error")
	}
	if domain.IsTransient(err) {
		t.Error("4xx must not be transient")
	}
	if attempts != 1 {
		t.Errorf("4xx retried %d times", attempts)
	}
}

func TestClassify_ExhaustedRetriesSurfaceTransient(t *testing.T) {
	attempts := 0
	_, client := chatServer(t, func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	_, err := client.Classify(context.Background(), "p", ports.TierCostOptimized)
	if !domain.IsTransient(err) {
		t.Fatalf("expected transient error, got %v", err)
	}
	if attempts != defaultMaxAttempts {
		t.Errorf("made %d attempts, want %d", attempts, defaultMaxAttempts)
	}
}

func TestGenerateDrafts_TierSelection(t *testing.T) {
	var gotModel string
	_, client := chatServer(t, func(w http.ResponseWriter, r *http.Request) {
		var req chatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatal(err)
		}
		gotModel = req.Model
		respondWith(t, w, "draft one\n---\ndraft two")
	})

	drafts, err := client.GenerateDrafts(context.Background(), "p", ports.TierCapable, 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotModel != "gpt-4o" {
		t.Errorf("model = %q, want capable tier", gotModel)
	}
	if !reflect.DeepEqual(drafts, []string{"draft one", "draft two"}) {
		t.Errorf("drafts = %v", drafts)
	}
}

func TestSplitDrafts(t *testing.T) {
	tests := []struct {
		name string
		in   string
		max  int
		want []string
	}{
		{"two drafts", "a\n---\nb", 3, []string{"a", "b"}},
		{"cap applies", "a\n---\nb\n---\nc", 2, []string{"a", "b"}},
		{"no separator", "just one draft", 3, []string{"just one draft"}},
		{"empty segments dropped", "a\n---\n\n---\nb", 3, []string{"a", "b"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SplitDrafts(tt.in, tt.max); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("SplitDrafts() = %v, want %v", got, tt.want)
			}
		})
	}
}
