package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestGenerateReturnsResponseText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/generate" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		var req generateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req.Model != "llama3" || req.Prompt != "hello" {
			t.Errorf("unexpected request: %+v", req)
		}
		json.NewEncoder(w).Encode(generateResponse{Response: "world", Done: true})
	}))
	defer srv.Close()

	c := New(srv.URL, "llama3")
	out, err := c.Generate(context.Background(), "", "hello")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if out != "world" {
		t.Errorf("response = %q, want world", out)
	}
}

func TestGenerateNonOKStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := New(srv.URL, "llama3")
	if _, err := c.Generate(context.Background(), "", "hello"); err == nil {
		t.Error("expected error on non-200 status")
	}
}

func TestGenerateJSONUnmarshalsResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(generateResponse{Response: `{"entities":[]}`, Done: true})
	}))
	defer srv.Close()

	c := New(srv.URL, "llama3")
	var out struct {
		Entities []any `json:"entities"`
	}
	if err := c.GenerateJSON(context.Background(), "", "categorize this", &out); err != nil {
		t.Fatalf("generate json: %v", err)
	}
	if out.Entities == nil {
		t.Error("expected entities to be present (even if empty)")
	}
}

func TestGenerateJSONInvalidJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(generateResponse{Response: "not json", Done: true})
	}))
	defer srv.Close()

	c := New(srv.URL, "llama3")
	var out map[string]any
	if err := c.GenerateJSON(context.Background(), "", "prompt", &out); err == nil {
		t.Error("expected error for non-JSON model response")
	}
}
