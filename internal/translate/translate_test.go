package translate

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHTTPClientTranslateParsesResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Fatalf("failed to parse form: %v", err)
		}
		if r.Form.Get("target_lang") != "DE" {
			t.Fatalf("expected uppercased target locale, got %q", r.Form.Get("target_lang"))
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"translations": []map[string]string{
				{"detected_source_language": "EN", "text": "Hallo Welt"},
			},
		})
	}))
	t.Cleanup(server.Close)

	client, err := NewHTTPClient(HTTPClientConfig{Endpoint: server.URL, AuthKey: "key"})
	if err != nil {
		t.Fatalf("failed to construct client: %v", err)
	}

	result, err := client.Translate(context.Background(), "Hello world", "de")
	if err != nil {
		t.Fatalf("unexpected translate failure: %v", err)
	}
	if result.Text != "Hallo Welt" {
		t.Fatalf("unexpected translation: %q", result.Text)
	}
	if result.DetectedSourceLocale != "EN" {
		t.Fatalf("unexpected detected locale: %q", result.DetectedSourceLocale)
	}
}

func TestHTTPClientTranslateSurfacesServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	t.Cleanup(server.Close)

	client, err := NewHTTPClient(HTTPClientConfig{Endpoint: server.URL})
	if err != nil {
		t.Fatalf("failed to construct client: %v", err)
	}
	if _, err := client.Translate(context.Background(), "Hello", "de"); err == nil {
		t.Fatal("expected error for non-200 response")
	}
}

func TestNewHTTPClientRequiresEndpoint(t *testing.T) {
	if _, err := NewHTTPClient(HTTPClientConfig{}); err == nil {
		t.Fatal("expected endpoint validation failure")
	}
}
