package platform

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

const testIGAccountID = "ig-account-1"

func newInstagramStub(t *testing.T, calls *[]graphCall) *httptest.Server {
	t.Helper()
	containerCounter := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Fatalf("failed to parse form: %v", err)
		}
		form := make(map[string]string, len(r.Form))
		for key := range r.Form {
			form[key] = r.Form.Get(key)
		}
		*calls = append(*calls, graphCall{method: r.Method, path: r.URL.Path, form: form})

		switch {
		case strings.HasSuffix(r.URL.Path, "/media"):
			containerCounter++
			writeJSON(w, map[string]string{"id": fmt.Sprintf("container-%d", containerCounter)})
		case strings.HasSuffix(r.URL.Path, "/media_publish"):
			writeJSON(w, map[string]string{"id": "media-1"})
		default:
			writeJSON(w, map[string]string{"permalink": "https://www.instagram.com/p/abc/"})
		}
	}))
	t.Cleanup(server.Close)
	return server
}

func newTestInstagramAdapter(t *testing.T, baseURL string) *InstagramAdapter {
	t.Helper()
	adapter, err := NewInstagramAdapter(InstagramConfig{BaseURL: baseURL, AccountID: testIGAccountID})
	if err != nil {
		t.Fatalf("failed to construct adapter: %v", err)
	}
	return adapter
}

func TestInstagramPublishSingleImageUsesOneContainer(t *testing.T) {
	var calls []graphCall
	server := newInstagramStub(t, &calls)
	adapter := newTestInstagramAdapter(t, server.URL)

	result, err := adapter.Publish(context.Background(), Access{Token: "token"}, PublishRequest{
		Message:   "caption",
		ImageURLs: []string{"https://cdn.example.com/a.jpg"},
	})
	if err != nil {
		t.Fatalf("unexpected publish failure: %v", err)
	}
	if result.ExternalID != "media-1" {
		t.Fatalf("expected media-1, got %s", result.ExternalID)
	}
	if result.Link != "https://www.instagram.com/p/abc/" {
		t.Fatalf("unexpected permalink: %s", result.Link)
	}

	mediaCalls := callsTo(calls, "/media")
	if len(mediaCalls) != 1 {
		t.Fatalf("expected one container call, got %d", len(mediaCalls))
	}
	if mediaCalls[0].form["caption"] != "caption" {
		t.Fatalf("caption missing from container call: %v", mediaCalls[0].form)
	}
	publishCalls := callsTo(calls, "/media_publish")
	if len(publishCalls) != 1 {
		t.Fatalf("expected one publish call, got %d", len(publishCalls))
	}
	if publishCalls[0].form["creation_id"] != "container-1" {
		t.Fatalf("publish must reference the staged container, got %q", publishCalls[0].form["creation_id"])
	}
}

func TestInstagramPublishCarouselStagesChildrenBeforeParent(t *testing.T) {
	var calls []graphCall
	server := newInstagramStub(t, &calls)
	adapter := newTestInstagramAdapter(t, server.URL)

	_, err := adapter.Publish(context.Background(), Access{Token: "token"}, PublishRequest{
		Message:   "caption",
		ImageURLs: []string{"https://cdn.example.com/a.jpg", "https://cdn.example.com/b.jpg"},
	})
	if err != nil {
		t.Fatalf("unexpected publish failure: %v", err)
	}

	mediaCalls := callsTo(calls, "/media")
	if len(mediaCalls) != 3 {
		t.Fatalf("expected two child containers plus one carousel, got %d", len(mediaCalls))
	}
	for index := 0; index < 2; index++ {
		if mediaCalls[index].form["is_carousel_item"] != "true" {
			t.Fatalf("child %d must be a carousel item", index)
		}
	}
	carousel := mediaCalls[2]
	if carousel.form["media_type"] != "CAROUSEL" {
		t.Fatalf("expected carousel parent last, got %v", carousel.form)
	}
	if carousel.form["children"] != "container-1,container-2" {
		t.Fatalf("carousel children out of order: %q", carousel.form["children"])
	}

	publishCalls := callsTo(calls, "/media_publish")
	if len(publishCalls) != 1 || publishCalls[0].form["creation_id"] != "container-3" {
		t.Fatalf("publish must reference the carousel container, got %v", publishCalls)
	}
}

func TestInstagramPublishWithoutImagesFails(t *testing.T) {
	adapter := newTestInstagramAdapter(t, "http://unreachable.invalid")

	_, err := adapter.Publish(context.Background(), Access{Token: "token"}, PublishRequest{Message: "text"})
	if err == nil {
		t.Fatal("expected failure for image-less publish")
	}
	kind, ok := KindOf(err)
	if !ok || kind != ErrorKindPostFailed {
		t.Fatalf("expected post_failed, got %v", err)
	}
}

func TestInstagramContainerFailureMapsUploadFailed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"error": map[string]interface{}{"message": "Media download failed", "code": 9004},
		})
	}))
	t.Cleanup(server.Close)
	adapter := newTestInstagramAdapter(t, server.URL)

	_, err := adapter.Publish(context.Background(), Access{Token: "token"}, PublishRequest{
		Message:   "caption",
		ImageURLs: []string{"https://cdn.example.com/broken.jpg"},
	})
	kind, ok := KindOf(err)
	if !ok || kind != ErrorKindUploadFailed {
		t.Fatalf("expected upload_failed, got %v", err)
	}
	if !strings.Contains(err.Error(), "Media download failed") {
		t.Fatalf("expected remote diagnostic preserved, got: %v", err)
	}
}

func TestInstagramDeleteReportsUnsupported(t *testing.T) {
	adapter := newTestInstagramAdapter(t, "http://unreachable.invalid")

	err := adapter.Delete(context.Background(), Access{Token: "token"}, "media-1")
	kind, ok := KindOf(err)
	if !ok || kind != ErrorKindDeleteUnsupported {
		t.Fatalf("expected delete_unsupported, got %v", err)
	}
}
