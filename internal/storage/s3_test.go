package storage

import (
	"errors"
	"testing"
)

func TestNewS3StoreRequiresBucket(t *testing.T) {
	if _, err := NewS3Store(S3Config{Region: "eu-central-1"}); !errors.Is(err, errMissingBucket) {
		t.Fatalf("expected missing bucket error, got %v", err)
	}
}

func TestPublicURLForAWS(t *testing.T) {
	store, err := NewS3Store(S3Config{Region: "eu-central-1", Bucket: "newsdesk-media"})
	if err != nil {
		t.Fatalf("failed to construct store: %v", err)
	}

	url := store.PublicURL("news/post-1/00.jpg")
	want := "https://newsdesk-media.s3.eu-central-1.amazonaws.com/news/post-1/00.jpg"
	if url != want {
		t.Fatalf("unexpected url %s, want %s", url, want)
	}
}

func TestPublicURLDefaultsRegion(t *testing.T) {
	store, err := NewS3Store(S3Config{Bucket: "newsdesk-media"})
	if err != nil {
		t.Fatalf("failed to construct store: %v", err)
	}

	url := store.PublicURL("a.png")
	want := "https://newsdesk-media.s3.us-east-1.amazonaws.com/a.png"
	if url != want {
		t.Fatalf("unexpected url %s, want %s", url, want)
	}
}

func TestPublicURLForPathStyleEndpoint(t *testing.T) {
	store, err := NewS3Store(S3Config{
		Bucket:     "newsdesk-media",
		Endpoint:   "http://localhost:9000",
		DisableSSL: true,
	})
	if err != nil {
		t.Fatalf("failed to construct store: %v", err)
	}

	url := store.PublicURL("news/post-1/00.jpg")
	want := "http://localhost:9000/newsdesk-media/news/post-1/00.jpg"
	if url != want {
		t.Fatalf("unexpected url %s, want %s", url, want)
	}
}
