package httpclient

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/use-agent/reconweb/config"
)

func TestClientGetAppliesBrowserHeadersAndReadsBody(t *testing.T) {
	var gotUA string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		w.Write([]byte("hello"))
	}))
	defer server.Close()

	c := New(config.HTTPConfig{Timeout: 5 * time.Second, Retries: 0, BackoffBase: 10 * time.Millisecond})
	resp, err := c.Get(t.Context(), server.URL, 0)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(resp.Body) != "hello" {
		t.Errorf("body = %q, want %q", resp.Body, "hello")
	}
	if gotUA == "" {
		t.Error("expected a User-Agent header to be sent")
	}
}

func TestClientGetReturnsHTTPErrorOn4xx(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	c := New(config.HTTPConfig{Timeout: 5 * time.Second, BackoffBase: 10 * time.Millisecond})
	_, err := c.Get(t.Context(), server.URL, 0)
	if err == nil {
		t.Fatal("expected an error for 404 response")
	}
}

func TestClientGetRespectsMaxBytes(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(strings.Repeat("a", 1000)))
	}))
	defer server.Close()

	c := New(config.HTTPConfig{Timeout: 5 * time.Second, BackoffBase: 10 * time.Millisecond})
	resp, err := c.Get(t.Context(), server.URL, 10)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(resp.Body) != 10 {
		t.Errorf("len(body) = %d, want 10", len(resp.Body))
	}
}

func TestDecodeDataURIBase64(t *testing.T) {
	// "hi" base64-encoded is "aGk="
	body, mediaType, err := DecodeDataURI("data:application/json;base64,aGk=")
	if err != nil {
		t.Fatalf("DecodeDataURI: %v", err)
	}
	if string(body) != "hi" {
		t.Errorf("body = %q, want %q", body, "hi")
	}
	if mediaType != "application/json" {
		t.Errorf("mediaType = %q, want application/json", mediaType)
	}
}

func TestDecodeDataURIPlainText(t *testing.T) {
	body, _, err := DecodeDataURI("data:text/plain,hello%20world")
	if err != nil {
		t.Fatalf("DecodeDataURI: %v", err)
	}
	if string(body) != "hello world" {
		t.Errorf("body = %q, want %q", body, "hello world")
	}
}

func TestDecodeDataURIRejectsNonDataURI(t *testing.T) {
	if _, _, err := DecodeDataURI("https://example.com/a.js"); err == nil {
		t.Error("expected error for non-data URI")
	}
}
