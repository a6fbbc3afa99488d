package fetcher

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	cerrors "github.com/clipos/updater/pkg/errors"
)

func TestGetTextSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("X-Machine-Id"); got != "abc123" {
			t.Errorf("missing machine id header, got %q", got)
		}
		w.Write([]byte("5.0.0"))
	}))
	defer srv.Close()

	headers := http.Header{}
	headers.Set("X-Machine-Id", "abc123")
	c := New(nil, 5*time.Second, headers)

	text, err := c.GetText(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("GetText failed: %v", err)
	}
	if text != "5.0.0" {
		t.Errorf("got %q", text)
	}
}

func TestGetTextBadStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := New(nil, 5*time.Second, nil)
	_, err := c.GetText(context.Background(), srv.URL)
	if err == nil {
		t.Fatal("expected an error for a 404 response")
	}
	if kind, ok := cerrors.KindOf(err); !ok || kind != cerrors.HTTPStatus {
		t.Fatalf("got kind %v, ok=%v, want HTTPStatus", kind, ok)
	}
}

func TestGetStreamSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("payload-bytes"))
	}))
	defer srv.Close()

	c := New(nil, 5*time.Second, nil)
	var buf bufferWriter
	n, err := c.GetStream(context.Background(), srv.URL, &buf)
	if err != nil {
		t.Fatalf("GetStream failed: %v", err)
	}
	if n != int64(len("payload-bytes")) {
		t.Errorf("got %d bytes", n)
	}
	if buf.String() != "payload-bytes" {
		t.Errorf("got %q", buf.String())
	}
}

func TestGetStreamTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(50 * time.Millisecond)
		w.Write([]byte("too-slow"))
	}))
	defer srv.Close()

	c := New(nil, 5*time.Millisecond, nil)
	var buf bufferWriter
	_, err := c.GetStream(context.Background(), srv.URL, &buf)
	if err == nil {
		t.Fatal("expected a timeout error")
	}
	if kind, ok := cerrors.KindOf(err); !ok || kind != cerrors.HTTPTimeout {
		t.Fatalf("got kind %v, ok=%v, want HTTPTimeout", kind, ok)
	}
}

type bufferWriter struct {
	data []byte
}

func (b *bufferWriter) Write(p []byte) (int, error) {
	b.data = append(b.data, p...)
	return len(p), nil
}

func (b *bufferWriter) String() string { return string(b.data) }
