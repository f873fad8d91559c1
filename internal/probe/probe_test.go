package probe

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/3cpo-dev/hello-k8s/internal/server"
)

func TestCheckAgainstServer(t *testing.T) {
	l := zerolog.Nop()
	srv := server.New(server.Options{Version: "test", Logger: &l})
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	if err := Check(context.Background(), ts.URL+"/", time.Second); err != nil {
		t.Fatalf("check: %v", err)
	}
	if err := Check(context.Background(), ts.URL+"/missing", time.Second); err == nil {
		t.Fatalf("expected failure on 404")
	}
}

func TestCheckWrongBody(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("Hello world\nand more"))
	}))
	defer ts.Close()
	if err := Check(context.Background(), ts.URL, time.Second); err == nil {
		t.Fatalf("expected body mismatch")
	}
}

func TestCheckTimeout(t *testing.T) {
	block := make(chan struct{})
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-block:
		case <-r.Context().Done():
		}
	}))
	defer ts.Close()
	defer close(block)

	if err := Check(context.Background(), ts.URL, 50*time.Millisecond); err == nil {
		t.Fatalf("expected timeout")
	}
}

func TestCheckUnreachable(t *testing.T) {
	ts := httptest.NewServer(http.NotFoundHandler())
	url := ts.URL
	ts.Close()
	if err := Check(context.Background(), url, time.Second); err == nil {
		t.Fatalf("expected connection error")
	}
}

func TestLocalURL(t *testing.T) {
	if got := LocalURL(80); got != "http://127.0.0.1:80/" {
		t.Fatalf("got %q", got)
	}
}
