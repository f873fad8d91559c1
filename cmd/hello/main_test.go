package main

import (
	"bytes"
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/3cpo-dev/hello-k8s/internal/probe"
)

func run(t *testing.T, ctx context.Context, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	root.SetContext(ctx)
	err := root.Execute()
	return out.String(), err
}

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port
}

func TestVersion(t *testing.T) {
	out, err := run(t, context.Background(), "version")
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	if !strings.HasPrefix(out, "hello "+version) {
		t.Fatalf("unexpected output %q", out)
	}
}

func TestChartLint(t *testing.T) {
	out, err := run(t, context.Background(), "chart", "lint", "../../charts/hello")
	if err != nil {
		t.Fatalf("lint: %v\n%s", err, out)
	}
	if !strings.Contains(out, "ok") {
		t.Fatalf("unexpected output %q", out)
	}
	if _, err := run(t, context.Background(), "chart", "lint", t.TempDir()); err == nil {
		t.Fatalf("expected error for a directory without a chart")
	}
}

func TestServeAndShutdown(t *testing.T) {
	t.Setenv("PORT", "")
	port := freePort(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errc := make(chan error, 1)
	go func() {
		_, err := run(t, ctx, "serve", "--host", "127.0.0.1", "--port", strconv.Itoa(port), "--log", "error")
		errc <- err
	}()

	url := "http://127.0.0.1:" + strconv.Itoa(port) + "/"
	deadline := time.Now().Add(5 * time.Second)
	for {
		err := probe.Check(context.Background(), url, time.Second)
		if err == nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("server never became ready: %v", err)
		}
		time.Sleep(20 * time.Millisecond)
	}

	resp, err := http.Post(url, "text/plain", nil)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode == http.StatusOK {
		t.Fatalf("POST / should not succeed")
	}

	cancel()
	select {
	case err := <-errc:
		if err != nil {
			t.Fatalf("serve: %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatalf("serve did not stop")
	}
}

func TestServeStopsOnEarlySignal(t *testing.T) {
	t.Setenv("PORT", "")
	for i := 0; i < 20; i++ {
		port := strconv.Itoa(freePort(t))
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		if _, err := run(t, ctx, "serve", "--host", "127.0.0.1", "--port", port, "--log", "fatal"); err != nil {
			t.Fatalf("serve with a cancelled context: %v", err)
		}
		ln, err := net.Listen("tcp", "127.0.0.1:"+port)
		if err != nil {
			t.Fatalf("port %s still bound after serve returned: %v", port, err)
		}
		ln.Close()
	}
}

func TestServeBindConflict(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	port := strconv.Itoa(ln.Addr().(*net.TCPAddr).Port)

	_, err = run(t, context.Background(), "serve", "--host", "127.0.0.1", "--port", port, "--log", "fatal")
	if err == nil {
		t.Fatalf("expected bind error")
	}
	if !strings.Contains(err.Error(), "127.0.0.1:"+port) {
		t.Fatalf("error should name the address: %v", err)
	}
}

func TestServeRejectsBadPortFlag(t *testing.T) {
	if _, err := run(t, context.Background(), "serve", "--port", "0"); err == nil {
		t.Fatalf("expected error for --port 0")
	}
}

func TestProbeCommand(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(probe.Expected))
	}))
	defer ts.Close()

	out, err := run(t, context.Background(), "probe", "--url", ts.URL)
	if err != nil {
		t.Fatalf("probe: %v", err)
	}
	if strings.TrimSpace(out) != "ok" {
		t.Fatalf("unexpected output %q", out)
	}

	ts.Close()
	if _, err := run(t, context.Background(), "probe", "--url", ts.URL, "--timeout", "200ms"); err == nil {
		t.Fatalf("expected failure against a closed server")
	}
}
