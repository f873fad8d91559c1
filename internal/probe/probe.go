// Package probe checks a running instance the way the orchestrator does:
// an HTTP GET against / that must answer 200 with the greeting.
package probe

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
)

// Expected is the body a healthy instance returns.
const Expected = "Hello world\n"

// Check performs GET url and returns an error unless the instance answers
// 200 with Expected.
func Check(ctx context.Context, url string, timeout time.Duration) error {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	start := time.Now()
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("probe %s: %w", url, err)
	}
	defer resp.Body.Close()

	// Anything longer than the greeting is already wrong.
	body, err := io.ReadAll(io.LimitReader(resp.Body, int64(len(Expected))+1))
	if err != nil {
		return fmt.Errorf("read body: %w", err)
	}
	log.Debug().Str("url", url).Int("status", resp.StatusCode).Dur("duration", time.Since(start)).Msg("probe")

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("probe %s: status %d", url, resp.StatusCode)
	}
	if string(body) != Expected {
		return fmt.Errorf("probe %s: unexpected body %q", url, body)
	}
	return nil
}

// LocalURL is the address the in-container health check targets.
func LocalURL(port int) string {
	return fmt.Sprintf("http://127.0.0.1:%d/", port)
}
