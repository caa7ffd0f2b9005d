package transport

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"mangashelf/internal/apperr"
)

// Download streams rawURL into dest. The body goes to a temporary file
// next to dest that is renamed into place only after a complete write,
// so a partially written page is never mistaken for a finished one.
// Network failures are retried; challenges and 404s are not.
func (c *Client) Download(ctx context.Context, rawURL, dest string, headers map[string]string) (int, error) {
	status := 0
	err := c.withRetry(ctx, rawURL, func() error {
		s, err := c.downloadOnce(ctx, rawURL, dest, headers)
		status = s
		return err
	})
	return status, err
}

func (c *Client) downloadOnce(ctx context.Context, rawURL, dest string, headers map[string]string) (int, error) {
	status := 0
	err := c.guarded(ctx, rawURL, func() error {
		resp, err := c.do(ctx, rawURL, RequestOptions{Headers: headers})
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		status = resp.StatusCode

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
			if marker := detectChallenge(resp.StatusCode, resp.Header, body); marker != "" {
				return &apperr.ChallengeError{URL: rawURL, Status: resp.StatusCode, Marker: marker}
			}
			return &apperr.NetworkError{Op: "download", URL: rawURL, Status: resp.StatusCode}
		}

		if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
			return fmt.Errorf("create download dir: %w", err)
		}
		tmp, err := os.CreateTemp(filepath.Dir(dest), "."+filepath.Base(dest)+".*.part")
		if err != nil {
			return fmt.Errorf("create temp file: %w", err)
		}
		tmpName := tmp.Name()
		defer os.Remove(tmpName)

		if _, err := io.Copy(tmp, resp.Body); err != nil {
			_ = tmp.Close()
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return &apperr.NetworkError{Op: "download", URL: rawURL, Status: resp.StatusCode, Err: err}
		}
		if err := tmp.Close(); err != nil {
			return fmt.Errorf("close temp file: %w", err)
		}
		if err := os.Rename(tmpName, dest); err != nil {
			return fmt.Errorf("move download into place: %w", err)
		}
		return nil
	})
	return status, err
}
