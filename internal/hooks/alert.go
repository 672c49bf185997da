package hooks

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"slices"
	"time"
)

// AlertHandler returns a Handler that POSTs the payload as JSON to url.
// When kinds is non-empty only payloads whose "kind" is listed are sent.
func AlertHandler(url string, kinds []string, timeout time.Duration) Handler {
	client := &http.Client{Timeout: timeout}

	return func(ctx context.Context, p Payload) error {
		if len(kinds) > 0 {
			kind, _ := p.Data["kind"].(string)
			if !slices.Contains(kinds, kind) {
				return nil
			}
		}

		body, err := json.Marshal(p)
		if err != nil {
			return fmt.Errorf("encoding alert: %w", err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("building alert request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := client.Do(req)
		if err != nil {
			return fmt.Errorf("posting alert: %w", err)
		}
		defer resp.Body.Close()
		io.Copy(io.Discard, resp.Body)

		if resp.StatusCode >= 300 {
			return fmt.Errorf("alert endpoint returned %d", resp.StatusCode)
		}
		return nil
	}
}
