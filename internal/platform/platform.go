// Package platform holds the HTTP plumbing shared by the edna and amoCRM clients.
package platform

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/soyeahso/chatbridge/internal/domain"
	"github.com/soyeahso/chatbridge/internal/media"
	"github.com/soyeahso/chatbridge/internal/version"
)

// maxResponse caps how much of a JSON API response is read.
const maxResponse = 1 << 20

// Publisher makes fetched media reachable by URL.
type Publisher interface {
	Publish(ctx context.Context, media *domain.Media) (string, error)
}

// Upload hands media to pub, or when pub is nil passes the source URL through
// for platforms that accept remote media links. It always closes m.Body.
func Upload(ctx context.Context, p domain.Platform, pub Publisher, m *domain.Media) (string, error) {
	if m == nil {
		return "", domain.Permanent(p, "upload media", 0, errors.New("no media"))
	}
	defer m.Body.Close()

	if pub != nil {
		url, err := pub.Publish(ctx, m)
		if errors.Is(err, media.ErrTooLarge) {
			return "", domain.Permanent(p, "upload media", 0, err)
		}
		if err != nil {
			return "", domain.Transient(p, "upload media", 0, err)
		}
		return url, nil
	}
	if m.SourceURL == "" {
		return "", domain.Permanent(p, "upload media", 0, errors.New("media has no source url"))
	}
	return m.SourceURL, nil
}

// Do sends req and returns the response body for 2xx responses. Other
// outcomes become *domain.SendError: 5xx, 429 and network failures are
// transient, other statuses permanent.
func Do(client *http.Client, p domain.Platform, op string, req *http.Request) ([]byte, error) {
	req.Header.Set("User-Agent", version.UserAgent())

	resp, err := client.Do(req)
	if err != nil {
		return nil, RequestError(req.Context(), p, op, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponse))
	if err != nil {
		return nil, domain.Transient(p, op, resp.StatusCode, fmt.Errorf("reading response: %w", err))
	}

	if err := StatusError(p, op, resp.StatusCode, body); err != nil {
		return nil, err
	}
	return body, nil
}

// Fetch GETs url and returns the open body as media. Headers are applied to
// the request when non-nil.
func Fetch(ctx context.Context, client *http.Client, p domain.Platform, att domain.Attachment, header http.Header) (*domain.Media, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, att.URL, nil)
	if err != nil {
		return nil, domain.Permanent(p, "fetch media", 0, fmt.Errorf("building request: %w", err))
	}
	for k, v := range header {
		req.Header[k] = v
	}
	req.Header.Set("User-Agent", version.UserAgent())

	resp, err := client.Do(req)
	if err != nil {
		return nil, RequestError(ctx, p, "fetch media", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return nil, StatusError(p, "fetch media", resp.StatusCode, body)
	}

	mime := att.MimeType
	if mime == "" {
		mime = resp.Header.Get("Content-Type")
	}
	size := att.Size
	if size == 0 && resp.ContentLength > 0 {
		size = resp.ContentLength
	}
	return &domain.Media{
		Body:      resp.Body,
		MimeType:  mime,
		Filename:  att.Filename,
		Size:      size,
		SourceURL: att.URL,
	}, nil
}

// StatusError classifies a non-2xx HTTP status. It returns nil for 2xx.
func StatusError(p domain.Platform, op string, status int, body []byte) error {
	if status >= 200 && status <= 299 {
		return nil
	}
	err := fmt.Errorf("unexpected status: %s", snippet(body))
	if status >= 500 || status == http.StatusTooManyRequests || status == http.StatusRequestTimeout {
		return domain.Transient(p, op, status, err)
	}
	return domain.Permanent(p, op, status, err)
}

// RequestError classifies a transport failure. Cancellation is reported as
// the context error so retry loops see why they stopped.
func RequestError(ctx context.Context, p domain.Platform, op string, err error) error {
	if ctx.Err() != nil {
		err = ctx.Err()
	}
	return domain.Transient(p, op, 0, err)
}

func snippet(body []byte) string {
	s := strings.TrimSpace(string(body))
	if s == "" {
		return "(empty body)"
	}
	if len(s) > 256 {
		return s[:256] + "..."
	}
	return s
}
