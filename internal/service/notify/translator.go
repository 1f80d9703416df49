package notify

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// maxTranslationSize caps the translation response body.
const maxTranslationSize = 64 << 10

// ErrTranslationUnavailable is returned when no translation could be obtained.
var ErrTranslationUnavailable = errors.New("translation unavailable")

// Translator turns matched text into a human readable message.
type Translator interface {
	Translate(ctx context.Context, text string) (string, error)
}

// HTTPTranslator resolves translations with GET <base><escaped text>.
type HTTPTranslator struct {
	// base is the URL prefix the escaped text is appended to.
	base string
	// client performs the requests.
	client *http.Client
}

// NewHTTPTranslator creates a translator with a per-request timeout.
func NewHTTPTranslator(base string, timeout time.Duration) *HTTPTranslator {
	return &HTTPTranslator{
		base: base,
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

// Translate fetches the translation of text. The response body, trimmed, is
// the translation; an empty body counts as unavailable.
func (t *HTTPTranslator) Translate(ctx context.Context, text string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.base+url.QueryEscape(text), nil)
	if err != nil {
		return "", fmt.Errorf("%w: build request: %w", ErrTranslationUnavailable, err)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrTranslationUnavailable, err)
	}

	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return "", fmt.Errorf("%w: unexpected status %d", ErrTranslationUnavailable, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxTranslationSize))
	if err != nil {
		return "", fmt.Errorf("%w: read body: %w", ErrTranslationUnavailable, err)
	}

	translation := strings.TrimSpace(string(body))
	if translation == "" {
		return "", fmt.Errorf("%w: empty body", ErrTranslationUnavailable)
	}

	return translation, nil
}
