// Package fetcher provides the rate-limited HTTP client shared by the
// market-data providers.
package fetcher

import (
	"context"
	"errors"
	"io"
)

// Fetcher defines the interface for downloading remote data.
type Fetcher interface {
	// Download issues a GET with optional extra headers and returns the body
	// of a 200 response.
	Download(ctx context.Context, url string, header map[string]string) (io.ReadCloser, error)
}

// StatusError is returned for non-200 responses.
type StatusError struct {
	Code int
	Err  error
}

func (e *StatusError) Error() string {
	return e.Err.Error()
}

func (e *StatusError) Unwrap() error {
	return e.Err
}

// StatusCode extracts the HTTP status from err, or 0 if it carries none.
func StatusCode(err error) int {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code
	}
	return 0
}

// FetchJSON downloads url and decodes the body as a single JSON object.
func FetchJSON[T any](ctx context.Context, f Fetcher, url string, header map[string]string) (*T, error) {
	body, err := f.Download(ctx, url, header)
	if err != nil {
		return nil, err
	}
	defer body.Close() //nolint:errcheck
	return DecodeJSONObject[T](body)
}
