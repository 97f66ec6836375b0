// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

package rangeio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
)

// HTTP reads ranges of a remote resource with Range requests.
type HTTP struct {
	client *http.Client
	url    string
	size   int64
}

// NewHTTP sends url a HEAD request to learn its size. The server must
// advertise byte range support.
func NewHTTP(ctx context.Context, client *http.Client, url string) (*HTTP, error) {
	if client == nil {
		client = http.DefaultClient
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build HEAD request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, wrapContext(ctx, fmt.Errorf("HEAD %s: %w", url, err))
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HEAD %s: %s", url, resp.Status)
	}
	if resp.Header.Get("Accept-Ranges") != "bytes" {
		return nil, fmt.Errorf("HEAD %s: server does not accept byte ranges", url)
	}
	if resp.ContentLength < 0 {
		return nil, fmt.Errorf("HEAD %s: unknown content length", url)
	}

	return &HTTP{client: client, url: url, size: resp.ContentLength}, nil
}

func (h *HTTP) Size() int64 { return h.size }

func (h *HTTP) ReadRange(ctx context.Context, off int64, n int) ([]byte, error) {
	if err := checkRange(ctx, off, n, h.size); err != nil {
		return nil, err
	}
	if n == 0 {
		return []byte{}, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.url, nil)
	if err != nil {
		return nil, fmt.Errorf("build range request: %w", err)
	}
	req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", off, off+int64(n)-1))

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, wrapContext(ctx, fmt.Errorf("GET %s: %w", h.url, err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusPartialContent {
		return nil, fmt.Errorf("GET %s range %d+%d: %s", h.url, off, n, resp.Status)
	}

	out := make([]byte, n)
	if _, err := io.ReadFull(resp.Body, out); err != nil {
		return nil, wrapContext(ctx, fmt.Errorf("read range body: %w", err))
	}
	return out, nil
}

// wrapContext marks err as an abort when ctx was cancelled.
func wrapContext(ctx context.Context, err error) error {
	if ctx.Err() != nil && !errors.Is(err, ErrAborted) {
		return fmt.Errorf("%w: %w", ErrAborted, err)
	}
	return err
}
