// Package fetch is the bounded HTTP fetcher: a single GET with a hard
// read timeout, optional transparent inflate, and no retries at this
// layer (the module retries on its next scheduled tick). Grounded on
// `ais/backend/http.go`, which builds a dedicated *http.Client per
// backend from TransportArgs rather than using http.DefaultClient.
/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package fetch

import (
	"compress/gzip"
	"context"
	"io"
	"net/http"
	"time"

	"github.com/tor-collector/collector/cmn"
)

// ReadTimeout is the fixed read timeout every fetch is bounded by.
const ReadTimeout = 5 * time.Second

// Fetcher wraps a single *http.Client configured the way
// `ais/backend/http.go` configures its per-backend clients: an
// explicit timeout, no implicit retries, no cookie jar.
type Fetcher struct {
	client *http.Client
}

func New() *Fetcher {
	return &Fetcher{
		client: &http.Client{
			Timeout: ReadTimeout,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 4,
			},
		},
	}
}

// Fetch performs a single GET, optionally accepting a gzip response.
// HTTP 200 returns the full body; any other status returns
// cmn.ErrNotFound. Network-level failures return a wrapped cmn.Wrap
// error.
func (f *Fetcher) Fetch(ctx context.Context, url string, acceptDeflated bool) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, cmn.Wrapf(err, "fetch %s", url)
	}
	if acceptDeflated {
		req.Header.Set("Accept-Encoding", "gzip")
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, cmn.Wrapf(err, "fetch %s", url)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, cmn.ErrNotFound
	}

	var r io.Reader = resp.Body
	if acceptDeflated && resp.Header.Get("Content-Encoding") == "gzip" {
		gz, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, cmn.Wrapf(err, "inflate %s", url)
		}
		defer gz.Close()
		r = gz
	}
	body, err := io.ReadAll(r)
	if err != nil {
		return nil, cmn.Wrapf(err, "read body %s", url)
	}
	return body, nil
}
