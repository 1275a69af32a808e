// Copyright 2022 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package trust defines the collaborators that fetch revocation data for chain verification.
package trust

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// HTTPSGetter represents the ability to fetch data from the internet from an HTTP URL.
// Used particularly for fetching certificates and CRLs.
type HTTPSGetter interface {
	Get(url string) ([]byte, error)
}

// ContextHTTPSGetter is an HTTPSGetter that honors a context's deadline and cancellation.
type ContextHTTPSGetter interface {
	GetContext(ctx context.Context, url string) ([]byte, error)
}

// GetWith fetches url with getter, using GetContext if getter supports it.
func GetWith(ctx context.Context, getter HTTPSGetter, url string) ([]byte, error) {
	if cg, ok := getter.(ContextHTTPSGetter); ok {
		return cg.GetContext(ctx, url)
	}
	return getter.Get(url)
}

// SimpleHTTPSGetter implements the HTTPSGetter interface with http.Get.
type SimpleHTTPSGetter struct{}

// Get uses http.Get to return the HTTPS response body as a byte array.
func (n *SimpleHTTPSGetter) Get(url string) ([]byte, error) {
	return n.GetContext(context.Background(), url)
}

// GetContext behaves like Get but aborts when ctx is done.
func (n *SimpleHTTPSGetter) GetContext(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("failed to retrieve %s: %s", url, resp.Status)
	}
	return io.ReadAll(resp.Body)
}

// RetryHTTPSGetter is a meta-HTTPS getter that will retry on failure a given number of times.
type RetryHTTPSGetter struct {
	// Timeout is how long to retry before failure. Zero means retry until the context is done.
	Timeout time.Duration
	// MaxRetryDelay is the maximum amount of time to wait between retries.
	MaxRetryDelay time.Duration
	// Getter is the non-retrying way of getting a URL.
	Getter HTTPSGetter
}

// Get fetches the body of the URL, retrying a given amount of times on failure.
func (n *RetryHTTPSGetter) Get(url string) ([]byte, error) {
	return n.GetContext(context.Background(), url)
}

// GetContext behaves like Get but stops retrying when ctx is done.
func (n *RetryHTTPSGetter) GetContext(ctx context.Context, url string) ([]byte, error) {
	if n.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, n.Timeout)
		defer cancel()
	}
	delay := 100 * time.Millisecond
	for {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("fetching %s: %w", url, err)
		}
		body, err := GetWith(ctx, n.Getter, url)
		if err == nil {
			return body, nil
		}
		delay = delay + delay
		if delay > n.MaxRetryDelay {
			delay = n.MaxRetryDelay
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("fetching %s: %w (last error: %v)", url, ctx.Err(), err)
		case <-time.After(delay):
		}
	}
}

// DefaultHTTPSGetter returns the library's default getter implementation.
func DefaultHTTPSGetter() HTTPSGetter {
	return &RetryHTTPSGetter{
		Timeout:       2 * time.Minute,
		MaxRetryDelay: 30 * time.Second,
		Getter:        &SimpleHTTPSGetter{},
	}
}
