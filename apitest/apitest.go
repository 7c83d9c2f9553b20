// Package apitest provides typed test helpers for contract routers.
package apitest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/bjaus/contract"
)

// Client wraps an httptest.Server for convenient API testing.
type Client struct {
	Server *httptest.Server
	// Header is sent with every request.
	Header http.Header
}

// NewClient creates a test client serving h, usually a *contract.Router.
func NewClient(t testing.TB, h http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return &Client{Server: srv, Header: make(http.Header)}
}

// Response holds a decoded API response. Problem is set instead of Body
// when the server answered with problem details.
type Response[T any] struct {
	Status  int
	Headers http.Header
	Body    *T
	Problem *contract.ProblemDetail
	Raw     *http.Response
}

// Get sends a typed GET request.
func Get[Resp any](t testing.TB, c *Client, path string) *Response[Resp] {
	t.Helper()
	return Do[Resp](t, c, http.MethodGet, path, nil)
}

// Post sends a typed POST request with a JSON body.
func Post[Req, Resp any](t testing.TB, c *Client, path string, body *Req) *Response[Resp] {
	t.Helper()
	return Do[Resp](t, c, http.MethodPost, path, body)
}

// Put sends a typed PUT request with a JSON body.
func Put[Req, Resp any](t testing.TB, c *Client, path string, body *Req) *Response[Resp] {
	t.Helper()
	return Do[Resp](t, c, http.MethodPut, path, body)
}

// Patch sends a typed PATCH request with a JSON body.
func Patch[Req, Resp any](t testing.TB, c *Client, path string, body *Req) *Response[Resp] {
	t.Helper()
	return Do[Resp](t, c, http.MethodPatch, path, body)
}

// Delete sends a typed DELETE request.
func Delete[Resp any](t testing.TB, c *Client, path string) *Response[Resp] {
	t.Helper()
	return Do[Resp](t, c, http.MethodDelete, path, nil)
}

// Do sends a request with an optional JSON body and decodes the response.
func Do[Resp any](t testing.TB, c *Client, method, path string, body any) *Response[Resp] {
	t.Helper()

	var reqBody io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("apitest: marshal request body: %v", err)
		}
		reqBody = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(context.Background(), method, c.Server.URL+path, reqBody)
	if err != nil {
		t.Fatalf("apitest: create request: %v", err)
	}
	for k, vs := range c.Header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.Server.Client().Do(req)
	if err != nil {
		t.Fatalf("apitest: execute request: %v", err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			t.Errorf("apitest: close body: %v", closeErr)
		}
	}()

	result := &Response[Resp]{
		Status:  resp.StatusCode,
		Headers: resp.Header,
		Raw:     resp,
	}
	if resp.StatusCode == http.StatusNoContent || resp.ContentLength == 0 {
		return result
	}

	mt, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	dec := json.NewDecoder(resp.Body)
	if mt == "application/problem+json" {
		var pd contract.ProblemDetail
		if decErr := dec.Decode(&pd); decErr != nil && !errors.Is(decErr, io.EOF) {
			t.Fatalf("apitest: decode problem: %v", decErr)
		}
		result.Problem = &pd
		return result
	}

	var decoded Resp
	if decErr := dec.Decode(&decoded); decErr != nil && !errors.Is(decErr, io.EOF) {
		return result
	}
	result.Body = &decoded
	return result
}
