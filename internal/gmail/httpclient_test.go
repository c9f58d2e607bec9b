package gmail

import (
	"context"
	"fmt"
)

// fakeHTTPClient routes requests to handlers keyed by URL prefix and
// records every request it sees.
type fakeHTTPClient struct {
	handlers map[string]func(req *HTTPRequest) (*HTTPResponse, error)
	requests []*HTTPRequest
}

func newFakeHTTPClient() *fakeHTTPClient {
	return &fakeHTTPClient{
		handlers: make(map[string]func(req *HTTPRequest) (*HTTPResponse, error)),
	}
}

func (f *fakeHTTPClient) handle(url string, fn func(req *HTTPRequest) (*HTTPResponse, error)) {
	f.handlers[url] = fn
}

func (f *fakeHTTPClient) Do(_ context.Context, req *HTTPRequest) (*HTTPResponse, error) {
	f.requests = append(f.requests, req)
	if fn, ok := f.handlers[req.URL]; ok {
		return fn(req)
	}
	return nil, fmt.Errorf("no handler for %s", req.URL)
}

func (f *fakeHTTPClient) requestCount(url string) int {
	n := 0
	for _, req := range f.requests {
		if req.URL == url {
			n++
		}
	}
	return n
}

func jsonResponse(status int, body string) *HTTPResponse {
	return &HTTPResponse{
		StatusCode: status,
		Headers:    map[string]string{"Content-Type": "application/json"},
		Body:       []byte(body),
	}
}
