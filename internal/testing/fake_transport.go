// Package testing provides an in-memory Hugging Face Hub for tests.
package testing

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"

	"github.com/docker/model-mem/internal/httputil"
)

// FakeResource represents a resource that can be served by FakeTransport.
type FakeResource struct {
	// Data is the resource content.
	Data []byte
	// IgnoreRange makes the transport answer range requests with the full
	// content and a 200 status.
	IgnoreRange bool
	// StatusCode, when set, is returned instead of the content.
	StatusCode int
	// ContentRange overrides the Content-Range header of 206 responses.
	ContentRange string
	// Stalls is the number of requests that block until their context is
	// done before the resource is served normally.
	Stalls int
	// ContentType is the Content-Type header value (optional).
	ContentType string
}

// FakeTransport is a test http.RoundTripper that serves fake resources.
type FakeTransport struct {
	mu        sync.Mutex
	resources map[string]*FakeResource
	stalled   map[string]int
	requests  []*http.Request
	// RequestHook is called for each request if set.
	RequestHook func(*http.Request)
}

// NewFakeTransport creates a new FakeTransport.
func NewFakeTransport() *FakeTransport {
	return &FakeTransport{
		resources: make(map[string]*FakeResource),
		stalled:   make(map[string]int),
	}
}

// Add adds a resource to the fake transport.
func (ft *FakeTransport) Add(url string, resource *FakeResource) {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	ft.resources[url] = resource
}

// AddBytes adds a plain resource that honours byte ranges.
func (ft *FakeTransport) AddBytes(url string, data []byte) {
	ft.Add(url, &FakeResource{Data: data})
}

// Requests returns a copy of all requests made to this transport.
func (ft *FakeTransport) Requests() []*http.Request {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	reqs := make([]*http.Request, len(ft.requests))
	copy(reqs, ft.requests)
	return reqs
}

// RequestsFor returns the requests made for url, in order.
func (ft *FakeTransport) RequestsFor(url string) []*http.Request {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	var reqs []*http.Request
	for _, req := range ft.requests {
		if req.URL.String() == url {
			reqs = append(reqs, req)
		}
	}
	return reqs
}

// RoundTrip implements http.RoundTripper.
func (ft *FakeTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	ft.mu.Lock()
	reqCopy := req.Clone(req.Context())
	ft.requests = append(ft.requests, reqCopy)

	url := req.URL.String()
	resource, exists := ft.resources[url]
	stall := exists && ft.stalled[url] < resource.Stalls
	if stall {
		ft.stalled[url]++
	}
	ft.mu.Unlock()

	if ft.RequestHook != nil {
		ft.RequestHook(req)
	}

	if stall {
		<-req.Context().Done()
		return nil, req.Context().Err()
	}

	if !exists {
		return createResponse(req, http.StatusNotFound, nil), nil
	}
	if resource.StatusCode != 0 {
		return createResponse(req, resource.StatusCode, nil), nil
	}

	if rangeHeader := req.Header.Get("Range"); rangeHeader != "" && !resource.IgnoreRange {
		return ft.handleRangeRequest(req, resource, rangeHeader), nil
	}

	resp := createResponse(req, http.StatusOK, resource.Data)
	if !resource.IgnoreRange {
		resp.Header.Set("Accept-Ranges", "bytes")
	}
	if resource.ContentType != "" {
		resp.Header.Set("Content-Type", resource.ContentType)
	}
	return resp, nil
}

// handleRangeRequest serves a single byte range. The end offset is clamped to
// the resource length; a start past the end yields 416.
func (ft *FakeTransport) handleRangeRequest(req *http.Request, resource *FakeResource, rangeHeader string) *http.Response {
	length := int64(len(resource.Data))
	start, end, ok := httputil.ParseSingleRange(rangeHeader)
	if !ok {
		return createResponse(req, http.StatusBadRequest, nil)
	}
	if end < 0 || end >= length {
		end = length - 1
	}
	if start >= length {
		resp := createResponse(req, http.StatusRequestedRangeNotSatisfiable, nil)
		resp.Header.Set("Content-Range", fmt.Sprintf("bytes */%d", length))
		return resp
	}

	resp := createResponse(req, http.StatusPartialContent, resource.Data[start:end+1])
	resp.Header.Set("Accept-Ranges", "bytes")
	resp.Header.Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, end, length))
	if resource.ContentRange != "" {
		resp.Header.Set("Content-Range", resource.ContentRange)
	}
	return resp
}

func createResponse(req *http.Request, statusCode int, body []byte) *http.Response {
	resp := &http.Response{
		StatusCode:    statusCode,
		Status:        fmt.Sprintf("%d %s", statusCode, http.StatusText(statusCode)),
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        make(http.Header),
		Body:          io.NopCloser(bytes.NewReader(body)),
		ContentLength: int64(len(body)),
		Request:       req,
	}
	resp.Header.Set("Content-Length", strconv.Itoa(len(body)))
	return resp
}
