// Package hub is a minimal Hugging Face Hub client: it lists repository files
// and reads JSON documents and byte ranges through resolve URLs.
package hub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/docker/model-mem/internal/httputil"
	"github.com/docker/model-mem/pkg/logging"
)

const (
	DefaultEndpoint = "https://huggingface.co"
	DefaultRevision = "main"
	DefaultTimeout  = 60 * time.Second

	defaultUserAgent = "model-mem"

	// maxJSONSize bounds JSON documents such as tree listings and indexes.
	maxJSONSize = 64 * 1024 * 1024
)

// Client talks to a Hub endpoint.
type Client struct {
	httpClient *http.Client
	endpoint   string
	token      string
	timeout    time.Duration
	userAgent  string
	revision   string
	log        *logrus.Entry
}

// Option represents an option for creating a new Client
type Option func(*options)

type options struct {
	endpoint   string
	token      string
	timeout    time.Duration
	userAgent  string
	revision   string
	httpClient *http.Client
	transport  http.RoundTripper
	logger     logging.Logger
}

// WithEndpoint sets the Hub base URL.
func WithEndpoint(endpoint string) Option {
	return func(o *options) {
		if endpoint != "" {
			o.endpoint = endpoint
		}
	}
}

// WithToken sets the bearer token sent with every request.
func WithToken(token string) Option {
	return func(o *options) {
		o.token = token
	}
}

// WithTimeout sets the per-request timeout. A request that times out is
// retried once.
func WithTimeout(timeout time.Duration) Option {
	return func(o *options) {
		if timeout > 0 {
			o.timeout = timeout
		}
	}
}

// WithUserAgent sets the product part of the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(o *options) {
		if ua != "" {
			o.userAgent = ua
		}
	}
}

// WithRevision sets the revision used when a call passes an empty one.
func WithRevision(revision string) Option {
	return func(o *options) {
		if revision != "" {
			o.revision = revision
		}
	}
}

// WithHTTPClient sets the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) {
		if c != nil {
			o.httpClient = c
		}
	}
}

// WithTransport sets the HTTP transport of the default client.
func WithTransport(transport http.RoundTripper) Option {
	return func(o *options) {
		if transport != nil {
			o.transport = transport
		}
	}
}

// WithLogger sets the logger
func WithLogger(logger logging.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

func defaultOptions() *options {
	return &options{
		endpoint:  DefaultEndpoint,
		timeout:   DefaultTimeout,
		userAgent: defaultUserAgent,
		revision:  DefaultRevision,
		logger:    logrus.NewEntry(logrus.StandardLogger()),
	}
}

// NewClient creates a new Hub client
func NewClient(opts ...Option) (*Client, error) {
	options := defaultOptions()
	for _, opt := range opts {
		opt(options)
	}

	u, err := url.Parse(options.endpoint)
	if err != nil {
		return nil, fmt.Errorf("parsing endpoint: %w", err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("invalid endpoint %q: expected an http(s) URL", options.endpoint)
	}

	httpClient := options.httpClient
	if httpClient == nil {
		httpClient = &http.Client{Transport: options.transport}
	}

	return &Client{
		httpClient: httpClient,
		endpoint:   strings.TrimRight(options.endpoint, "/"),
		token:      options.token,
		timeout:    options.timeout,
		userAgent:  options.userAgent,
		revision:   options.revision,
		log:        options.logger.WithField("component", "hub"),
	}, nil
}

// Endpoint returns the Hub base URL.
func (c *Client) Endpoint() string {
	return c.endpoint
}

// Repo binds the client to one revision of a model repository.
func (c *Client) Repo(modelID, revision string) *Repo {
	if revision == "" {
		revision = c.revision
	}
	return &Repo{
		client:   c,
		modelID:  modelID,
		revision: revision,
		log: c.log.WithFields(logrus.Fields{
			"model":    logging.SanitizeForLog(modelID),
			"revision": logging.SanitizeForLog(revision),
		}),
	}
}

// Repo reads files of one model revision.
type Repo struct {
	client   *Client
	modelID  string
	revision string
	log      *logrus.Entry
}

// Revision returns the resolved revision.
func (r *Repo) Revision() string {
	return r.revision
}

type treeEntry struct {
	Type string `json:"type"`
	Path string `json:"path"`
}

// ListFiles returns the paths of all files in the repository, recursively.
func (r *Repo) ListFiles(ctx context.Context) ([]string, error) {
	u := fmt.Sprintf("%s/api/models/%s/tree/%s?recursive=true", r.client.endpoint, r.modelID, url.PathEscape(r.revision))

	body, err := r.get(ctx, u, "", maxJSONSize)
	if err != nil {
		return nil, fmt.Errorf("listing files of %s: %w", r.modelID, err)
	}

	var entries []treeEntry
	if err := json.Unmarshal(body, &entries); err != nil {
		return nil, fmt.Errorf("decoding file list of %s: %w", r.modelID, err)
	}

	files := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.Type == "file" && e.Path != "" {
			files = append(files, e.Path)
		}
	}
	r.log.WithField("files", len(files)).Debug("Listed repository files")
	return files, nil
}

// FileURL returns the resolve URL of path.
func (r *Repo) FileURL(path string) string {
	return fmt.Sprintf("%s/%s/resolve/%s/%s", r.client.endpoint, r.modelID, url.PathEscape(r.revision), path)
}

// FetchJSON reads the JSON document at path into v.
func (r *Repo) FetchJSON(ctx context.Context, path string, v any) error {
	body, err := r.get(ctx, r.FileURL(path), "", maxJSONSize)
	if err != nil {
		return fmt.Errorf("fetching %s: %w", path, err)
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("decoding %s: %w", path, err)
	}
	return nil
}

// FetchRange reads the inclusive byte range [start, end] of the file at path.
// Fewer bytes are returned when the file ends first.
func (r *Repo) FetchRange(ctx context.Context, path string, start, end int64) ([]byte, error) {
	if start < 0 || end < start {
		return nil, fmt.Errorf("invalid range %d-%d", start, end)
	}
	body, err := r.get(ctx, r.FileURL(path), httputil.FormatRange(start, end), end-start+1)
	if err != nil {
		return nil, fmt.Errorf("fetching %s: %w", path, err)
	}
	return body, nil
}

// get performs a GET with the per-request timeout, retrying exactly once
// when the first attempt times out.
func (r *Repo) get(ctx context.Context, u, byteRange string, limit int64) ([]byte, error) {
	body, err := r.attempt(ctx, u, byteRange, limit)
	if !r.timedOut(ctx, err) {
		return body, err
	}

	r.log.WithField("url", u).Warnf("Request timed out after %s, retrying", r.client.timeout)
	body, err = r.attempt(ctx, u, byteRange, limit)
	if r.timedOut(ctx, err) {
		return nil, &TimeoutError{URL: u, Timeout: r.client.timeout, Err: err}
	}
	return body, err
}

// timedOut reports whether err is the request timeout firing, as opposed to
// the caller's context ending.
func (r *Repo) timedOut(ctx context.Context, err error) bool {
	return err != nil && ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded)
}

func (r *Repo) attempt(ctx context.Context, u, byteRange string, limit int64) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, r.client.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("User-Agent", fmt.Sprintf("%s; model_id=%s; revision=%s", r.client.userAgent, r.modelID, r.revision))
	if r.client.token != "" {
		req.Header.Set("Authorization", "Bearer "+r.client.token)
	}
	if byteRange != "" {
		req.Header.Set("Range", byteRange)
	}

	log := r.log.WithField("url", u)
	if byteRange != "" {
		log = log.WithField("range", byteRange)
	}
	log.Debug("GET")

	resp, err := r.client.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusPartialContent && byteRange != "":
		start, end, _ := httputil.ParseSingleRange(byteRange)
		if err := httputil.CheckContentRange(resp.Header, start, end); err != nil {
			return nil, fmt.Errorf("%s: %w", u, err)
		}
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		if byteRange != "" {
			log.Debug("Server ignored range request, truncating body")
			start, _, _ := httputil.ParseSingleRange(byteRange)
			if _, err := io.CopyN(io.Discard, resp.Body, start); err != nil && !errors.Is(err, io.EOF) {
				return nil, fmt.Errorf("reading response body: %w", err)
			}
		}
	default:
		return nil, newStatusError(u, resp.StatusCode, r.client.token != "")
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, limit))
	if err != nil {
		return nil, fmt.Errorf("reading response body: %w", err)
	}
	return body, nil
}
