// Package backend is the client for the spreadsheet processing service.
//
// Every call is a single request/response round trip with no retries. The
// caller decides what a failure means for its own state.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/JonMunkholm/bridgette/internal/staging"
)

// FilesField is the multipart field every submitted file is sent under.
const FilesField = "files"

// DefaultTimeout bounds a whole round trip, upload included.
const DefaultTimeout = 5 * time.Minute

// maxResponseBytes caps JSON bodies read from the backend.
const maxResponseBytes = 32 << 20

// Config configures a Client.
type Config struct {
	BaseURL   string
	Timeout   time.Duration
	UserAgent string
}

// Client talks to the processing backend.
type Client struct {
	baseURL    *url.URL
	userAgent  string
	HTTPClient *http.Client
}

// New creates a client for cfg.BaseURL.
func New(cfg Config) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse backend url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("backend url %q must be http or https", cfg.BaseURL)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("backend url %q has no host", cfg.BaseURL)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ua := cfg.UserAgent
	if ua == "" {
		ua = "bridgette"
	}

	return &Client{
		baseURL:    u,
		userAgent:  ua,
		HTTPClient: &http.Client{Timeout: timeout},
	}, nil
}

// BaseURL returns the backend origin the client targets.
func (c *Client) BaseURL() string { return c.baseURL.String() }

// ProcessFiles sends every file in one multipart POST to /api/process-files
// and decodes the JSON answer. The body is streamed, so files are read only
// while the request is in flight.
func (c *Client) ProcessFiles(ctx context.Context, files []staging.PendingFile, opts ProcessOptions) (*ProcessResponse, error) {
	if len(files) == 0 {
		return nil, ErrNoFiles
	}

	const path = "/api/process-files"
	q := url.Values{}
	if opts.Schema {
		q.Set("schema", "true")
	}
	if opts.Box > 0 {
		q.Set("box", strconv.Itoa(opts.Box))
	}

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	writeErr := make(chan error, 1)
	go func() {
		err := writeParts(mw, files)
		if err == nil {
			err = mw.Close()
		}
		pw.CloseWithError(err)
		writeErr <- err
	}()

	req, err := c.newRequest(ctx, http.MethodPost, path, q, pr)
	if err != nil {
		pr.Close()
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		pr.Close()
		if werr := <-writeErr; werr != nil && !errors.Is(werr, io.ErrClosedPipe) {
			return nil, fmt.Errorf("build upload body: %w", werr)
		}
		return nil, fmt.Errorf("%w: POST %s: %w", ErrBackendUnavailable, path, err)
	}
	defer resp.Body.Close()
	// The backend may answer before consuming the whole body.
	pr.Close()

	var out ProcessResponse
	if err := c.decode(resp, http.MethodPost, path, &out); err != nil {
		return nil, err
	}
	if !out.Success {
		return &out, &AppError{Path: path, Message: out.Error}
	}
	return &out, nil
}

// StartMerging asks the backend to merge previously produced artifacts.
func (c *Client) StartMerging(ctx context.Context, artifacts []string) (*ActionResponse, error) {
	body, err := json.Marshal(mergeRequest{Files: artifacts})
	if err != nil {
		return nil, fmt.Errorf("encode merge request: %w", err)
	}
	return c.action(ctx, "/api/start-merging", body)
}

// TriggerMainProcessing starts server-side processing of uploaded files.
func (c *Client) TriggerMainProcessing(ctx context.Context) (*ActionResponse, error) {
	return c.action(ctx, "/api/trigger-main-processing", nil)
}

// CleanupJSONFiles removes intermediate JSON artifacts on the backend.
func (c *Client) CleanupJSONFiles(ctx context.Context) (*ActionResponse, error) {
	return c.action(ctx, "/api/cleanup-json-files", nil)
}

// DownloadExcel streams the generated workbook called name into w.
func (c *Client) DownloadExcel(ctx context.Context, name string, w io.Writer) (int64, error) {
	path, err := artifactPath("/api/download-excel/", name)
	if err != nil {
		return 0, err
	}
	resp, err := c.do(ctx, http.MethodGet, path, nil, "")
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if err := checkStatus(resp, http.MethodGet, path); err != nil {
		return 0, err
	}
	n, err := io.Copy(w, resp.Body)
	if err != nil {
		return n, fmt.Errorf("%w: GET %s: %w", ErrBackendUnavailable, path, err)
	}
	return n, nil
}

// JSONFile fetches the generated JSON artifact called name.
func (c *Client) JSONFile(ctx context.Context, name string) (json.RawMessage, error) {
	path, err := artifactPath("/api/json-files/", name)
	if err != nil {
		return nil, err
	}
	resp, err := c.do(ctx, http.MethodGet, path, nil, "")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var raw json.RawMessage
	if err := c.decode(resp, http.MethodGet, path, &raw); err != nil {
		return nil, err
	}
	return raw, nil
}

// Health checks that the backend is up.
func (c *Client) Health(ctx context.Context) (*HealthStatus, error) {
	const path = "/api/health"
	resp, err := c.do(ctx, http.MethodGet, path, nil, "")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var out HealthStatus
	if err := c.decode(resp, http.MethodGet, path, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) action(ctx context.Context, path string, body []byte) (*ActionResponse, error) {
	var r io.Reader
	contentType := ""
	if body != nil {
		r = bytes.NewReader(body)
		contentType = "application/json"
	}
	resp, err := c.do(ctx, http.MethodPost, path, r, contentType)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var out ActionResponse
	if err := c.decode(resp, http.MethodPost, path, &out); err != nil {
		return nil, err
	}
	if !out.Success {
		return &out, &AppError{Path: path, Message: out.Error}
	}
	return &out, nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, q url.Values, body io.Reader) (*http.Request, error) {
	u := *c.baseURL
	raw := strings.TrimRight(c.baseURL.EscapedPath(), "/") + path
	unescaped, err := url.PathUnescape(raw)
	if err != nil {
		return nil, fmt.Errorf("build request path: %w", err)
	}
	u.Path, u.RawPath = unescaped, raw
	if len(q) > 0 {
		u.RawQuery = q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	return req, nil
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader, contentType string) (*http.Response, error) {
	req, err := c.newRequest(ctx, method, path, nil, body)
	if err != nil {
		return nil, err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s %s: %w", ErrBackendUnavailable, method, path, err)
	}
	return resp, nil
}

// decode checks the status and decodes a JSON body into v.
func (c *Client) decode(resp *http.Response, method, path string, v any) error {
	if err := checkStatus(resp, method, path); err != nil {
		return err
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(v); err != nil {
		return fmt.Errorf("%w: %s %s: decode response: %w", ErrBackendUnavailable, method, path, err)
	}
	return nil
}

func checkStatus(resp *http.Response, method, path string) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	se := &StatusError{Method: method, Path: path, StatusCode: resp.StatusCode}
	var body errorBody
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&body); err == nil {
		se.Message = body.Error
		if se.Message == "" {
			se.Message = body.Message
		}
	}
	return se
}

func artifactPath(prefix, name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return "", fmt.Errorf("%w: %q", ErrInvalidArtifactName, name)
	}
	return prefix + url.PathEscape(name), nil
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func writeParts(mw *multipart.Writer, files []staging.PendingFile) error {
	for _, f := range files {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`, FilesField, quoteEscaper.Replace(f.Name)))
		h.Set("Content-Type", contentTypeFor(f.Name))
		part, err := mw.CreatePart(h)
		if err != nil {
			return err
		}
		rc, err := f.Open()
		if err != nil {
			return fmt.Errorf("open %s: %w", f.Name, err)
		}
		_, err = io.Copy(part, rc)
		rc.Close()
		if err != nil {
			return fmt.Errorf("read %s: %w", f.Name, err)
		}
	}
	return nil
}

func contentTypeFor(name string) string {
	switch staging.Extension(name) {
	case ".csv":
		return "text/csv"
	case ".xlsx":
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	case ".xls":
		return "application/vnd.ms-excel"
	case ".json":
		return "application/json"
	default:
		return "application/octet-stream"
	}
}
