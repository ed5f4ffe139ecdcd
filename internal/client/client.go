// Package client talks to the gallery server over HTTP.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
	"time"

	"github.com/photo-gallery/backend/internal/models"
	"github.com/photo-gallery/backend/internal/upload"
	"github.com/vmihailenco/msgpack/v5"
	"golang.org/x/time/rate"
)

// ErrNotFound is returned when the server has no such image.
var ErrNotFound = errors.New("image not found")

// Error is a non-2xx response from the server.
type Error struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details"`
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = http.StatusText(e.Status)
	}
	if e.Details != "" {
		return fmt.Sprintf("server returned %d: %s (%s)", e.Status, msg, e.Details)
	}
	return fmt.Sprintf("server returned %d: %s", e.Status, msg)
}

// Unwrap maps statuses onto the errors callers branch on.
func (e *Error) Unwrap() error {
	switch e.Status {
	case http.StatusRequestEntityTooLarge:
		return upload.ErrPayloadTooLarge
	case http.StatusUnsupportedMediaType:
		return upload.ErrUnsupportedType
	case http.StatusNotFound:
		return ErrNotFound
	}
	return nil
}

// Client uploads, lists and deletes one owner's images.
type Client struct {
	baseURL    string
	owner      string
	token      string
	httpClient *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithToken authenticates requests with a bearer token.
func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// New creates a client for owner's gallery on the server at baseURL.
func New(baseURL, owner string, opts ...Option) *Client {
	if baseURL == "" {
		baseURL = "http://localhost:5000"
	}
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		owner:      owner,
		httpClient: &http.Client{Timeout: 5 * time.Minute},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Owner returns the gallery owner.
func (c *Client) Owner() string { return c.owner }

// Transfer streams t to POST /upload and returns the stored image URL.
// It implements upload.Transferer.
func (c *Client) Transfer(ctx context.Context, t upload.Transfer, progress upload.ProgressFunc) (string, error) {
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)

	go func() {
		pw.CloseWithError(c.writeForm(mw, t, progress))
	}()

	req, err := c.newRequest(ctx, http.MethodPost, "/upload", pr)
	if err != nil {
		pr.Close()
		return "", err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		pr.CloseWithError(err)
		return "", fmt.Errorf("upload %s: %w", t.Name, err)
	}
	defer resp.Body.Close()
	pr.Close()

	if err := checkResponse(resp); err != nil {
		return "", fmt.Errorf("upload %s: %w", t.Name, err)
	}
	var img models.Image
	if err := json.NewDecoder(resp.Body).Decode(&img); err != nil {
		return "", fmt.Errorf("decoding upload response: %w", err)
	}
	return img.URL, nil
}

func (c *Client) writeForm(mw *multipart.Writer, t upload.Transfer, progress upload.ProgressFunc) error {
	if err := mw.WriteField("userId", c.owner); err != nil {
		return err
	}

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="image"; filename="%s"`, escapeQuotes(t.Name)))
	contentType := t.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	h.Set("Content-Type", contentType)
	part, err := mw.CreatePart(h)
	if err != nil {
		return err
	}

	if _, err := io.Copy(part, newProgressBody(t.Body, t.Size, progress)); err != nil {
		return err
	}
	return mw.Close()
}

// List returns the owner's images. The listing is requested as MessagePack.
func (c *Client) List(ctx context.Context) ([]models.Image, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/images/"+url.PathEscape(c.owner), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/msgpack")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("list images: %w", err)
	}
	defer resp.Body.Close()
	if err := checkResponse(resp); err != nil {
		return nil, fmt.Errorf("list images: %w", err)
	}

	var images []models.Image
	if strings.HasPrefix(resp.Header.Get("Content-Type"), "application/msgpack") {
		err = msgpack.NewDecoder(resp.Body).Decode(&images)
	} else {
		err = json.NewDecoder(resp.Body).Decode(&images)
	}
	if err != nil {
		return nil, fmt.Errorf("decoding image list: %w", err)
	}
	return images, nil
}

// Delete removes the owner's image name.
func (c *Client) Delete(ctx context.Context, name string) error {
	path := "/image/" + url.PathEscape(c.owner) + "/" + url.PathEscape(name)
	req, err := c.newRequest(ctx, http.MethodDelete, path, nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("delete %s: %w", name, err)
	}
	defer resp.Body.Close()
	if err := checkResponse(resp); err != nil {
		return fmt.Errorf("delete %s: %w", name, err)
	}
	return nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return req, nil
}

func checkResponse(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	e := &Error{Status: resp.StatusCode}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if json.Unmarshal(body, e) != nil {
		e.Message = strings.TrimSpace(string(body))
	}
	return e
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func escapeQuotes(s string) string {
	return quoteEscaper.Replace(s)
}

// progressBody reports bytes read, at most every 50ms, plus a final
// (total, total) once the body is exhausted.
type progressBody struct {
	r     io.Reader
	total int64
	read  int64
	fn    upload.ProgressFunc
	every rate.Sometimes
	done  bool
}

func newProgressBody(r io.Reader, total int64, fn upload.ProgressFunc) *progressBody {
	return &progressBody{r: r, total: total, fn: fn, every: rate.Sometimes{First: 1, Interval: 50 * time.Millisecond}}
}

func (p *progressBody) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	p.read += int64(n)
	if p.fn == nil || p.done {
		return n, err
	}
	if errors.Is(err, io.EOF) || (p.total > 0 && p.read >= p.total) {
		p.done = true
		total := p.total
		if total <= 0 {
			total = p.read
		}
		p.fn(total, total)
		return n, err
	}
	if n > 0 {
		p.every.Do(func() { p.fn(p.read, p.total) })
	}
	return n, err
}
