package api

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"math/rand"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/photo-gallery/backend/internal/config"
	"github.com/photo-gallery/backend/internal/gallery"
	"github.com/photo-gallery/backend/internal/identity"
	"github.com/photo-gallery/backend/internal/records"
	"github.com/photo-gallery/backend/internal/testutil"
	"github.com/photo-gallery/backend/internal/upload"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

var testUsers = []config.UserConfig{
	{ID: "u1", Email: "one@example.com", Token: "tok-1"},
	{ID: "u2", Email: "two@example.com", Token: "tok-2"},
}

type testServer struct {
	e        *echo.Echo
	objects  *testutil.MockObjectStore
	gallery  *gallery.Service
	batches  *upload.Manager
	identity *identity.Provider
}

type serverOption func(*config.AppConfig, *testServerHooks)

type testServerHooks struct {
	factory upload.TransfererFactory
}

func withMaxBytes(n int64) serverOption {
	return func(c *config.AppConfig, _ *testServerHooks) { c.Upload.MaxBytes = n }
}

func withAuthRequired() serverOption {
	return func(c *config.AppConfig, _ *testServerHooks) { c.Security.RequireAuth = true }
}

func withDeletionDisabled() serverOption {
	return func(c *config.AppConfig, _ *testServerHooks) { c.Security.AllowFileDeletion = false }
}

func withTransferer(f upload.TransfererFactory) serverOption {
	return func(_ *config.AppConfig, h *testServerHooks) { h.factory = f }
}

func newTestServer(t *testing.T, opts ...serverOption) *testServer {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Security.Users = testUsers
	cfg.Advanced.EnableRequestLogging = true
	hooks := &testServerHooks{}
	for _, opt := range opts {
		opt(cfg, hooks)
	}

	logger := zaptest.NewLogger(t)
	ts := &testServer{objects: testutil.NewMockObjectStore()}
	ts.gallery = gallery.NewService(ts.objects, records.NewMemoryStore(), gallery.WithLogger(logger))
	factory := hooks.factory
	if factory == nil {
		factory = ts.gallery.Transferer
	}
	ts.batches = upload.NewManager(factory, logger,
		upload.WithMaxBytes(cfg.Upload.MaxBytes),
		upload.WithAllowedTypes(cfg.Upload.AllowedTypes...),
	)
	t.Cleanup(ts.batches.Close)
	ts.identity = identity.NewProvider(cfg.Security.Users, cfg.Security.RequireAuth)

	deps := &Dependencies{
		Gallery:  ts.gallery,
		Batches:  ts.batches,
		Identity: ts.identity,
		Config:   cfg,
		Version:  "test",
		Logger:   logger,
	}
	ts.e = echo.New()
	SetupMiddleware(ts.e, cfg, logger)
	RegisterRoutes(ts.e, NewHandlers(deps), deps)
	return ts
}

func (ts *testServer) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	ts.e.ServeHTTP(rec, req)
	return rec
}

type formFile struct {
	field, name string
	data        []byte
}

// multipartRequest builds a multipart request with files and fields.
func multipartRequest(t *testing.T, method, target string, files []formFile, fields map[string]string) *http.Request {
	t.Helper()
	body := new(bytes.Buffer)
	writer := multipart.NewWriter(body)
	for k, v := range fields {
		require.NoError(t, writer.WriteField(k, v))
	}
	for _, f := range files {
		part, err := writer.CreateFormFile(f.field, f.name)
		require.NoError(t, err)
		_, err = part.Write(f.data)
		require.NoError(t, err)
	}
	require.NoError(t, writer.Close())

	req := httptest.NewRequest(method, target, body)
	req.Header.Set(echo.HeaderContentType, writer.FormDataContentType())
	return req
}

func withToken(req *http.Request, token string) *http.Request {
	req.Header.Set(echo.HeaderAuthorization, "Bearer "+token)
	return req
}

// pngImage encodes a w x h PNG of noise, so that size grows with area.
func pngImage(t *testing.T, w, h int) []byte {
	t.Helper()
	rng := rand.New(rand.NewSource(int64(w*h + 1)))
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			img.Set(x, y, color.RGBA{R: uint8(rng.Intn(256)), G: uint8(rng.Intn(256)), B: uint8(rng.Intn(256)), A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}
