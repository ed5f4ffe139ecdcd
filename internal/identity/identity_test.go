package identity

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/photo-gallery/backend/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testUsers = []config.UserConfig{
	{ID: "u1", Email: "one@example.com", Token: "tok-1"},
	{ID: "u2", Email: "two@example.com", Token: "tok-2"},
	{ID: "", Token: "ignored"},
}

func TestAuthenticate(t *testing.T) {
	p := NewProvider(testUsers, false)

	u, err := p.Authenticate("tok-1")
	require.NoError(t, err)
	assert.Equal(t, User{ID: "u1", Email: "one@example.com"}, u)

	_, err = p.Authenticate("nope")
	assert.ErrorIs(t, err, ErrUnauthenticated)
	_, err = p.Authenticate("")
	assert.ErrorIs(t, err, ErrUnauthenticated)
	_, err = p.Authenticate("ignored")
	assert.ErrorIs(t, err, ErrUnauthenticated)
}

func TestSignInSignOutNotifiesListeners(t *testing.T) {
	p := NewProvider(testUsers, false)

	var seen []Event
	unsubscribe := p.Subscribe(func(e Event) { seen = append(seen, e) })

	session, u, err := p.SignIn("tok-2")
	require.NoError(t, err)
	assert.Equal(t, "u2", u.ID)
	assert.NotEmpty(t, session)

	got, err := p.Authenticate(session)
	require.NoError(t, err)
	assert.Equal(t, "u2", got.ID)

	require.NoError(t, p.SignOut(session))
	assert.ErrorIs(t, p.SignOut(session), ErrUnauthenticated)
	_, err = p.Authenticate(session)
	assert.ErrorIs(t, err, ErrUnauthenticated)

	require.Len(t, seen, 2)
	assert.Equal(t, Event{User: User{ID: "u2", Email: "two@example.com"}, SignedIn: true}, seen[0])
	assert.Equal(t, "u2", seen[1].User.ID, "sign-out names the session's user")
	assert.False(t, seen[1].SignedIn)

	unsubscribe()
	_, _, err = p.SignIn("tok-1")
	require.NoError(t, err)
	assert.Len(t, seen, 2, "no notifications after unsubscribe")
}

func TestSignInInvalid(t *testing.T) {
	p := NewProvider(testUsers, false)
	calls := 0
	defer p.Subscribe(func(Event) { calls++ })()

	_, _, err := p.SignIn("bad")
	assert.ErrorIs(t, err, ErrUnauthenticated)
	assert.Zero(t, calls)
}

func TestUnsubscribeIsIdempotent(t *testing.T) {
	p := NewProvider(testUsers, false)
	a := p.Subscribe(func(Event) {})
	b := p.Subscribe(func(Event) {})
	require.Equal(t, 2, p.Listeners())

	a()
	a()
	assert.Equal(t, 1, p.Listeners(), "second call must not remove another listener")
	b()
	assert.Equal(t, 0, p.Listeners())
}

func TestBearerToken(t *testing.T) {
	assert.Equal(t, "abc", BearerToken("Bearer abc"))
	assert.Equal(t, "abc", BearerToken("bearer  abc "))
	assert.Equal(t, "", BearerToken("Basic abc"))
	assert.Equal(t, "", BearerToken(""))
}

func serve(p *Provider, header string, owner string) (int, error) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/images/"+owner, nil)
	if header != "" {
		req.Header.Set(echo.HeaderAuthorization, header)
	}
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("ownerId")
	c.SetParamValues(owner)

	h := p.Middleware()(RequireOwner(func(c echo.Context) string { return c.Param("ownerId") })(func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	}))
	err := h(c)
	return rec.Code, err
}

func TestMiddleware(t *testing.T) {
	tests := []struct {
		name     string
		required bool
		header   string
		owner    string
		wantErr  error
	}{
		{"anonymous allowed", false, "", "u1", nil},
		{"anonymous rejected", true, "", "u1", ErrUnauthenticated},
		{"bad token", false, "Bearer nope", "u1", ErrUnauthenticated},
		{"own gallery", true, "Bearer tok-1", "u1", nil},
		{"other gallery", true, "Bearer tok-1", "u2", ErrForbidden},
		{"other gallery optional auth", false, "Bearer tok-1", "u2", ErrForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewProvider(testUsers, tt.required)
			code, err := serve(p, tt.header, tt.owner)
			if tt.wantErr == nil {
				require.NoError(t, err)
				assert.Equal(t, http.StatusOK, code)
				return
			}
			assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
		})
	}
}
