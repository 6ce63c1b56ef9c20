package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/filedeck/backend/internal/accounts"
	"github.com/filedeck/backend/internal/auth"
	"github.com/filedeck/backend/internal/extract"
	"github.com/filedeck/backend/internal/journal"
	"github.com/filedeck/backend/internal/models"
	"github.com/filedeck/backend/internal/notify"
	"github.com/filedeck/backend/internal/summarize"
	"github.com/filedeck/backend/internal/testutil"
	"github.com/filedeck/backend/internal/tracker"
)

const (
	adminEmail    = "admin@example.com"
	adminPassword = "admin-password"
	userEmail     = "user@example.com"
	userPassword  = "user-password"
)

type historyStub map[string][]journal.Transition

func (h historyStub) History(_ context.Context, id string) ([]journal.Transition, error) {
	return h[id], nil
}

type typesStub []models.TypeCount

func (t typesStub) TypeBreakdown(context.Context) ([]models.TypeCount, error) {
	return t, nil
}

type fixture struct {
	e        *echo.Echo
	tracker  *tracker.Tracker
	blobs    *testutil.MockStorage
	notices  *notify.Center
	accounts *accounts.Service
	jwt      *auth.JWTManager
	history  historyStub
	hub      *Hub
	admin    models.UserAccount
	user     models.UserAccount
}

// newFixture wires the full route table over a local tracker that does not
// advance on its own, so tests see entries in the state they created.
func newFixture(t *testing.T) *fixture {
	t.Helper()

	blobs := testutil.NewMockStorage()
	notices := notify.NewCenter(0, 0)
	summarizer := summarize.Func(func(_ context.Context, text string) (string, error) {
		if strings.Contains(text, "boom") {
			return "", errors.New("summarizer exploded")
		}
		return "a summary", nil
	})
	tr := tracker.New(tracker.NewLocalPipeline(blobs, extract.NewRegistry(0), summarizer, 0), tracker.Options{
		Blobs:    blobs,
		Notifier: notices,
		Logger:   zerolog.Nop(),
	})
	t.Cleanup(tr.Close)

	accts, err := accounts.Open(":memory:", auth.NewPasswordHasherWithCost(bcrypt.MinCost), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = accts.Close() })

	ctx := context.Background()
	admin, err := accts.Create(ctx, accounts.NewAccount{Name: "Admin", Email: adminEmail, Password: adminPassword, Role: models.RoleAdmin})
	require.NoError(t, err)
	user, err := accts.Create(ctx, accounts.NewAccount{Name: "Regular", Email: userEmail, Password: userPassword})
	require.NoError(t, err)

	cfg := auth.DefaultJWTConfig()
	cfg.SecretKey = "test-secret"
	jwtm := auth.NewJWTManager(cfg)

	history := historyStub{}
	hub := NewHub(tr, notices, 0, zerolog.Nop())

	e := echo.New()
	SetupMiddleware(e, MiddlewareConfig{}, zerolog.Nop())
	RegisterRoutes(e, NewHandlers(&Dependencies{
		Files:    tr,
		Blobs:    blobs,
		Types:    typesStub{{Type: "TXT", Count: 2}},
		History:  history,
		Notices:  notices,
		Accounts: accts,
		JWT:      jwtm,
		Hub:      hub,
		Mode:     "local",
		Version:  "test",
		Logger:   zerolog.Nop(),
	}))

	return &fixture{
		e:        e,
		tracker:  tr,
		blobs:    blobs,
		notices:  notices,
		accounts: accts,
		jwt:      jwtm,
		history:  history,
		hub:      hub,
		admin:    admin,
		user:     user,
	}
}

func (f *fixture) token(t *testing.T, u models.UserAccount) string {
	t.Helper()
	tok, err := f.jwt.GenerateAccessToken(u)
	require.NoError(t, err)
	return tok
}

// do sends a request as the given account. A zero account sends no token.
func (f *fixture) do(t *testing.T, as models.UserAccount, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, rd)
	if body != nil {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	if as.ID != "" {
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+f.token(t, as))
	}
	rec := httptest.NewRecorder()
	f.e.ServeHTTP(rec, req)
	return rec
}

func (f *fixture) upload(t *testing.T, as models.UserAccount, files map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	body := new(bytes.Buffer)
	w := multipart.NewWriter(body)
	for name, content := range files {
		part, err := w.CreateFormFile("file", name)
		require.NoError(t, err)
		_, err = part.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/files", body)
	req.Header.Set(echo.HeaderContentType, w.FormDataContentType())
	req.Header.Set(echo.HeaderAuthorization, "Bearer "+f.token(t, as))
	rec := httptest.NewRecorder()
	f.e.ServeHTTP(rec, req)
	return rec
}

// addFile puts one pending entry in the tracker.
func (f *fixture) addFile(t *testing.T, name, content string) models.FileEntry {
	t.Helper()
	blob, err := f.blobs.SaveBytes(name, []byte(content))
	require.NoError(t, err)
	entries, err := f.tracker.AddFiles([]tracker.NewFile{{Name: name, SizeBytes: blob.Size, MimeType: "text/plain", BlobID: blob.ID}})
	require.NoError(t, err)
	return entries[0]
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	require.Eventually(t, cond, 2*time.Second, 10*time.Millisecond)
}
