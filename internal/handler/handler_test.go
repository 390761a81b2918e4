package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mmeshcher/claimboard/internal/middleware"
	"github.com/mmeshcher/claimboard/internal/model"
	"github.com/mmeshcher/claimboard/internal/repository"
	"github.com/mmeshcher/claimboard/internal/service"
)

var testNow = time.Date(2024, 3, 14, 10, 0, 0, 0, time.UTC)

type stubService struct {
	registerUserID int64
	registerErr    error

	authUserID int64
	authErr    error

	users    []model.User
	usersErr error

	user    *model.User
	userErr error

	claimResp *model.ClaimResult
	claimErr  error

	leaderboardKind model.WindowKind
	leaderboardResp []model.AggregateRow
	leaderboardErr  error

	historyResp []model.HistoryEntry
	historyErr  error
}

func (s *stubService) RegisterUser(ctx context.Context, username, password string) (int64, error) {
	return s.registerUserID, s.registerErr
}

func (s *stubService) AuthenticateUser(ctx context.Context, username, password string) (int64, error) {
	return s.authUserID, s.authErr
}

func (s *stubService) ListUsers(ctx context.Context) ([]model.User, error) {
	return s.users, s.usersErr
}

func (s *stubService) UserByID(ctx context.Context, id int64) (*model.User, error) {
	return s.user, s.userErr
}

func (s *stubService) Claim(ctx context.Context, username string) (*model.ClaimResult, error) {
	return s.claimResp, s.claimErr
}

func (s *stubService) Leaderboard(ctx context.Context, kind model.WindowKind, now time.Time) ([]model.AggregateRow, error) {
	s.leaderboardKind = kind
	return s.leaderboardResp, s.leaderboardErr
}

func (s *stubService) History(ctx context.Context, username string) ([]model.HistoryEntry, error) {
	return s.historyResp, s.historyErr
}

func (s *stubService) Now() time.Time { return testNow }

func newTestHandler(t *testing.T, svc Service) *Handler {
	t.Helper()

	logger, err := zap.NewDevelopment()
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}

	auth := middleware.NewAuthMiddleware("test-secret")

	return NewHandler(svc, logger, auth, []string{"*"})
}

func serve(t *testing.T, h *Handler, req *http.Request) *http.Response {
	t.Helper()

	rec := httptest.NewRecorder()
	h.SetupRouter().ServeHTTP(rec, req)
	res := rec.Result()
	t.Cleanup(func() { res.Body.Close() })
	return res
}

func jsonBody(t *testing.T, v any) *bytes.Reader {
	t.Helper()
	body, err := json.Marshal(v)
	require.NoError(t, err)
	return bytes.NewReader(body)
}

func TestRegister_Success(t *testing.T) {
	svc := &stubService{
		registerUserID: 42,
	}
	h := newTestHandler(t, svc)

	req := httptest.NewRequest(http.MethodPost, "/api/user/register",
		jsonBody(t, credentialsRequest{Username: "user", Password: "pass"}))

	res := serve(t, h, req)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusOK)
	}
	if len(res.Cookies()) == 0 {
		t.Fatalf("auth cookie was not set")
	}
}

func TestRegister_Conflict(t *testing.T) {
	svc := &stubService{
		registerErr: fmt.Errorf("%w: user", repository.ErrUserExists),
	}
	h := newTestHandler(t, svc)

	req := httptest.NewRequest(http.MethodPost, "/api/user/register",
		jsonBody(t, credentialsRequest{Username: "user", Password: "pass"}))

	res := serve(t, h, req)
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusConflict)
	}
}

func TestLogin_UnauthorizedForUnknownUser(t *testing.T) {
	svc := &stubService{
		authErr: repository.ErrUserNotFound,
	}
	h := newTestHandler(t, svc)

	req := httptest.NewRequest(http.MethodPost, "/api/user/login",
		jsonBody(t, credentialsRequest{Username: "user", Password: "pass"}))

	res := serve(t, h, req)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusUnauthorized)
	}
}

func TestMe_RequiresCookie(t *testing.T) {
	svc := &stubService{user: &model.User{ID: 1, Username: "alice", Points: 12}}
	h := newTestHandler(t, svc)

	res := serve(t, h, httptest.NewRequest(http.MethodGet, "/api/user/me", nil))
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)

	req := httptest.NewRequest(http.MethodGet, "/api/user/me", nil)
	req.AddCookie(&http.Cookie{Name: "auth_token", Value: h.authMiddleware.Token(1)})
	res = serve(t, h, req)
	require.Equal(t, http.StatusOK, res.StatusCode)

	var u model.User
	require.NoError(t, json.NewDecoder(res.Body).Decode(&u))
	assert.Equal(t, "alice", u.Username)
	assert.Equal(t, int64(12), u.Points)
}

func TestClaim(t *testing.T) {
	tests := []struct {
		name       string
		svc        *stubService
		body       string
		wantStatus int
	}{
		{
			name:       "success",
			svc:        &stubService{claimResp: &model.ClaimResult{PointsAwarded: 7, Balance: 19}},
			body:       `{"username":"alice"}`,
			wantStatus: http.StatusOK,
		},
		{
			name:       "unknown user",
			svc:        &stubService{claimErr: repository.ErrUserNotFound},
			body:       `{"username":"nobody"}`,
			wantStatus: http.StatusNotFound,
		},
		{
			name:       "validation",
			svc:        &stubService{claimErr: fmt.Errorf("%w: username is required", service.ErrValidation)},
			body:       `{"username":""}`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "malformed body",
			svc:        &stubService{},
			body:       `{`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "storage timeout",
			svc:        &stubService{claimErr: repository.ErrStorageTimeout},
			body:       `{"username":"alice"}`,
			wantStatus: http.StatusGatewayTimeout,
		},
		{
			name:       "storage error",
			svc:        &stubService{claimErr: fmt.Errorf("%w: connection refused", repository.ErrStorage)},
			body:       `{"username":"alice"}`,
			wantStatus: http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestHandler(t, tt.svc)
			req := httptest.NewRequest(http.MethodPost, "/api/claim", bytes.NewBufferString(tt.body))

			res := serve(t, h, req)
			require.Equal(t, tt.wantStatus, res.StatusCode)

			if tt.wantStatus == http.StatusOK {
				var got model.ClaimResult
				require.NoError(t, json.NewDecoder(res.Body).Decode(&got))
				assert.Equal(t, *tt.svc.claimResp, got)
			}
		})
	}
}

func TestLeaderboard_JSONResponse(t *testing.T) {
	svc := &stubService{
		leaderboardResp: []model.AggregateRow{
			{Rank: 1, Username: "alice", TotalPoints: 14},
			{Rank: 2, Username: "bob", TotalPoints: 3},
		},
	}
	h := newTestHandler(t, svc)

	res := serve(t, h, httptest.NewRequest(http.MethodGet, "/api/leaderboard/week", nil))
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, "application/json", res.Header.Get("Content-Type"))
	assert.Equal(t, model.WindowWeekly, svc.leaderboardKind)

	var got leaderboardResponse
	require.NoError(t, json.NewDecoder(res.Body).Decode(&got))
	assert.Equal(t, model.WindowWeekly, got.Window)
	assert.Equal(t, "2024-03-14T10:00:00Z", got.GeneratedAt)
	assert.Equal(t, svc.leaderboardResp, got.Entries)
}

func TestLeaderboard_UnknownWindow(t *testing.T) {
	h := newTestHandler(t, &stubService{})

	res := serve(t, h, httptest.NewRequest(http.MethodGet, "/api/leaderboard/yearly", nil))
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)
}

func TestHistory_EmptyList(t *testing.T) {
	h := newTestHandler(t, &stubService{historyResp: []model.HistoryEntry{}})

	res := serve(t, h, httptest.NewRequest(http.MethodGet, "/api/history/bob", nil))
	require.Equal(t, http.StatusOK, res.StatusCode)

	var got []model.HistoryEntry
	require.NoError(t, json.NewDecoder(res.Body).Decode(&got))
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestGetUser(t *testing.T) {
	h := newTestHandler(t, &stubService{userErr: repository.ErrUserNotFound})

	res := serve(t, h, httptest.NewRequest(http.MethodGet, "/api/users/5", nil))
	assert.Equal(t, http.StatusNotFound, res.StatusCode)

	res = serve(t, h, httptest.NewRequest(http.MethodGet, "/api/users/abc", nil))
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)
}

func TestListUsers(t *testing.T) {
	h := newTestHandler(t, &stubService{users: []model.User{{ID: 1, Username: "alice"}, {ID: 2, Username: "bob"}}})

	res := serve(t, h, httptest.NewRequest(http.MethodGet, "/api/users", nil))
	require.Equal(t, http.StatusOK, res.StatusCode)

	var got []map[string]any
	require.NoError(t, json.NewDecoder(res.Body).Decode(&got))
	require.Len(t, got, 2)
	assert.Equal(t, "bob", got[1]["username"])
	assert.NotContains(t, got[0], "PasswordHash")
}
