// Package handler содержит HTTP-обработчики API сервиса лидербордов.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/mmeshcher/claimboard/internal/clock"
	"github.com/mmeshcher/claimboard/internal/middleware"
	"github.com/mmeshcher/claimboard/internal/model"
	"github.com/mmeshcher/claimboard/internal/repository"
	"github.com/mmeshcher/claimboard/internal/service"
)

// Service определяет контракт бизнес-логики, используемой HTTP-обработчиками.
type Service interface {
	RegisterUser(ctx context.Context, username, password string) (int64, error)
	AuthenticateUser(ctx context.Context, username, password string) (int64, error)
	ListUsers(ctx context.Context) ([]model.User, error)
	UserByID(ctx context.Context, id int64) (*model.User, error)
	Claim(ctx context.Context, username string) (*model.ClaimResult, error)
	Leaderboard(ctx context.Context, kind model.WindowKind, now time.Time) ([]model.AggregateRow, error)
	History(ctx context.Context, username string) ([]model.HistoryEntry, error)
	Now() time.Time
}

// Handler реализует HTTP-обработчики API.
type Handler struct {
	service        Service
	logger         *zap.Logger
	authMiddleware *middleware.AuthMiddleware
	allowedOrigins []string
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
func NewHandler(s Service, logger *zap.Logger, auth *middleware.AuthMiddleware, allowedOrigins []string) *Handler {
	return &Handler{
		service:        s,
		logger:         logger,
		authMiddleware: auth,
		allowedOrigins: allowedOrigins,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError переводит ошибку сервиса в HTTP-статус; внутренние ошибки логируются.
func (h *Handler) writeError(w http.ResponseWriter, op string, err error, fields ...zap.Field) {
	var status int
	switch {
	case errors.Is(err, service.ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(err, service.ErrInvalidCredentials):
		status = http.StatusUnauthorized
	case errors.Is(err, repository.ErrUserNotFound):
		status = http.StatusNotFound
	case errors.Is(err, repository.ErrUserExists):
		status = http.StatusConflict
	case errors.Is(err, repository.ErrStorageTimeout):
		status = http.StatusGatewayTimeout
	default:
		status = http.StatusInternalServerError
	}

	if status >= http.StatusInternalServerError {
		h.logger.Error(op+" error", append(fields, zap.Error(err))...)
	}
	http.Error(w, http.StatusText(status), status)
}

type credentialsRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Register обрабатывает регистрацию нового пользователя.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	userID, err := h.service.RegisterUser(r.Context(), req.Username, req.Password)
	if err != nil {
		h.writeError(w, "register user", err, zap.String("username", req.Username))
		return
	}

	h.authMiddleware.SetAuthCookie(w, userID)
	w.WriteHeader(http.StatusOK)
}

// Login выполняет аутентификацию пользователя и устанавливает cookie.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	userID, err := h.service.AuthenticateUser(r.Context(), req.Username, req.Password)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			err = service.ErrInvalidCredentials
		}
		h.writeError(w, "login user", err, zap.String("username", req.Username))
		return
	}

	h.authMiddleware.SetAuthCookie(w, userID)
	w.WriteHeader(http.StatusOK)
}

// Me возвращает пользователя, которому принадлежит cookie авторизации.
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	u, err := h.service.UserByID(r.Context(), userID)
	if err != nil {
		h.writeError(w, "get current user", err, zap.Int64("userID", userID))
		return
	}

	writeJSON(w, http.StatusOK, u)
}

// ListUsers возвращает всех пользователей.
func (h *Handler) ListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.service.ListUsers(r.Context())
	if err != nil {
		h.writeError(w, "list users", err)
		return
	}

	writeJSON(w, http.StatusOK, users)
}

// GetUser возвращает пользователя по идентификатору из пути.
func (h *Handler) GetUser(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	u, err := h.service.UserByID(r.Context(), id)
	if err != nil {
		h.writeError(w, "get user", err, zap.Int64("userID", id))
		return
	}

	writeJSON(w, http.StatusOK, u)
}

type claimRequest struct {
	Username string `json:"username"`
}

// Claim начисляет баллы пользователю из тела запроса.
func (h *Handler) Claim(w http.ResponseWriter, r *http.Request) {
	var req claimRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	res, err := h.service.Claim(r.Context(), req.Username)
	if err != nil {
		h.writeError(w, "claim points", err, zap.String("username", req.Username))
		return
	}

	writeJSON(w, http.StatusOK, res)
}

type leaderboardResponse struct {
	Window      model.WindowKind     `json:"window"`
	GeneratedAt string               `json:"generatedAt"`
	Entries     []model.AggregateRow `json:"entries"`
}

// Leaderboard возвращает лидерборд за окно daily, weekly или monthly.
func (h *Handler) Leaderboard(w http.ResponseWriter, r *http.Request) {
	kind, ok := clock.ParseKind(chi.URLParam(r, "window"))
	if !ok {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	now := h.service.Now()
	rows, err := h.service.Leaderboard(r.Context(), kind, now)
	if err != nil {
		h.writeError(w, "leaderboard", err, zap.String("window", string(kind)))
		return
	}

	writeJSON(w, http.StatusOK, leaderboardResponse{
		Window:      kind,
		GeneratedAt: now.UTC().Format(time.RFC3339),
		Entries:     rows,
	})
}

// History возвращает историю начислений пользователя.
func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	username := chi.URLParam(r, "username")

	entries, err := h.service.History(r.Context(), username)
	if err != nil {
		h.writeError(w, "history", err, zap.String("username", username))
		return
	}

	writeJSON(w, http.StatusOK, entries)
}
