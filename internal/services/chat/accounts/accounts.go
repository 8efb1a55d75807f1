// Package accounts serves the HTTP surface for chat accounts: registration,
// access-code login and user lookup.
package accounts

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"golang.org/x/text/language"

	apperrors "github.com/louisbranch/babel.chat/internal/platform/errors"
	errori18n "github.com/louisbranch/babel.chat/internal/platform/errors/i18n"
	"github.com/louisbranch/babel.chat/internal/platform/id"
	"github.com/louisbranch/babel.chat/internal/platform/requestctx"
	"github.com/louisbranch/babel.chat/internal/platform/timeouts"
	"github.com/louisbranch/babel.chat/internal/services/chat/auth"
	"github.com/louisbranch/babel.chat/internal/services/chat/storage"
)

const (
	maxBodyBytes = 16 * 1024
	// maxCodeAttempts bounds access code regeneration after collisions.
	maxCodeAttempts = 5
)

// Store is the account persistence the handlers need.
type Store interface {
	CreateUser(ctx context.Context, user storage.User) error
	GetUserByAccessCode(ctx context.Context, accessCode string) (storage.User, error)
	GetUserByContactAddress(ctx context.Context, address string) (storage.User, error)
}

// Tokens issues and verifies session tokens.
type Tokens interface {
	Issue(identity auth.Identity) (string, error)
	Verify(token string) (auth.Identity, error)
}

// Handler serves the account routes.
type Handler struct {
	store   Store
	tokens  Tokens
	newID   func() (string, error)
	newCode func() (string, error)
	now     func() time.Time
}

// Option customizes a Handler.
type Option func(*Handler)

// WithIDGenerator overrides user id generation.
func WithIDGenerator(fn func() (string, error)) Option {
	return func(h *Handler) {
		if fn != nil {
			h.newID = fn
		}
	}
}

// WithAccessCodeGenerator overrides access code generation.
func WithAccessCodeGenerator(fn func() (string, error)) Option {
	return func(h *Handler) {
		if fn != nil {
			h.newCode = fn
		}
	}
}

// WithClock overrides the registration clock.
func WithClock(now func() time.Time) Option {
	return func(h *Handler) {
		if now != nil {
			h.now = now
		}
	}
}

// NewHandler builds the account handlers.
func NewHandler(store Store, tokens Tokens, opts ...Option) (*Handler, error) {
	if store == nil {
		return nil, errors.New("account store is required")
	}
	if tokens == nil {
		return nil, errors.New("token issuer is required")
	}
	h := &Handler{
		store:   store,
		tokens:  tokens,
		newID:   id.NewID,
		newCode: auth.GenerateAccessCode,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

// Register mounts the account routes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/auth/register", h.handleRegister)
	mux.HandleFunc("POST /api/auth/login", h.handleLogin)
	mux.Handle("GET /api/users/lookup", h.RequireAuth(http.HandlerFunc(h.handleLookup)))
}

type registerRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
}

type loginRequest struct {
	AccessCode string `json:"access_code"`
}

type userView struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	Email       string `json:"email,omitempty"`
}

type registerResponse struct {
	Message    string   `json:"message"`
	AccessCode string   `json:"access_code"`
	User       userView `json:"user"`
}

type loginResponse struct {
	Message string   `json:"message"`
	Token   string   `json:"token"`
	User    userView `json:"user"`
}

type lookupResponse struct {
	User userView `json:"user"`
}

type errorResponse struct {
	Error errorBody `json:"error"`
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	displayName := strings.TrimSpace(req.Username)
	email := auth.NormalizeContactAddress(req.Email)
	if displayName == "" || email == "" {
		writeError(w, r, apperrors.New(apperrors.CodeValidation, "username and email are required"))
		return
	}
	if !strings.Contains(email, "@") {
		writeError(w, r, apperrors.New(apperrors.CodeInvalidArgument, "email is invalid"))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), timeouts.Persist)
	defer cancel()
	if taken, err := h.contactTaken(ctx, email); err != nil {
		writeError(w, r, err)
		return
	} else if taken {
		writeError(w, r, apperrors.New(apperrors.CodeAlreadyExists, "email already registered"))
		return
	}

	userID, err := h.newID()
	if err != nil {
		writeError(w, r, apperrors.Wrap(apperrors.CodeUnknown, "generate user id", err))
		return
	}
	user := storage.User{ID: userID, DisplayName: displayName, ContactAddress: email}
	for attempt := 1; ; attempt++ {
		code, err := h.newCode()
		if err != nil {
			writeError(w, r, apperrors.Wrap(apperrors.CodeUnknown, "generate access code", err))
			return
		}
		user.AccessCode = code
		user.CreatedAt = h.now().UTC()
		err = h.store.CreateUser(ctx, user)
		if err == nil {
			break
		}
		if !errors.Is(err, storage.ErrAlreadyExists) {
			log.Printf("chat: register user failed email=%q err=%v", email, err)
			writeError(w, r, apperrors.Wrap(apperrors.CodePersistence, "create user", err))
			return
		}
		// Either the email raced another registration or the code collided.
		if taken, lookupErr := h.contactTaken(ctx, email); lookupErr != nil {
			writeError(w, r, lookupErr)
			return
		} else if taken {
			writeError(w, r, apperrors.New(apperrors.CodeAlreadyExists, "email already registered"))
			return
		}
		if attempt == maxCodeAttempts {
			writeError(w, r, apperrors.Wrap(apperrors.CodePersistence, "access code collisions", err))
			return
		}
	}

	log.Printf("chat: user registered user_id=%q", user.ID)
	writeJSON(w, http.StatusCreated, registerResponse{
		Message:    "User registered. Keep your access code to log in.",
		AccessCode: user.AccessCode,
		User:       viewOf(user, true),
	})
}

func (h *Handler) contactTaken(ctx context.Context, email string) (bool, error) {
	_, err := h.store.GetUserByContactAddress(ctx, email)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, storage.ErrNotFound):
		return false, nil
	default:
		log.Printf("chat: contact lookup failed email=%q err=%v", email, err)
		return false, apperrors.Wrap(apperrors.CodePersistence, "lookup contact address", err)
	}
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	code := auth.NormalizeAccessCode(req.AccessCode)
	if code == "" {
		writeError(w, r, apperrors.New(apperrors.CodeValidation, "access_code is required"))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), timeouts.Lookup)
	defer cancel()
	user, err := h.store.GetUserByAccessCode(ctx, code)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, r, apperrors.New(apperrors.CodeAuth, "unknown access code"))
			return
		}
		log.Printf("chat: login lookup failed err=%v", err)
		writeError(w, r, apperrors.Wrap(apperrors.CodePersistence, "lookup access code", err))
		return
	}

	token, err := h.tokens.Issue(auth.Identity{
		UserID:         user.ID,
		DisplayName:    user.DisplayName,
		ContactAddress: user.ContactAddress,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, loginResponse{
		Message: "Login successful",
		Token:   token,
		User:    viewOf(user, true),
	})
}

func (h *Handler) handleLookup(w http.ResponseWriter, r *http.Request) {
	email := auth.NormalizeContactAddress(r.URL.Query().Get("email"))
	if email == "" {
		writeError(w, r, apperrors.New(apperrors.CodeValidation, "email is required"))
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), timeouts.Lookup)
	defer cancel()
	user, err := h.store.GetUserByContactAddress(ctx, email)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, r, apperrors.New(apperrors.CodeNotFound, "user not found"))
			return
		}
		log.Printf("chat: lookup user failed caller_id=%q err=%v", requestctx.UserIDFromContext(r.Context()), err)
		writeError(w, r, apperrors.Wrap(apperrors.CodePersistence, "lookup user", err))
		return
	}
	writeJSON(w, http.StatusOK, lookupResponse{User: viewOf(user, false)})
}

// RequireAuth verifies the bearer token and stores the caller in the
// request context.
func (h *Handler) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			writeError(w, r, apperrors.New(apperrors.CodeAuth, "missing bearer token"))
			return
		}
		identity, err := h.tokens.Verify(strings.TrimSpace(strings.TrimPrefix(header, "Bearer ")))
		if err != nil {
			writeError(w, r, err)
			return
		}
		ctx := requestctx.WithUser(r.Context(), requestctx.User{ID: identity.UserID, DisplayName: identity.DisplayName})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func viewOf(user storage.User, withEmail bool) userView {
	view := userView{ID: user.ID, DisplayName: user.DisplayName}
	if withEmail {
		view.Email = user.ContactAddress
	}
	return view
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := decoder.Decode(v); err != nil {
		return apperrors.Wrap(apperrors.CodeValidation, "invalid JSON body", err)
	}
	return nil
}

// writeError renders err in the caller's preferred language.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := apperrors.CodeOf(err)
	writeJSON(w, code.HTTPStatus(), errorResponse{Error: errorBody{
		Code:    string(code),
		Message: errori18n.Message(preferredLanguage(r), string(code)),
	}})
}

func preferredLanguage(r *http.Request) language.Tag {
	tags, _, err := language.ParseAcceptLanguage(r.Header.Get("Accept-Language"))
	if err != nil || len(tags) == 0 {
		return errori18n.BaseLocale
	}
	return tags[0]
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
