package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/ayo6706/referral-commerce/internal/api/middleware"
	"github.com/ayo6706/referral-commerce/internal/api/problem"
	"github.com/ayo6706/referral-commerce/internal/domain"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const maxBodyBytes = 1 << 20

// RespondJSON writes a JSON response.
func RespondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// RespondError writes an error response.
func RespondError(w http.ResponseWriter, r *http.Request, status int, problemType, message string) {
	if problemType != "" && problemType != "about:blank" && !strings.HasPrefix(problemType, "http") {
		problemType = problem.Type(problemType)
	}
	problem.Write(w, r, status, problemType, http.StatusText(status), message)
}

// respondServiceError maps the domain error taxonomy onto problem responses. Anything without a
// class is an internal error and its detail is not echoed to the client.
func respondServiceError(w http.ResponseWriter, r *http.Request, err error, op string) {
	status, slug := classifyError(err)
	if status == http.StatusInternalServerError {
		zap.L().Error(op+" failed",
			zap.Error(err),
			zap.String("trace_id", middleware.TraceIDFromContext(r.Context())))
		RespondError(w, r, status, slug, op+" failed")
		return
	}
	if status == http.StatusServiceUnavailable {
		zap.L().Warn(op+" hit a transient store failure", zap.Error(err))
		w.Header().Set("Retry-After", "1")
	}
	RespondError(w, r, status, slug, err.Error())
}

func classifyError(err error) (int, string) {
	switch {
	case errors.Is(err, domain.ErrInsufficientFunds):
		return http.StatusUnprocessableEntity, "ledger/insufficient-funds"
	case errors.Is(err, domain.ErrInvalidInput):
		return http.StatusBadRequest, "request/invalid-input"
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, "resource/not-found"
	case errors.Is(err, domain.ErrConflict):
		return http.StatusConflict, "resource/conflict"
	case errors.Is(err, domain.ErrPreconditionFailed):
		return http.StatusPreconditionFailed, "resource/precondition-failed"
	case errors.Is(err, domain.ErrTransient):
		return http.StatusServiceUnavailable, "store/unavailable"
	default:
		return http.StatusInternalServerError, "internal-server-error"
	}
}

// requestActor returns the authenticated member and whether they hold the admin role.
func requestActor(r *http.Request) (uuid.UUID, bool, error) {
	userID := middleware.UserIDFromContext(r.Context())
	if userID == "" {
		return uuid.Nil, false, errors.New("missing user in auth context")
	}

	actorID, err := uuid.Parse(userID)
	if err != nil {
		return uuid.Nil, false, errors.New("invalid user_id in auth context")
	}

	return actorID, middleware.IsAdmin(r.Context()), nil
}

// mustActor writes 401 and returns false when the request carries no usable identity.
func mustActor(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool, bool) {
	actorID, isAdmin, err := requestActor(r)
	if err != nil {
		RespondError(w, r, http.StatusUnauthorized, "auth/unauthorized", "Unauthorized")
		return uuid.Nil, false, false
	}
	return actorID, isAdmin, true
}

// selfOrAdmin resolves a member id path parameter ("me" means the caller) and allows it only for
// the member themselves or an admin.
func selfOrAdmin(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	actorID, isAdmin, ok := mustActor(w, r)
	if !ok {
		return uuid.Nil, false
	}
	if chi.URLParam(r, name) == "me" {
		return actorID, true
	}
	id, ok := pathUUID(w, r, name)
	if !ok {
		return uuid.Nil, false
	}
	if id != actorID && !isAdmin {
		RespondError(w, r, http.StatusForbidden, "auth/forbidden", "Forbidden")
		return uuid.Nil, false
	}
	return id, true
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-body", fmt.Sprintf("Invalid request body: %v", err))
		return false
	}
	return true
}

// decodeOptionalJSON accepts an empty body and leaves dst untouched.
func decodeOptionalJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-body", fmt.Sprintf("Invalid request body: %v", err))
		return false
	}
	return true
}

func pathUUID(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-"+name, "Invalid "+name)
		return uuid.Nil, false
	}
	return id, true
}

func queryUUID(w http.ResponseWriter, r *http.Request, name string) (*uuid.UUID, bool) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return nil, true
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-"+name, "Invalid "+name)
		return nil, false
	}
	return &id, true
}

// pageParams reads ?page=&page_size=; the service clamps whatever comes through.
func pageParams(r *http.Request) (int, int) {
	q := r.URL.Query()
	page, _ := strconv.Atoi(q.Get("page"))
	size, _ := strconv.Atoi(q.Get("page_size"))
	return page, size
}

func upperQuery(r *http.Request, name string) string {
	return strings.ToUpper(strings.TrimSpace(r.URL.Query().Get(name)))
}
