package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"
)

// requestScope is shared by every layer of one request. Auth runs inside route groups and
// fills memberID in place, so the outer access log and panic handler can still see who called.
type requestScope struct {
	traceID  string
	memberID string
}

// TraceMiddleware propagates X-Trace-ID, accepting X-Request-ID from proxies that only set
// that one, and minting a fresh id otherwise.
func TraceMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		traceID := strings.TrimSpace(r.Header.Get("X-Trace-ID"))
		if traceID == "" {
			traceID = strings.TrimSpace(r.Header.Get("X-Request-ID"))
		}
		if traceID == "" || len(traceID) > 128 {
			traceID = uuid.NewString()
		}
		scope := &requestScope{traceID: traceID}
		w.Header().Set("X-Trace-ID", traceID)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), traceContextKey, scope)))
	})
}

func scopeFrom(ctx context.Context) *requestScope {
	if ctx == nil {
		return nil
	}
	scope, _ := ctx.Value(traceContextKey).(*requestScope)
	return scope
}

// callerID is the authenticated member for this request, visible from outer middleware too.
func callerID(ctx context.Context) string {
	if id := UserIDFromContext(ctx); id != "" {
		return id
	}
	if scope := scopeFrom(ctx); scope != nil {
		return scope.memberID
	}
	return ""
}
