package handler

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/ayo6706/referral-commerce/internal/api/middleware"
	"github.com/ayo6706/referral-commerce/internal/domain"
	"github.com/ayo6706/referral-commerce/internal/models"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const tokenTTL = 24 * time.Hour

type MemberLookup interface {
	Get(ctx context.Context, id uuid.UUID) (models.Member, error)
}

// AuthHandler issues bearer tokens. Login is a mock: the caller names a member id and gets a
// token for it, provided the member is allowed in.
type AuthHandler struct {
	members MemberLookup
}

func NewAuthHandler(members MemberLookup) *AuthHandler {
	return &AuthHandler{members: members}
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		MemberID string `json:"member_id"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}

	uid, err := uuid.Parse(req.MemberID)
	if err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-member-id", "Invalid member_id")
		return
	}

	member, err := h.members.Get(r.Context(), uid)
	if err != nil {
		respondServiceError(w, r, err, "login")
		return
	}
	// Pending members may still look at their own registration; suspended and removed ones may not.
	if member.Status != domain.MemberActive && member.Status != domain.MemberPending {
		RespondError(w, r, http.StatusForbidden, "auth/member-inactive", "member is "+strings.ToLower(string(member.Status)))
		return
	}

	tokenString, err := IssueToken(member.ID, member.Role, time.Now())
	if err != nil {
		RespondError(w, r, http.StatusInternalServerError, "auth/token-signing-failed", "Failed to sign token")
		return
	}
	RespondJSON(w, http.StatusOK, map[string]any{
		"token":      tokenString,
		"token_type": "Bearer",
		"expires_in": int(tokenTTL.Seconds()),
	})
}

// IssueToken signs a token the auth middleware accepts. The role claim is the lower-cased
// member role, so admins carry "admin".
func IssueToken(memberID uuid.UUID, role domain.MemberRole, now time.Time) (string, error) {
	claims := jwt.MapClaims{
		"user_id": memberID.String(),
		"role":    strings.ToLower(string(role)),
		"sub":     memberID.String(),
		"iat":     now.Unix(),
		"nbf":     now.Add(-30 * time.Second).Unix(),
		"exp":     now.Add(tokenTTL).Unix(),
	}
	if iss := middleware.JWTIssuer(); iss != "" {
		claims["iss"] = iss
	}
	if aud := middleware.JWTAudience(); aud != "" {
		claims["aud"] = aud
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(middleware.JWTSecret())
}
