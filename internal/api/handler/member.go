package handler

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/ayo6706/referral-commerce/internal/domain"
	"github.com/ayo6706/referral-commerce/internal/models"
	"github.com/ayo6706/referral-commerce/internal/service"
	"github.com/google/uuid"
)

// MemberService is the member lifecycle as the HTTP layer needs it.
type MemberService interface {
	Register(ctx context.Context, req service.RegisterMemberRequest) (models.Member, error)
	Get(ctx context.Context, id uuid.UUID) (models.Member, error)
	List(ctx context.Context, status domain.MemberStatus, page, pageSize int) ([]models.Member, error)
	Approve(ctx context.Context, id uuid.UUID, actorID *uuid.UUID) (models.Member, error)
	Reject(ctx context.Context, id uuid.UUID, actorID *uuid.UUID) (models.Member, error)
	Suspend(ctx context.Context, id uuid.UUID, actorID *uuid.UUID) (models.Member, error)
	Reinstate(ctx context.Context, id uuid.UUID, actorID *uuid.UUID) (models.Member, error)
	Delete(ctx context.Context, id uuid.UUID, actorID *uuid.UUID) (service.DeleteResult, error)
}

// GraphReader answers upline and downline queries.
type GraphReader interface {
	Upline(ctx context.Context, memberID uuid.UUID, maxLevel int) ([]models.GraphMember, error)
	Downline(ctx context.Context, memberID uuid.UUID) ([]models.GraphMember, error)
}

type MemberHandler struct {
	members MemberService
	graph   GraphReader
}

func NewMemberHandler(members MemberService, graph GraphReader) *MemberHandler {
	return &MemberHandler{members: members, graph: graph}
}

type registerMemberRequest struct {
	Username  string `json:"username"`
	Email     string `json:"email"`
	Role      string `json:"role"`
	SponsorID string `json:"sponsor_id"`
}

// Register handles POST /v1/members. Anyone may sign up under an existing sponsor; the new member
// stays PENDING until an admin approves them. Admin accounts are only created by admins.
func (h *MemberHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerMemberRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	role := domain.MemberRole(strings.ToUpper(strings.TrimSpace(req.Role)))
	if role == "" {
		role = domain.RoleCustomer
	}
	if role == domain.RoleAdmin {
		RespondError(w, r, http.StatusForbidden, "auth/insufficient-permissions", "admin accounts are created by an administrator")
		return
	}
	h.register(w, r, req, role)
}

// RegisterByAdmin handles POST /v1/admin/members and accepts any role, including a sponsorless
// ADMIN root.
func (h *MemberHandler) RegisterByAdmin(w http.ResponseWriter, r *http.Request) {
	var req registerMemberRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	h.register(w, r, req, domain.MemberRole(strings.ToUpper(strings.TrimSpace(req.Role))))
}

func (h *MemberHandler) register(w http.ResponseWriter, r *http.Request, req registerMemberRequest, role domain.MemberRole) {
	in := service.RegisterMemberRequest{Username: req.Username, Email: req.Email, Role: role}
	if s := strings.TrimSpace(req.SponsorID); s != "" {
		sponsorID, err := uuid.Parse(s)
		if err != nil {
			RespondError(w, r, http.StatusBadRequest, "request/invalid-sponsor-id", "Invalid sponsor_id")
			return
		}
		in.SponsorID = &sponsorID
	}

	member, err := h.members.Register(r.Context(), in)
	if err != nil {
		respondServiceError(w, r, err, "register member")
		return
	}
	RespondJSON(w, http.StatusCreated, member)
}

// Get handles GET /v1/members/{id}. Members may read themselves; admins anyone.
func (h *MemberHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := h.ownMember(w, r)
	if !ok {
		return
	}
	member, err := h.members.Get(r.Context(), id)
	if err != nil {
		respondServiceError(w, r, err, "get member")
		return
	}
	RespondJSON(w, http.StatusOK, member)
}

// Upline handles GET /v1/members/{id}/upline?max_level=.
func (h *MemberHandler) Upline(w http.ResponseWriter, r *http.Request) {
	id, ok := h.ownMember(w, r)
	if !ok {
		return
	}
	maxLevel := 0
	if raw := r.URL.Query().Get("max_level"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			RespondError(w, r, http.StatusBadRequest, "request/invalid-max-level", "max_level must be a non-negative integer")
			return
		}
		maxLevel = n
	}
	upline, err := h.graph.Upline(r.Context(), id, maxLevel)
	if err != nil {
		respondServiceError(w, r, err, "get upline")
		return
	}
	RespondJSON(w, http.StatusOK, map[string]any{"member_id": id, "upline": upline})
}

// Downline handles GET /v1/members/{id}/downline.
func (h *MemberHandler) Downline(w http.ResponseWriter, r *http.Request) {
	id, ok := h.ownMember(w, r)
	if !ok {
		return
	}
	downline, err := h.graph.Downline(r.Context(), id)
	if err != nil {
		respondServiceError(w, r, err, "get downline")
		return
	}
	RespondJSON(w, http.StatusOK, map[string]any{"member_id": id, "downline": downline})
}

// List handles GET /v1/admin/members?status=.
func (h *MemberHandler) List(w http.ResponseWriter, r *http.Request) {
	page, size := pageParams(r)
	members, err := h.members.List(r.Context(), domain.MemberStatus(upperQuery(r, "status")), page, size)
	if err != nil {
		respondServiceError(w, r, err, "list members")
		return
	}
	RespondJSON(w, http.StatusOK, map[string]any{"members": members})
}

func (h *MemberHandler) Approve(w http.ResponseWriter, r *http.Request) {
	h.lifecycle(w, r, "approve member", h.members.Approve)
}

func (h *MemberHandler) Reject(w http.ResponseWriter, r *http.Request) {
	h.lifecycle(w, r, "reject member", h.members.Reject)
}

func (h *MemberHandler) Suspend(w http.ResponseWriter, r *http.Request) {
	h.lifecycle(w, r, "suspend member", h.members.Suspend)
}

func (h *MemberHandler) Reinstate(w http.ResponseWriter, r *http.Request) {
	h.lifecycle(w, r, "reinstate member", h.members.Reinstate)
}

// Delete handles DELETE /v1/admin/members/{id}.
func (h *MemberHandler) Delete(w http.ResponseWriter, r *http.Request) {
	actorID, _, ok := mustActor(w, r)
	if !ok {
		return
	}
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	result, err := h.members.Delete(r.Context(), id, &actorID)
	if err != nil {
		respondServiceError(w, r, err, "delete member")
		return
	}
	RespondJSON(w, http.StatusOK, result)
}

func (h *MemberHandler) lifecycle(w http.ResponseWriter, r *http.Request, op string, fn func(context.Context, uuid.UUID, *uuid.UUID) (models.Member, error)) {
	actorID, _, ok := mustActor(w, r)
	if !ok {
		return
	}
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	member, err := fn(r.Context(), id, &actorID)
	if err != nil {
		respondServiceError(w, r, err, op)
		return
	}
	RespondJSON(w, http.StatusOK, member)
}

func (h *MemberHandler) ownMember(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	return selfOrAdmin(w, r, "id")
}
