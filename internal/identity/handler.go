package identity

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-identity-go/internal/identity/entity"
	"github.com/ovaphlow/pitchfork/service-identity-go/internal/identity/repo"
)

const maxBodyBytes = 1 << 20

// Handler exposes the identity endpoints.
type Handler struct {
	svc    *Service
	logger *zap.SugaredLogger
}

func NewHandler(svc *Service, logger *zap.SugaredLogger) *Handler {
	return &Handler{svc: svc, logger: logger}
}

// EventsResponse is returned by POST /identity/events.
type EventsResponse struct {
	OK bool `json:"ok"`
	IngestResult
}

func (h *Handler) Events(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		h.writeError(w, &ValidationError{Field: "body", Message: "request body too large or unreadable"})
		return
	}
	cookies := map[string]string{}
	for _, c := range r.Cookies() {
		cookies[c.Name] = c.Value
	}
	res, err := h.svc.Ingest(r.Context(), body, cookies)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, EventsResponse{OK: true, IngestResult: res})
}

// AliasRequest is the body of POST /identity/alias.
type AliasRequest struct {
	UserID      string `json:"userId"`
	Email       string `json:"email"`
	Phone       string `json:"phone"`
	AnonymousID string `json:"anonymousId"`
}

type AliasResponse struct {
	OK                 bool     `json:"ok"`
	UserID             string   `json:"userId"`
	MergedAnonymousIDs []string `json:"mergedAnonymousIds"`
	MergedCount        int      `json:"mergedCount"`
	InsertedRows       int      `json:"insertedRows"`
}

func (h *Handler) Alias(w http.ResponseWriter, r *http.Request) {
	var req AliasRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		h.logger.Debugw("invalid alias payload", "err", err)
		h.writeError(w, &ValidationError{Field: "body", Message: "invalid JSON payload"})
		return
	}
	res, err := h.svc.Merger.Merge(r.Context(), MergeRequest{
		UserID:      req.UserID,
		Email:       req.Email,
		Phone:       req.Phone,
		AnonymousID: req.AnonymousID,
		Source:      SourceAliasAPI,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, AliasResponse{
		OK:                 true,
		UserID:             res.UserID,
		MergedAnonymousIDs: res.MergedAnonymousIDs,
		MergedCount:        len(res.MergedAnonymousIDs),
		InsertedRows:       res.InsertedRows,
	})
}

type ProfileResponse struct {
	OK      bool            `json:"ok"`
	Profile *entity.Profile `json:"profile"`
}

func (h *Handler) Admin(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	p, err := h.svc.Profiles.Profile(r.Context(), q.Get("user_id"), q.Get("email"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, ProfileResponse{OK: true, Profile: p})
}

// EraseRequestBody is the body of POST|DELETE /identity/gdpr.
type EraseRequestBody struct {
	UserID            string `json:"userId"`
	Email             string `json:"email"`
	Phone             string `json:"phone"`
	AnonymousID       string `json:"anonymousId"`
	DeviceFingerprint string `json:"deviceFingerprint"`
	Recursive         *bool  `json:"recursive"`
}

type EraseResponse struct {
	OK             bool                  `json:"ok"`
	MutationQueued bool                  `json:"mutationQueued"`
	Identifiers    entity.IdentifierSets `json:"identifiers"`
	JobIDs         []string              `json:"jobIds"`
}

func (h *Handler) Erase(w http.ResponseWriter, r *http.Request) {
	var req EraseRequestBody
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		h.logger.Debugw("invalid erasure payload", "err", err)
		h.writeError(w, &ValidationError{Field: "body", Message: "invalid JSON payload"})
		return
	}
	res, err := h.svc.Eraser.Erase(r.Context(), EraseRequest{
		Seed: entity.Seed{
			UserID:            req.UserID,
			Email:             req.Email,
			Phone:             req.Phone,
			AnonymousID:       req.AnonymousID,
			DeviceFingerprint: req.DeviceFingerprint,
		},
		Recursive: req.Recursive,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, EraseResponse{OK: true, MutationQueued: true, Identifiers: res.Identifiers, JobIDs: res.JobIDs})
}

type ResolveResponse struct {
	OK              bool    `json:"ok"`
	AnonymousID     string  `json:"anonymousId"`
	CanonicalUserID *string `json:"canonicalUserId"`
}

func (h *Handler) Resolve(w http.ResponseWriter, r *http.Request) {
	anon := r.URL.Query().Get("anonymous_id")
	user, err := h.svc.Profiles.Attribute(r.Context(), anon)
	if err != nil {
		h.writeError(w, err)
		return
	}
	resp := ResolveResponse{OK: true, AnonymousID: anon}
	if user != "" {
		resp.CanonicalUserID = &user
	}
	h.writeJSON(w, http.StatusOK, resp)
}

type errorResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error"`
}

// writeError maps service errors to status codes.
func (h *Handler) writeError(w http.ResponseWriter, err error) {
	var verr *ValidationError
	var perr *PartialWriteError
	switch {
	case errors.As(err, &verr):
		h.writeJSON(w, http.StatusBadRequest, errorResponse{Error: verr.Message})
	case errors.Is(err, repo.ErrNotConfigured):
		h.logger.Errorw("identity store is not configured", "err", err)
		h.writeJSON(w, http.StatusInternalServerError, errorResponse{Error: repo.ErrNotConfigured.Error()})
	case errors.As(err, &perr):
		h.writeJSON(w, http.StatusInternalServerError, errorResponse{Error: perr.Error()})
	case errors.Is(err, ErrClosureTimeout), errors.Is(err, ErrMaxIterations), errors.Is(err, ErrClosureTooLarge):
		h.logger.Warnw("identity closure guard tripped", "err", err)
		h.writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
	default:
		h.logger.Errorw("identity request failed", "err", err)
		h.writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
