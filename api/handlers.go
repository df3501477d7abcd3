/*
handlers.go - HTTP handlers for the verification API

PURPOSE:
  Implements the HTTP surface: client auth and submissions, admin
  review, reward lifecycle, and reporting. Handlers decode/validate
  the transport layer, delegate to the engine, and map the engine's
  error taxonomy to status codes.

ERROR MAPPING:
  ErrUnauthenticated -> 401
  ErrForbidden       -> 403
  ErrNotFound        -> 404
  ErrConflict        -> 409
  ErrInvalidState    -> 409
  ErrValidation      -> 400
  anything else      -> 500

SEE ALSO:
  - server.go: Route registration
  - engine/: Domain semantics behind every handler
*/
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/promomundial/verification-engine/auth"
	"github.com/promomundial/verification-engine/content"
	"github.com/promomundial/verification-engine/engine"
)

// Handlers bundles the services behind the HTTP surface.
type Handlers struct {
	Auth     *auth.Service
	Tokens   *auth.TokenIssuer
	Ledger   *engine.Ledger
	Workflow *engine.Workflow
	Rewards  *engine.RewardService
	Stats    *engine.StatsService
	Audit    *engine.Recorder
	Receipts content.Store
	Logger   *zap.Logger
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

// httpStatus maps the engine's error taxonomy to HTTP status codes.
func httpStatus(err error) int {
	switch {
	case errors.Is(err, engine.ErrUnauthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, engine.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, engine.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, engine.ErrConflict), errors.Is(err, engine.ErrInvalidState):
		return http.StatusConflict
	case errors.Is(err, engine.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, content.ErrTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, content.ErrUnsupportedType):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := httpStatus(err)
	body := ErrorResponse{Error: http.StatusText(status)}
	// Internal details stay on the server side.
	if status != http.StatusInternalServerError {
		body.Details = err.Error()
	}
	writeJSON(w, status, body)
}

func (h *Handlers) logError(r *http.Request, err error) {
	if !engine.IsClientError(err) && !errors.Is(err, engine.ErrUnauthenticated) {
		h.Logger.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err))
	}
}

func decodeBody(r *http.Request, v interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return &engine.ValidationError{Field: "body", Message: "malformed JSON"}
	}
	return nil
}

func numberParam(r *http.Request) (int, error) {
	raw := chi.URLParam(r, "number")
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, &engine.ValidationError{Field: "number", Message: "must be a positive integer"}
	}
	return n, nil
}

// =============================================================================
// HEALTH
// =============================================================================

func (h *Handlers) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

// =============================================================================
// AUTH
// =============================================================================

func (h *Handlers) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}

	user, err := h.Auth.Register(r.Context(), auth.Registration{
		DNI:        req.DNI,
		Email:      req.Email,
		Password:   req.Password,
		Name:       req.Name,
		Surname:    req.Surname,
		Phone:      req.Phone,
		Plan:       req.Plan,
		Address:    req.Address,
		Locality:   req.Locality,
		PostalCode: req.PostalCode,
	})
	if err != nil {
		h.logError(r, err)
		writeError(w, err)
		return
	}

	h.respondWithToken(w, r, engine.Principal{ID: user.ID, Role: engine.RoleClient}, toUserDTO(user), http.StatusCreated)
}

func (h *Handlers) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}

	user, err := h.Auth.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		h.logError(r, err)
		writeError(w, err)
		return
	}

	h.respondWithToken(w, r, engine.Principal{ID: user.ID, Role: engine.RoleClient}, toUserDTO(user), http.StatusOK)
}

func (h *Handlers) handleAdminLogin(w http.ResponseWriter, r *http.Request) {
	var req AdminLoginRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	role := engine.Role(req.Role)
	if !role.IsAdmin() {
		writeError(w, &engine.ValidationError{Field: "role", Message: "unknown admin role"})
		return
	}

	admin, err := h.Auth.AdminLogin(r.Context(), req.Username, req.Password, role)
	if err != nil {
		h.logError(r, err)
		writeError(w, err)
		return
	}

	dto := UserDTO{ID: admin.ID, Role: string(admin.Role), Name: admin.Name}
	h.respondWithToken(w, r, engine.Principal{ID: admin.ID, Role: admin.Role}, dto, http.StatusOK)
}

func (h *Handlers) respondWithToken(w http.ResponseWriter, r *http.Request, p engine.Principal, dto UserDTO, status int) {
	token, err := h.Tokens.Issue(p, dto.Email)
	if err != nil {
		h.logError(r, err)
		writeError(w, err)
		return
	}
	writeJSON(w, status, AuthResponse{Token: token, User: dto})
}

// =============================================================================
// CLIENT: INSTALLMENTS AND REWARDS
// =============================================================================

// handleSubmitInstallment accepts a multipart upload with a "receipt"
// part and records the installment for the authenticated client.
func (h *Handlers) handleSubmitInstallment(w http.ResponseWriter, r *http.Request) {
	principal, _ := principalFrom(r.Context())

	number, err := numberParam(r)
	if err != nil {
		writeError(w, err)
		return
	}

	// Refuse oversized bodies before buffering them. The extra MiB
	// covers multipart framing and the form fields around the file.
	r.Body = http.MaxBytesReader(w, r.Body, content.MaxReceiptSize+(1<<20))
	if err := r.ParseMultipartForm(content.MaxReceiptSize); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, content.ErrTooLarge)
			return
		}
		writeError(w, &engine.ValidationError{Field: "receipt", Message: "malformed multipart body"})
		return
	}
	file, header, err := r.FormFile("receipt")
	if err != nil {
		writeError(w, &engine.ValidationError{Field: "receipt", Message: "receipt file is required"})
		return
	}
	defer file.Close()

	amount := decimal.Zero
	if raw := r.FormValue("amount"); raw != "" {
		amount, err = decimal.NewFromString(raw)
		if err != nil {
			writeError(w, &engine.ValidationError{Field: "amount", Message: "must be a decimal number"})
			return
		}
	}

	ref, err := h.Receipts.Store(r.Context(), file, header.Filename)
	if err != nil {
		h.logError(r, err)
		writeError(w, err)
		return
	}

	inst, err := h.Ledger.Submit(r.Context(), principal.ID, number, ref, amount)
	if err != nil {
		h.logError(r, err)
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, toInstallmentDTO(inst))
}

func (h *Handlers) handleListMyInstallments(w http.ResponseWriter, r *http.Request) {
	principal, _ := principalFrom(r.Context())

	installments, err := h.Ledger.ListByUser(r.Context(), principal.ID)
	if err != nil {
		h.logError(r, err)
		writeError(w, err)
		return
	}

	dtos := make([]InstallmentDTO, 0, len(installments))
	for i := range installments {
		dtos = append(dtos, toInstallmentDTO(&installments[i]))
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handlers) handleListMyRewards(w http.ResponseWriter, r *http.Request) {
	principal, _ := principalFrom(r.Context())

	rewards, err := h.Rewards.ListByUser(r.Context(), principal.ID)
	if err != nil {
		h.logError(r, err)
		writeError(w, err)
		return
	}

	dtos := make([]RewardDTO, 0, len(rewards))
	for i := range rewards {
		dtos = append(dtos, toRewardDTO(&rewards[i]))
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handlers) handleClaimReward(w http.ResponseWriter, r *http.Request) {
	principal, _ := principalFrom(r.Context())

	number, err := numberParam(r)
	if err != nil {
		writeError(w, err)
		return
	}

	reward, err := h.Rewards.Claim(r.Context(), principal, principal.ID, number)
	if err != nil {
		h.logError(r, err)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toRewardDTO(reward))
}

// =============================================================================
// ADMIN: REVIEW QUEUE
// =============================================================================

func (h *Handlers) handleListInstallments(w http.ResponseWriter, r *http.Request) {
	state := engine.State(r.URL.Query().Get("state"))
	if state == "" {
		state = engine.StatePending
	}

	installments, err := h.Ledger.ListByState(r.Context(), state)
	if err != nil {
		h.logError(r, err)
		writeError(w, err)
		return
	}

	items := make([]ReviewItemDTO, 0, len(installments))
	for i := range installments {
		item := ReviewItemDTO{Installment: toInstallmentDTO(&installments[i])}
		if user, err := h.Auth.Store.GetUserByID(r.Context(), installments[i].UserID); err == nil && user != nil {
			dto := toUserDTO(user)
			item.User = &dto
		}
		items = append(items, item)
	}
	writeJSON(w, http.StatusOK, items)
}

func (h *Handlers) handleApprove(w http.ResponseWriter, r *http.Request) {
	principal, _ := principalFrom(r.Context())
	userID := chi.URLParam(r, "userID")

	number, err := numberParam(r)
	if err != nil {
		writeError(w, err)
		return
	}

	inst, err := h.Workflow.Approve(r.Context(), principal, userID, number)
	if err != nil {
		h.logError(r, err)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toInstallmentDTO(inst))
}

func (h *Handlers) handleReject(w http.ResponseWriter, r *http.Request) {
	principal, _ := principalFrom(r.Context())
	userID := chi.URLParam(r, "userID")

	number, err := numberParam(r)
	if err != nil {
		writeError(w, err)
		return
	}

	var req RejectRequest
	if r.ContentLength > 0 {
		if err := decodeBody(r, &req); err != nil {
			writeError(w, err)
			return
		}
	}

	inst, err := h.Workflow.Reject(r.Context(), principal, userID, number, req.Reason)
	if err != nil {
		h.logError(r, err)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toInstallmentDTO(inst))
}

// =============================================================================
// ADMIN: REWARD DISPATCH
// =============================================================================

func (h *Handlers) handleDispatchReward(w http.ResponseWriter, r *http.Request) {
	h.forwardReward(w, r, engine.StatusDispatched)
}

func (h *Handlers) handleDeliverReward(w http.ResponseWriter, r *http.Request) {
	h.forwardReward(w, r, engine.StatusDelivered)
}

func (h *Handlers) forwardReward(w http.ResponseWriter, r *http.Request, to engine.RewardStatus) {
	principal, _ := principalFrom(r.Context())
	userID := chi.URLParam(r, "userID")

	number, err := numberParam(r)
	if err != nil {
		writeError(w, err)
		return
	}

	reward, err := h.Rewards.Forward(r.Context(), principal, userID, number, to)
	if err != nil {
		h.logError(r, err)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toRewardDTO(reward))
}

// =============================================================================
// ADMIN: REPORTING
// =============================================================================

func (h *Handlers) handleListClients(w http.ResponseWriter, r *http.Request) {
	users, err := h.Auth.Store.ListUsers(r.Context())
	if err != nil {
		h.logError(r, err)
		writeError(w, err)
		return
	}

	clients := make([]ClientDTO, 0, len(users))
	for i := range users {
		counts, err := h.Stats.CountsForUser(r.Context(), users[i].ID)
		if err != nil {
			h.logError(r, err)
			writeError(w, err)
			return
		}
		clients = append(clients, ClientDTO{
			UserDTO:   toUserDTO(&users[i]),
			Pending:   counts.Pending,
			Validated: counts.Validated,
			Rejected:  counts.Rejected,
		})
	}
	writeJSON(w, http.StatusOK, clients)
}

func (h *Handlers) handleStats(w http.ResponseWriter, r *http.Request) {
	snapshot, err := h.Stats.Snapshot(r.Context())
	if err != nil {
		h.logError(r, err)
		writeError(w, err)
		return
	}
	totalUsers, err := h.Auth.Store.CountUsers(r.Context())
	if err != nil {
		h.logError(r, err)
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, StatsDTO{
		TotalUsers:            totalUsers,
		InstallmentsPending:   snapshot.InstallmentsPending,
		InstallmentsValidated: snapshot.InstallmentsValidated,
		InstallmentsRejected:  snapshot.InstallmentsRejected,
		RewardsTotal:          snapshot.RewardsTotal,
		AuditWriteFailures:    snapshot.AuditWriteFailures,
	})
}

// handleListAudit serves the audit trail filtered by actor or date
// range. Without filters it returns the last 30 days.
func (h *Handlers) handleListAudit(w http.ResponseWriter, r *http.Request) {
	var (
		entries []engine.AuditEntry
		err     error
	)

	if actor := r.URL.Query().Get("actor"); actor != "" {
		entries, err = h.Audit.ListByActor(r.Context(), actor)
	} else {
		to := time.Now().UTC()
		from := to.AddDate(0, 0, -30)
		if raw := r.URL.Query().Get("from"); raw != "" {
			from, err = time.Parse(time.RFC3339, raw)
			if err != nil {
				writeError(w, &engine.ValidationError{Field: "from", Message: "must be RFC 3339"})
				return
			}
		}
		if raw := r.URL.Query().Get("to"); raw != "" {
			to, err = time.Parse(time.RFC3339, raw)
			if err != nil {
				writeError(w, &engine.ValidationError{Field: "to", Message: "must be RFC 3339"})
				return
			}
		}
		entries, err = h.Audit.ListByDateRange(r.Context(), from, to)
	}
	if err != nil {
		h.logError(r, err)
		writeError(w, err)
		return
	}

	dtos := make([]AuditEntryDTO, 0, len(entries))
	for _, e := range entries {
		dtos = append(dtos, toAuditEntryDTO(e))
	}
	writeJSON(w, http.StatusOK, dtos)
}
