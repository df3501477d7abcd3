/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types
  decouple the internal domain model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

VALIDATION:
  Validation is done in handlers and the engine, not in DTOs. DTOs are
  pure data carriers.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/promomundial/verification-engine/auth"
	"github.com/promomundial/verification-engine/engine"
)

// =============================================================================
// AUTH
// =============================================================================

// RegisterRequest is the client registration payload.
type RegisterRequest struct {
	DNI        string `json:"dni"`
	Email      string `json:"email"`
	Password   string `json:"password"`
	Name       string `json:"name"`
	Surname    string `json:"surname"`
	Phone      string `json:"phone"`
	Plan       string `json:"plan"`
	Address    string `json:"address"`
	Locality   string `json:"locality"`
	PostalCode string `json:"postal_code"`
}

// LoginRequest is the client login payload.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// AdminLoginRequest is the admin login payload. Role must match the
// actor's provisioned role.
type AdminLoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Role     string `json:"role"`
}

// AuthResponse carries a signed token plus the authenticated identity.
type AuthResponse struct {
	Token string  `json:"token"`
	User  UserDTO `json:"user"`
}

// UserDTO represents a user or admin actor in API responses.
type UserDTO struct {
	ID         string `json:"id"`
	Role       string `json:"role"`
	DNI        string `json:"dni,omitempty"`
	Email      string `json:"email,omitempty"`
	Name       string `json:"name"`
	Surname    string `json:"surname,omitempty"`
	Phone      string `json:"phone,omitempty"`
	Plan       string `json:"plan,omitempty"`
	Address    string `json:"address,omitempty"`
	Locality   string `json:"locality,omitempty"`
	PostalCode string `json:"postal_code,omitempty"`
	CreatedAt  string `json:"created_at,omitempty"`
}

func toUserDTO(u *auth.User) UserDTO {
	return UserDTO{
		ID:         u.ID,
		Role:       string(engine.RoleClient),
		DNI:        u.DNI,
		Email:      u.Email,
		Name:       u.Name,
		Surname:    u.Surname,
		Phone:      u.Phone,
		Plan:       u.Plan,
		Address:    u.Address,
		Locality:   u.Locality,
		PostalCode: u.PostalCode,
		CreatedAt:  u.CreatedAt.Format(time.RFC3339),
	}
}

// =============================================================================
// INSTALLMENTS
// =============================================================================

// InstallmentDTO represents an installment in API responses.
type InstallmentDTO struct {
	UserID          string  `json:"user_id"`
	Number          int     `json:"number"`
	State           string  `json:"state"`
	ReceiptRef      string  `json:"receipt_ref"`
	Amount          string  `json:"amount"`
	SubmittedAt     string  `json:"submitted_at"`
	DecidedAt       *string `json:"decided_at,omitempty"`
	DecidedBy       *string `json:"decided_by,omitempty"`
	RejectionReason *string `json:"rejection_reason,omitempty"`
}

func toInstallmentDTO(inst *engine.Installment) InstallmentDTO {
	dto := InstallmentDTO{
		UserID:          inst.UserID,
		Number:          inst.Number,
		State:           string(inst.State),
		ReceiptRef:      inst.ReceiptRef,
		Amount:          inst.Amount.String(),
		SubmittedAt:     inst.SubmittedAt.Format(time.RFC3339),
		DecidedBy:       inst.DecidedBy,
		RejectionReason: inst.RejectionReason,
	}
	if inst.DecidedAt != nil {
		s := inst.DecidedAt.Format(time.RFC3339)
		dto.DecidedAt = &s
	}
	return dto
}

// ReviewItemDTO is one pending installment enriched with the applicant
// for the admin review queue.
type ReviewItemDTO struct {
	Installment InstallmentDTO `json:"installment"`
	User        *UserDTO       `json:"user,omitempty"`
}

// RejectRequest carries the rejection reason. Empty is allowed; the
// workflow substitutes its fixed placeholder.
type RejectRequest struct {
	Reason string `json:"reason"`
}

// =============================================================================
// REWARDS
// =============================================================================

// RewardDTO represents a reward in API responses.
type RewardDTO struct {
	ID        string `json:"id"`
	UserID    string `json:"user_id"`
	Number    int    `json:"number"`
	Status    string `json:"status"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

func toRewardDTO(r *engine.Reward) RewardDTO {
	return RewardDTO{
		ID:        r.ID,
		UserID:    r.UserID,
		Number:    r.Number,
		Status:    string(r.Status),
		CreatedAt: r.CreatedAt.Format(time.RFC3339),
		UpdatedAt: r.UpdatedAt.Format(time.RFC3339),
	}
}

// =============================================================================
// REPORTING
// =============================================================================

// ClientDTO is one row of the admin client listing.
type ClientDTO struct {
	UserDTO
	Pending   int `json:"pending"`
	Validated int `json:"validated"`
	Rejected  int `json:"rejected"`
}

// StatsDTO is the aggregate snapshot for the admin dashboard.
type StatsDTO struct {
	TotalUsers            int   `json:"total_users"`
	InstallmentsPending   int   `json:"installments_pending"`
	InstallmentsValidated int   `json:"installments_validated"`
	InstallmentsRejected  int   `json:"installments_rejected"`
	RewardsTotal          int   `json:"rewards_total"`
	AuditWriteFailures    int64 `json:"audit_write_failures"`
}

// AuditEntryDTO represents one audit record.
type AuditEntryDTO struct {
	ID      string  `json:"id"`
	ActorID *string `json:"actor_id,omitempty"`
	Action  string  `json:"action"`
	UserID  string  `json:"user_id"`
	Number  int     `json:"number"`
	Outcome string  `json:"outcome"`
	At      string  `json:"at"`
}

func toAuditEntryDTO(e engine.AuditEntry) AuditEntryDTO {
	return AuditEntryDTO{
		ID:      e.ID,
		ActorID: e.ActorID,
		Action:  string(e.Action),
		UserID:  e.UserID,
		Number:  e.Number,
		Outcome: e.Outcome,
		At:      e.At.Format(time.RFC3339),
	}
}

// ErrorResponse is the uniform error body.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
