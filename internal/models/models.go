package models

import (
	"encoding/json"
	"time"

	"github.com/ayo6706/referral-commerce/internal/domain"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Member struct {
	ID         uuid.UUID           `json:"id"`
	Username   string              `json:"username"`
	Email      string              `json:"email"`
	Role       domain.MemberRole   `json:"role"`
	SponsorID  *uuid.UUID          `json:"sponsor_id,omitempty"`
	Status     domain.MemberStatus `json:"status"`
	ApprovedAt *time.Time          `json:"approved_at,omitempty"`
	CreatedAt  time.Time           `json:"created_at"`
	UpdatedAt  time.Time           `json:"updated_at"`
}

// TreeEdge is one closure-table row. Level 0 is the member's self-edge.
type TreeEdge struct {
	AncestorID   uuid.UUID `json:"ancestor_id"`
	DescendantID uuid.UUID `json:"descendant_id"`
	Level        int       `json:"level"`
}

// GraphMember is a member seen from another member's upline or downline.
type GraphMember struct {
	MemberID  uuid.UUID           `json:"member_id"`
	Username  string              `json:"username"`
	Role      domain.MemberRole   `json:"role"`
	Status    domain.MemberStatus `json:"status"`
	Level     int                 `json:"level"`
	SponsorID *uuid.UUID          `json:"sponsor_id,omitempty"`
}

type Wallet struct {
	ID        uuid.UUID `json:"id"`
	MemberID  uuid.UUID `json:"member_id"`
	Balance   int64     `json:"balance"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// WalletTransaction is an append-only ledger line. Amount is signed.
type WalletTransaction struct {
	ID            int64                  `json:"id"`
	WalletID      uuid.UUID              `json:"wallet_id"`
	Type          domain.LedgerEntryType `json:"type"`
	Amount        int64                  `json:"amount"`
	BalanceBefore int64                  `json:"balance_before"`
	BalanceAfter  int64                  `json:"balance_after"`
	Description   string                 `json:"description"`
	Metadata      json.RawMessage        `json:"metadata,omitempty"`
	CreatedAt     time.Time              `json:"created_at"`
}

type PendingOrder struct {
	ID          uuid.UUID                 `json:"id"`
	Code        string                    `json:"code"`
	BuyerID     uuid.UUID                 `json:"buyer_id"`
	Items       json.RawMessage           `json:"items"`
	Shipping    json.RawMessage           `json:"shipping,omitempty"`
	Subtotal    int64                     `json:"subtotal"`
	ShippingFee int64                     `json:"shipping_fee"`
	Discount    int64                     `json:"discount"`
	TotalAmount int64                     `json:"total_amount"`
	Status      domain.PendingOrderStatus `json:"status"`
	OrderID     *uuid.UUID                `json:"order_id,omitempty"`
	ExpiresAt   time.Time                 `json:"expires_at"`
	PaidAt      *time.Time                `json:"paid_at,omitempty"`
	CancelledAt *time.Time                `json:"cancelled_at,omitempty"`
	CreatedAt   time.Time                 `json:"created_at"`
	UpdatedAt   time.Time                 `json:"updated_at"`
}

type Order struct {
	ID             uuid.UUID            `json:"id"`
	Code           string               `json:"code"`
	BuyerID        uuid.UUID            `json:"buyer_id"`
	PendingOrderID *uuid.UUID           `json:"pending_order_id,omitempty"`
	Items          json.RawMessage      `json:"items"`
	TotalAmount    int64                `json:"total_amount"`
	Status         domain.OrderStatus   `json:"status"`
	PaymentStatus  domain.PaymentStatus `json:"payment_status"`
	PaidAt         *time.Time           `json:"paid_at,omitempty"`
	CancelledAt    *time.Time           `json:"cancelled_at,omitempty"`
	CreatedAt      time.Time            `json:"created_at"`
	UpdatedAt      time.Time            `json:"updated_at"`
}

type Commission struct {
	ID            uuid.UUID               `json:"id"`
	BeneficiaryID uuid.UUID               `json:"beneficiary_id"`
	OrderID       uuid.UUID               `json:"order_id"`
	FromUserID    uuid.UUID               `json:"from_user_id"`
	Level         int                     `json:"level"`
	OrderValue    int64                   `json:"order_value"`
	Rate          decimal.Decimal         `json:"rate"`
	RateVersion   int                     `json:"rate_version"`
	Amount        int64                   `json:"amount"`
	Period        string                  `json:"period"`
	Status        domain.CommissionStatus `json:"status"`
	CreatedAt     time.Time               `json:"created_at"`
	UpdatedAt     time.Time               `json:"updated_at"`
}

type BankTransactionEvent struct {
	ID              uuid.UUID              `json:"id"`
	ExternalID      string                 `json:"external_id"`
	Gateway         string                 `json:"gateway"`
	AccountNumber   string                 `json:"account_number"`
	TransferType    string                 `json:"transfer_type"`
	Content         string                 `json:"content"`
	Amount          int64                  `json:"amount"`
	TransactionDate time.Time              `json:"transaction_date"`
	Processed       bool                   `json:"processed"`
	MatchStatus     domain.BankMatchStatus `json:"match_status"`
	OrderID         *uuid.UUID             `json:"order_id,omitempty"`
	Note            string                 `json:"note,omitempty"`
	ProcessedAt     *time.Time             `json:"processed_at,omitempty"`
	CreatedAt       time.Time              `json:"created_at"`
}

type BankInfo struct {
	BankName      string `json:"bank_name"`
	AccountNumber string `json:"account_number"`
	AccountHolder string `json:"account_holder"`
}

type WithdrawalRequest struct {
	ID          uuid.UUID               `json:"id"`
	MemberID    uuid.UUID               `json:"member_id"`
	Amount      int64                   `json:"amount"`
	Bank        BankInfo                `json:"bank"`
	Status      domain.WithdrawalStatus `json:"status"`
	Note        string                  `json:"note,omitempty"`
	ReviewedBy  *uuid.UUID              `json:"reviewed_by,omitempty"`
	ApprovedAt  *time.Time              `json:"approved_at,omitempty"`
	CompletedAt *time.Time              `json:"completed_at,omitempty"`
	RejectedAt  *time.Time              `json:"rejected_at,omitempty"`
	CreatedAt   time.Time               `json:"created_at"`
	UpdatedAt   time.Time               `json:"updated_at"`
}

type AuditEntry struct {
	ID         int64           `json:"id"`
	EntityType string          `json:"entity_type"`
	EntityID   uuid.UUID       `json:"entity_id"`
	ActorID    *uuid.UUID      `json:"actor_id,omitempty"`
	Action     string          `json:"action"`
	PrevState  string          `json:"prev_state,omitempty"`
	NextState  string          `json:"next_state,omitempty"`
	Metadata   json.RawMessage `json:"metadata,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
}
