package domain

// MemberRole is the fixed recruitment rank assigned at registration.
type MemberRole string

const (
	RoleAdmin       MemberRole = "ADMIN"
	RoleLeader      MemberRole = "LEADER"
	RoleDistributor MemberRole = "DISTRIBUTOR"
	RoleCustomer    MemberRole = "CUSTOMER"
)

func (r MemberRole) Valid() bool {
	switch r {
	case RoleAdmin, RoleLeader, RoleDistributor, RoleCustomer:
		return true
	default:
		return false
	}
}

type MemberStatus string

const (
	MemberPending   MemberStatus = "PENDING"
	MemberActive    MemberStatus = "ACTIVE"
	MemberRejected  MemberStatus = "REJECTED"
	MemberSuspended MemberStatus = "SUSPENDED"
	MemberDeleted   MemberStatus = "DELETED"
)

type OrderStatus string

const (
	OrderPending   OrderStatus = "PENDING"
	OrderConfirmed OrderStatus = "CONFIRMED"
	OrderCompleted OrderStatus = "COMPLETED"
	OrderCancelled OrderStatus = "CANCELLED"
	OrderRefunded  OrderStatus = "REFUNDED"
)

// IsPaid reports whether an order in this status is eligible for commission distribution.
func (s OrderStatus) IsPaid() bool {
	return s == OrderConfirmed || s == OrderCompleted
}

type PaymentStatus string

const (
	PaymentUnpaid   PaymentStatus = "UNPAID"
	PaymentPaid     PaymentStatus = "PAID"
	PaymentRefunded PaymentStatus = "REFUNDED"
)

type PendingOrderStatus string

const (
	PendingAwaitingPayment PendingOrderStatus = "AWAITING_PAYMENT"
	PendingPaid            PendingOrderStatus = "PAID"
	PendingConverted       PendingOrderStatus = "CONVERTED"
	PendingCancelled       PendingOrderStatus = "CANCELLED"
)

type CommissionStatus string

const (
	CommissionPending   CommissionStatus = "PENDING"
	CommissionApproved  CommissionStatus = "APPROVED"
	CommissionRejected  CommissionStatus = "REJECTED"
	CommissionPaid      CommissionStatus = "PAID"
	CommissionCancelled CommissionStatus = "CANCELLED"
)

type WithdrawalStatus string

const (
	WithdrawalPending    WithdrawalStatus = "PENDING"
	WithdrawalProcessing WithdrawalStatus = "PROCESSING"
	WithdrawalCompleted  WithdrawalStatus = "COMPLETED"
	WithdrawalRejected   WithdrawalStatus = "REJECTED"
)

type BankMatchStatus string

const (
	BankUnmatched      BankMatchStatus = "UNMATCHED"
	BankMatched        BankMatchStatus = "MATCHED"
	BankAmountMismatch BankMatchStatus = "AMOUNT_MISMATCH"
	BankDuplicate      BankMatchStatus = "DUPLICATE"
	BankIgnored        BankMatchStatus = "IGNORED"
)

// LedgerEntryType classifies wallet transactions.
type LedgerEntryType string

const (
	EntryCommission         LedgerEntryType = "COMMISSION"
	EntryCommissionReversal LedgerEntryType = "COMMISSION_REVERSAL"
	EntryWithdrawal         LedgerEntryType = "WITHDRAWAL"
	EntryAdjustment         LedgerEntryType = "ADJUSTMENT"
)

// Audit entity types.
const (
	EntityMember       = "member"
	EntityOrder        = "order"
	EntityPendingOrder = "pending_order"
	EntityCommission   = "commission"
	EntityWithdrawal   = "withdrawal"
	EntityBankEvent    = "bank_event"
	EntityWallet       = "wallet"
	EntityRateTable    = "commission_rates"
)

const (
	TransferIn  = "in"
	TransferOut = "out"
)
