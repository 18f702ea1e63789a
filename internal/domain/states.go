package domain

import "fmt"

// StateMachine is a fixed transition table for one lifecycle. Any transition not listed is rejected.
type StateMachine[S ~string] struct {
	entity      string
	transitions map[S]map[S]struct{}
}

func newStateMachine[S ~string](entity string, table map[S][]S) StateMachine[S] {
	transitions := make(map[S]map[S]struct{}, len(table))
	for from, targets := range table {
		set := make(map[S]struct{}, len(targets))
		for _, to := range targets {
			set[to] = struct{}{}
		}
		transitions[from] = set
	}
	return StateMachine[S]{entity: entity, transitions: transitions}
}

// Known reports whether state belongs to this lifecycle.
func (m StateMachine[S]) Known(state S) bool {
	_, ok := m.transitions[state]
	return ok
}

func (m StateMachine[S]) CanTransition(from, to S) bool {
	next, ok := m.transitions[from]
	if !ok {
		return false
	}
	_, ok = next[to]
	return ok
}

// IsTerminal reports whether no transition leaves state.
func (m StateMachine[S]) IsTerminal(state S) bool {
	next, ok := m.transitions[state]
	return ok && len(next) == 0
}

// Validate returns ErrInvalidTransition (a Conflict) when from -> to is not in the table.
func (m StateMachine[S]) Validate(from, to S) error {
	if m.CanTransition(from, to) {
		return nil
	}
	return fmt.Errorf("%w: %s %s -> %s", ErrInvalidTransition, m.entity, from, to)
}

var MemberStates = newStateMachine("member", map[MemberStatus][]MemberStatus{
	MemberPending:   {MemberActive, MemberRejected},
	MemberActive:    {MemberSuspended, MemberDeleted},
	MemberSuspended: {MemberActive, MemberDeleted},
	MemberRejected:  {MemberDeleted},
	MemberDeleted:   {},
})

var OrderStates = newStateMachine("order", map[OrderStatus][]OrderStatus{
	OrderPending:   {OrderConfirmed, OrderCancelled},
	OrderConfirmed: {OrderCompleted, OrderCancelled, OrderRefunded},
	OrderCompleted: {OrderCancelled, OrderRefunded},
	OrderCancelled: {},
	OrderRefunded:  {},
})

var PendingOrderStates = newStateMachine("pending order", map[PendingOrderStatus][]PendingOrderStatus{
	PendingAwaitingPayment: {PendingPaid, PendingCancelled},
	PendingPaid:            {PendingConverted},
	PendingConverted:       {},
	PendingCancelled:       {},
})

var CommissionStates = newStateMachine("commission", map[CommissionStatus][]CommissionStatus{
	CommissionPending:   {CommissionApproved, CommissionRejected, CommissionCancelled},
	CommissionApproved:  {CommissionPaid, CommissionCancelled},
	CommissionPaid:      {},
	CommissionRejected:  {},
	CommissionCancelled: {},
})

var WithdrawalStates = newStateMachine("withdrawal", map[WithdrawalStatus][]WithdrawalStatus{
	WithdrawalPending:    {WithdrawalProcessing, WithdrawalRejected},
	WithdrawalProcessing: {WithdrawalCompleted},
	WithdrawalCompleted:  {},
	WithdrawalRejected:   {},
})
