package enums

// OrderStatus tracks an order through the reservation/payment lifecycle.
// Transitions only move forward; unpaid orders terminate by deletion.
type OrderStatus string

const (
	OrderStatusWaitingForPayment OrderStatus = "WAITING_FOR_PAYMENT"
	OrderStatusPending           OrderStatus = "PENDING"
	OrderStatusApproved          OrderStatus = "APPROVED"
	OrderStatusFulfilled         OrderStatus = "FULFILLED"
)

// IsValid reports whether the status is a known lifecycle state.
func (s OrderStatus) IsValid() bool {
	switch s {
	case OrderStatusWaitingForPayment, OrderStatusPending, OrderStatusApproved, OrderStatusFulfilled:
		return true
	default:
		return false
	}
}

// Payable reports whether a payment intent may still be created for the status.
func (s OrderStatus) Payable() bool {
	return s == OrderStatusWaitingForPayment || s == OrderStatusPending
}

// ActiveHoldStatuses are the states in which an order's ticket items count
// against available stock without stock having been debited yet.
func ActiveHoldStatuses() []OrderStatus {
	return []OrderStatus{OrderStatusWaitingForPayment, OrderStatusPending}
}
