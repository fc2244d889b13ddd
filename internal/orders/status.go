package orders

type Status string

const (
	StatusPending Status = "PENDING"
	StatusPaid    Status = "PAID"
	StatusFailed  Status = "FAILED"
)

var validNext = map[Status]map[Status]bool{
	StatusPending: {StatusPaid: true, StatusFailed: true},
	StatusPaid:    {},
	StatusFailed:  {},
}

func CanTransition(from, to Status) bool {
	return validNext[from][to]
}

func (s Status) Terminal() bool { return s == StatusPaid || s == StatusFailed }

type PaymentStatus string

const (
	PaymentSucceeded PaymentStatus = "SUCCEEDED"
	PaymentFailed    PaymentStatus = "FAILED"
)

type RefundStatus string

const (
	RefundRequested RefundStatus = "REQUESTED"
	RefundProcessed RefundStatus = "PROCESSED"
	RefundFailed    RefundStatus = "FAILED"
)

var validRefundNext = map[RefundStatus]map[RefundStatus]bool{
	RefundRequested: {RefundProcessed: true, RefundFailed: true},
	RefundProcessed: {},
	RefundFailed:    {},
}

func CanTransitionRefund(from, to RefundStatus) bool {
	return validRefundNext[from][to]
}

// GuardOrder is the first check of every task touching an order.
// It returns ErrTerminal when the order already left PENDING.
func GuardOrder(o Order) error {
	if o.Status.Terminal() {
		return &TerminalError{Entity: "order", ID: o.ID, Status: string(o.Status)}
	}
	return nil
}

// GuardRefund is the refund counterpart of GuardOrder.
func GuardRefund(r Refund) error {
	if r.Status != RefundRequested {
		return &TerminalError{Entity: "refund", ID: r.ID, Status: string(r.Status)}
	}
	return nil
}
