package outbox

import "time"

// Kind names the compensating call an action performs
type Kind string

const (
	KindConfirmReservation Kind = "confirm_reservation"
	KindReleaseReservation Kind = "release_reservation"
	KindRefundPayment      Kind = "refund_payment"
)

// Status is where an action is in its retry lifecycle. Sent actions are
// removed from the store, so they have no status of their own.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusDead       Status = "dead"
)

// Action is a compensating call that failed inline and waits to be retried
type Action struct {
	ID            string    `json:"id"`
	Kind          Kind      `json:"kind"`
	OrderID       string    `json:"orderId"`
	ReservationID string    `json:"reservationId,omitempty"`
	PaymentID     string    `json:"paymentId,omitempty"`
	Reason        string    `json:"reason,omitempty"`
	Status        Status    `json:"status"`
	Attempts      int       `json:"attempts"`
	LastError     string    `json:"lastError,omitempty"`
	NextAttemptAt time.Time `json:"nextAttemptAt"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// Target is the id of the reservation or payment the action acts on
func (a Action) Target() string {
	if a.Kind == KindRefundPayment {
		return a.PaymentID
	}
	return a.ReservationID
}
