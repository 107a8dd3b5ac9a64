package orders

import "github.com/angelmondragon/ticketbooth/pkg/enums"

// Decision is the outcome of asking whether an order may move between two states.
type Decision int

const (
	// Reject means the pair is never legal, whatever the order's history.
	Reject Decision = iota
	// Apply means the transition should be persisted.
	Apply
	// NoOp means the order already settled; replays land here.
	NoOp
)

func (d Decision) String() string {
	switch d {
	case Apply:
		return "apply"
	case NoOp:
		return "noop"
	default:
		return "reject"
	}
}

// Transition is total over every pair of values, valid or not.
//
//	pending -> paid | cancelled | failed | expired
//	paid    -> refunded
//
// Any other move out of a settled state is a NoOp so replayed processor
// events succeed without effect. Moves into pending, unknown states and
// refunding an unpaid order are rejected.
func Transition(from, to enums.OrderStatus) Decision {
	if !from.IsValid() || !to.IsValid() || to == enums.OrderStatusPending {
		return Reject
	}
	if from == to {
		return NoOp
	}
	switch from {
	case enums.OrderStatusPending:
		if to == enums.OrderStatusRefunded {
			return Reject
		}
		return Apply
	case enums.OrderStatusPaid:
		if to == enums.OrderStatusRefunded {
			return Apply
		}
		return NoOp
	default:
		return NoOp
	}
}
