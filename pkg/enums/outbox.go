package enums

// OutboxAggregateType maps to the aggregate_type enum in Postgres.
type OutboxAggregateType string

const (
	AggregateOrder        OutboxAggregateType = "order"
	AggregateTicket       OutboxAggregateType = "ticket"
	AggregateNotification OutboxAggregateType = "notification"
)

var aggregateTypes = []OutboxAggregateType{AggregateOrder, AggregateTicket, AggregateNotification}

func (a OutboxAggregateType) IsValid() bool {
	_, err := ParseOutboxAggregateType(string(a))
	return err == nil
}

func ParseOutboxAggregateType(value string) (OutboxAggregateType, error) {
	return parse("aggregate type", value, aggregateTypes)
}

// OutboxEventType maps to the event_type enum in Postgres.
type OutboxEventType string

const (
	EventOrderCreated            OutboxEventType = "order_created"
	EventOrderPaid               OutboxEventType = "order_paid"
	EventOrderCancelled          OutboxEventType = "order_cancelled"
	EventOrderFailed             OutboxEventType = "order_failed"
	EventOrderExpired            OutboxEventType = "order_expired"
	EventOrderRefunded           OutboxEventType = "order_refunded"
	EventTicketIssuanceRequested OutboxEventType = "ticket_issuance_requested"
	EventNotificationRequested   OutboxEventType = "notification_requested"
)

var eventTypes = []OutboxEventType{
	EventOrderCreated,
	EventOrderPaid,
	EventOrderCancelled,
	EventOrderFailed,
	EventOrderExpired,
	EventOrderRefunded,
	EventTicketIssuanceRequested,
	EventNotificationRequested,
}

func (e OutboxEventType) IsValid() bool {
	_, err := ParseOutboxEventType(string(e))
	return err == nil
}

// IsOrderLifecycle reports whether the event records an order status change.
func (e OutboxEventType) IsOrderLifecycle() bool {
	switch e {
	case EventOrderCreated, EventOrderPaid, EventOrderCancelled, EventOrderFailed, EventOrderExpired, EventOrderRefunded:
		return true
	default:
		return false
	}
}

// OrderLifecycleEvents lists the status-change events in declaration order.
func OrderLifecycleEvents() []OutboxEventType {
	out := make([]OutboxEventType, 0, len(eventTypes))
	for _, e := range eventTypes {
		if e.IsOrderLifecycle() {
			out = append(out, e)
		}
	}
	return out
}

func ParseOutboxEventType(value string) (OutboxEventType, error) {
	return parse("event type", value, eventTypes)
}
