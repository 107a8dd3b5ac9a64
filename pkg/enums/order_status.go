package enums

// OrderStatus maps to the order_status enum in Postgres.
type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusPaid      OrderStatus = "paid"
	OrderStatusCancelled OrderStatus = "cancelled"
	OrderStatusFailed    OrderStatus = "failed"
	OrderStatusRefunded  OrderStatus = "refunded"
	OrderStatusExpired   OrderStatus = "expired"
)

var orderStatuses = []OrderStatus{
	OrderStatusPending,
	OrderStatusPaid,
	OrderStatusCancelled,
	OrderStatusFailed,
	OrderStatusRefunded,
	OrderStatusExpired,
}

func (s OrderStatus) String() string { return string(s) }

func (s OrderStatus) IsValid() bool {
	_, err := ParseOrderStatus(string(s))
	return err == nil
}

// IsTerminal reports whether no buyer action can move the order further.
func (s OrderStatus) IsTerminal() bool {
	return s.IsValid() && s != OrderStatusPending
}

// ReleasesInventory reports whether reaching this status returns seats to the ledger.
func (s OrderStatus) ReleasesInventory() bool {
	switch s {
	case OrderStatusCancelled, OrderStatusFailed, OrderStatusExpired:
		return true
	default:
		return false
	}
}

func ParseOrderStatus(value string) (OrderStatus, error) {
	return parse("order status", value, orderStatuses)
}
