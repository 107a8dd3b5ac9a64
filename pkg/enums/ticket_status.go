package enums

// TicketStatus maps to the ticket_status enum in Postgres.
type TicketStatus string

const (
	TicketStatusPending TicketStatus = "pending"
	TicketStatusActive  TicketStatus = "active"
	TicketStatusUsed    TicketStatus = "used"
	TicketStatusVoid    TicketStatus = "void"
)

var ticketStatuses = []TicketStatus{
	TicketStatusPending,
	TicketStatusActive,
	TicketStatusUsed,
	TicketStatusVoid,
}

func (s TicketStatus) IsValid() bool {
	_, err := ParseTicketStatus(string(s))
	return err == nil
}

// HoldsSeat reports whether the ticket still accounts for a unit of tier inventory.
func (s TicketStatus) HoldsSeat() bool {
	return s == TicketStatusPending || s == TicketStatusActive
}

func ParseTicketStatus(value string) (TicketStatus, error) {
	return parse("ticket status", value, ticketStatuses)
}
