package enums

import "testing"

func TestOrderStatusPredicates(t *testing.T) {
	cases := []struct {
		status   OrderStatus
		terminal bool
		releases bool
	}{
		{OrderStatusPending, false, false},
		{OrderStatusPaid, true, false},
		{OrderStatusCancelled, true, true},
		{OrderStatusFailed, true, true},
		{OrderStatusRefunded, true, false},
		{OrderStatusExpired, true, true},
		{OrderStatus("bogus"), false, false},
	}
	for _, tc := range cases {
		if got := tc.status.IsTerminal(); got != tc.terminal {
			t.Fatalf("%s terminal: expected %v got %v", tc.status, tc.terminal, got)
		}
		if got := tc.status.ReleasesInventory(); got != tc.releases {
			t.Fatalf("%s releases: expected %v got %v", tc.status, tc.releases, got)
		}
	}
}

func TestParseRejectsUnknownValues(t *testing.T) {
	if _, err := ParseOrderStatus("shipped"); err == nil {
		t.Fatal("expected error for unknown order status")
	}
	if _, err := ParseTicketStatus("lost"); err == nil {
		t.Fatal("expected error for unknown ticket status")
	}
	if _, err := ParseOutboxEventType("order_shipped"); err == nil {
		t.Fatal("expected error for unknown event type")
	}
	if got, err := ParseOutboxEventType("ticket_issuance_requested"); err != nil || got != EventTicketIssuanceRequested {
		t.Fatalf("unexpected parse result %q %v", got, err)
	}
}

func TestTicketStatusHoldsSeat(t *testing.T) {
	if !TicketStatusPending.HoldsSeat() || !TicketStatusActive.HoldsSeat() {
		t.Fatal("pending and active tickets hold a seat")
	}
	if TicketStatusVoid.HoldsSeat() || TicketStatusUsed.HoldsSeat() {
		t.Fatal("void and used tickets do not hold a releasable seat")
	}
}

func TestOrderLifecycleEvents(t *testing.T) {
	if !EventOrderRefunded.IsOrderLifecycle() || !EventOrderCreated.IsOrderLifecycle() {
		t.Fatal("order events should be lifecycle events")
	}
	if EventTicketIssuanceRequested.IsOrderLifecycle() || EventNotificationRequested.IsOrderLifecycle() {
		t.Fatal("work requests are not lifecycle events")
	}
}

func TestDLQReasonAndRoleValidity(t *testing.T) {
	if !OutboxDLQReasonUnroutable.IsValid() || OutboxDLQErrorReason("timeout").IsValid() {
		t.Fatal("unexpected dlq reason validity")
	}
	if role, err := ParseUserRole("staff"); err != nil || role != UserRoleStaff {
		t.Fatalf("staff should parse, got %q %v", role, err)
	}
	if UserRole("owner").IsValid() {
		t.Fatal("unknown roles are invalid")
	}
}
