package orders

import (
	"fmt"
	"time"

	"github.com/angelmondragon/ticketbooth/pkg/security"
)

// NewOrderNumber returns TB-YYYYMMDD-XXXXXXXX with 40 random bits in the suffix.
// Collisions surface as a unique violation on orders_order_number_key.
func NewOrderNumber(now time.Time) (string, error) {
	suffix, err := security.RandomCode(5)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("TB-%s-%s", now.UTC().Format("20060102"), suffix), nil
}
