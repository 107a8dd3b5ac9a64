package auth

import (
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/angelmondragon/ticketbooth/pkg/enums"
)

var errNoSubject = errors.New("token has no user id")

// AccessTokenPayload is what the identity side knows when issuing a token.
type AccessTokenPayload struct {
	UserID uuid.UUID
	Role   enums.UserRole
	JTI    string
}

// AccessTokenClaims is the JWT body the API accepts. Validate runs after the
// library's registered-claim checks.
type AccessTokenClaims struct {
	UserID uuid.UUID      `json:"user_id"`
	Role   enums.UserRole `json:"role"`
	jwt.RegisteredClaims
}

func (c AccessTokenClaims) Validate() error {
	if c.UserID == uuid.Nil {
		return errNoSubject
	}
	if !c.Role.IsValid() {
		return fmt.Errorf("token role %q is not recognised", c.Role)
	}
	return nil
}
