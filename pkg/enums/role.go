package enums

// UserRole is the caller role carried in access tokens.
type UserRole string

const (
	UserRoleBuyer UserRole = "buyer"
	UserRoleStaff UserRole = "staff"
	UserRoleAdmin UserRole = "admin"
)

var userRoles = []UserRole{UserRoleBuyer, UserRoleStaff, UserRoleAdmin}

func (r UserRole) IsValid() bool {
	_, err := ParseUserRole(string(r))
	return err == nil
}

func ParseUserRole(value string) (UserRole, error) {
	return parse("user role", value, userRoles)
}
