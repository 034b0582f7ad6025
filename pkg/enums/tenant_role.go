package enums

import "fmt"

// TenantRole is the caller's role inside a tenant, carried on the access token.
type TenantRole string

const (
	TenantRoleAdmin    TenantRole = "admin"
	TenantRoleManager  TenantRole = "manager"
	TenantRoleResident TenantRole = "resident"
)

var validTenantRoles = []TenantRole{
	TenantRoleAdmin,
	TenantRoleManager,
	TenantRoleResident,
}

// String implements fmt.Stringer.
func (r TenantRole) String() string {
	return string(r)
}

// IsValid reports whether the value is a known TenantRole.
func (r TenantRole) IsValid() bool {
	for _, candidate := range validTenantRoles {
		if candidate == r {
			return true
		}
	}
	return false
}

// ParseTenantRole converts raw input into a TenantRole.
func ParseTenantRole(value string) (TenantRole, error) {
	for _, candidate := range validTenantRoles {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid tenant role %q", value)
}
