package domain

// Role is the tenant-level role of a user. Closed set; validated at
// every boundary that accepts a role string.
type Role string

const (
	RoleStaff    Role = "Staff"
	RoleManager  Role = "Manager"
	RoleBA       Role = "BA"
	RolePM       Role = "PM"
	RoleDirector Role = "Director"
	RoleCEO      Role = "CEO"
	RoleAdmin    Role = "Admin"
)

var allRoles = map[Role]struct{}{
	RoleStaff: {}, RoleManager: {}, RoleBA: {}, RolePM: {},
	RoleDirector: {}, RoleCEO: {}, RoleAdmin: {},
}

func ParseRole(s string) (Role, bool) {
	_, ok := allRoles[Role(s)]
	return Role(s), ok
}

// AdminTier holds the roles allowed to perform admin actions on users
// and tenant configuration.
var AdminTier = []Role{RoleAdmin, RoleDirector, RoleCEO}

// SuperAdminTier holds the roles allowed on system-wide screens.
var SuperAdminTier = []Role{RoleAdmin, RoleCEO}

// ExecutiveTier holds the roles allowed to read executive metrics.
var ExecutiveTier = []Role{RoleAdmin, RoleDirector, RoleCEO}

func RoleIn(r Role, set []Role) bool {
	for _, s := range set {
		if r == s {
			return true
		}
	}
	return false
}
