package application

var (
	anyRole      = []Role{RoleCandidate, RoleOfficer, RoleManager, RoleAdministrator}
	staffRoles   = []Role{RoleOfficer, RoleManager, RoleAdministrator}
	managerRoles = []Role{RoleManager, RoleAdministrator}
	adminRoles   = []Role{RoleAdministrator}

	candidateOrStaff   = anyRole
	candidateOrManager = []Role{RoleCandidate, RoleManager, RoleAdministrator}
)

// authorize is the single capability check applied once per operation.
func authorize(principal Principal, roles ...Role) error {
	if principal.ID == "" {
		return ErrUnauthorized
	}
	for _, role := range roles {
		if principal.Role == role {
			return nil
		}
	}
	return ErrUnauthorized
}

// authorizeCandidate additionally confines candidate principals to their own
// records.
func authorizeCandidate(principal Principal, candidateID string, roles ...Role) error {
	if err := authorize(principal, roles...); err != nil {
		return err
	}
	if principal.Role == RoleCandidate && principal.Candidate() != candidateID {
		return ErrUnauthorized
	}
	return nil
}
