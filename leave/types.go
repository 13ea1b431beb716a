// Package leave composes the ledger engine into the operations the rest
// of the HR system calls: monthly accrual, manual adjustments, LOP
// conversion, and the consumption hook for the approval workflow.
package leave

import "github.com/hrstack/leave-ledger/ledger"

// =============================================================================
// ACTORS AND ROLES
// =============================================================================

// Role is the caller's authorization level. Authentication itself is an
// external collaborator concern; the services only check that the actor
// they were handed may perform the operation.
type Role string

const (
	RoleEmployee   Role = "employee"
	RoleHR         Role = "hr"
	RoleSuperAdmin Role = "super_admin"

	// RoleSystem is the identity of automated callers: the accrual
	// scheduler and the leave-approval workflow.
	RoleSystem Role = "system"
)

// Actor is the identity performing a mutation, recorded in audit rows.
type Actor struct {
	ID   string
	Role Role
}

// AllowedLeaveTypes returns which balance fields the role may manually
// adjust. LOP is Super Admin only; HR may touch casual and sick.
func (r Role) AllowedLeaveTypes() []ledger.LeaveType {
	switch r {
	case RoleHR:
		return []ledger.LeaveType{ledger.LeaveCasual, ledger.LeaveSick}
	case RoleSuperAdmin:
		return ledger.LeaveTypes()
	}
	return nil
}

// CanAdjust reports whether the role may manually adjust the field.
func (r Role) CanAdjust(t ledger.LeaveType) bool {
	for _, allowed := range r.AllowedLeaveTypes() {
		if allowed == t {
			return true
		}
	}
	return false
}

// CanConvert reports whether the role may run LOP->casual conversion.
func (r Role) CanConvert() bool {
	return r == RoleHR || r == RoleSuperAdmin
}

// CanConsume reports whether the role may debit balances on behalf of an
// approved leave request.
func (r Role) CanConsume() bool {
	return r == RoleSystem || r == RoleHR || r == RoleSuperAdmin
}
