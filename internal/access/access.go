// Package access decides, per operation, whether a caller may proceed. Two
// guards run in order for every protected operation: session presence, then
// role membership in the operation's allow-set.
package access

import (
	"modeld/pkg/domain"
)

// Operation names a protected action on the service.
type Operation string

const (
	OpViewModels   Operation = "models.view"
	OpCreateModel  Operation = "models.create"
	OpEditModel    Operation = "models.edit"
	OpDeleteModel  Operation = "models.delete"
	OpViewRecords  Operation = "records.view"
	OpCreateRecord Operation = "records.create"
	OpEditRecord   Operation = "records.edit"
	OpDeleteRecord Operation = "records.delete"
	OpManageAccess Operation = "access.manage"
)

// Operations lists every protected operation.
var Operations = []Operation{
	OpViewModels, OpCreateModel, OpEditModel, OpDeleteModel,
	OpViewRecords, OpCreateRecord, OpEditRecord, OpDeleteRecord,
	OpManageAccess,
}

// allowSets is the role matrix. Destructive record deletes are admin-only:
// only model-level delete gating was ever explicit, so record deletes follow
// the stricter model-delete row rather than the editor create/edit row.
var allowSets = map[Operation]map[domain.Role]bool{
	OpViewModels:   {domain.RoleAdmin: true, domain.RoleEditor: true, domain.RoleViewer: true},
	OpViewRecords:  {domain.RoleAdmin: true, domain.RoleEditor: true, domain.RoleViewer: true},
	OpCreateModel:  {domain.RoleAdmin: true, domain.RoleEditor: true},
	OpEditModel:    {domain.RoleAdmin: true, domain.RoleEditor: true},
	OpDeleteModel:  {domain.RoleAdmin: true},
	OpCreateRecord: {domain.RoleAdmin: true, domain.RoleEditor: true},
	OpEditRecord:   {domain.RoleAdmin: true, domain.RoleEditor: true},
	OpDeleteRecord: {domain.RoleAdmin: true},
	OpManageAccess: {domain.RoleAdmin: true},
}

// Allowed reports whether a role belongs to the operation's allow-set.
func Allowed(op Operation, role domain.Role) bool {
	return allowSets[op][role]
}

// DenyReason classifies a denial.
type DenyReason string

const (
	ReasonNoSession      DenyReason = "no_session"
	ReasonRoleNotAllowed DenyReason = "role_not_allowed"
)

// Fallback destinations for the deny-then-redirect contract. Denials never
// surface as bare errors: unauthenticated callers go to the sign-in entry
// point, authenticated-but-unauthorized callers to the landing area.
const (
	FallbackSignIn  = "/auth"
	FallbackLanding = "/dashboard"
)

// Decision is the outcome of guard evaluation for one operation.
type Decision struct {
	Allowed  bool        `json:"allowed"`
	Role     domain.Role `json:"role,omitempty"`
	Reason   DenyReason  `json:"reason,omitempty"`
	Redirect string      `json:"redirect,omitempty"`
}
