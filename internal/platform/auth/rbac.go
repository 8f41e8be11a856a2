package auth

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// Role is the operator role stored on each user account.
type Role string

const (
	RoleAdmin        Role = "admin"
	RoleLabManager   Role = "lab_manager"
	RoleTechnician   Role = "technician"
	RoleDoctor       Role = "doctor"
	RoleReceptionist Role = "receptionist"
)

// Roles lists every valid role.
var Roles = []Role{RoleAdmin, RoleLabManager, RoleTechnician, RoleDoctor, RoleReceptionist}

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	for _, known := range Roles {
		if r == known {
			return true
		}
	}
	return false
}

// Action is a permission checked before any service call.
type Action string

const (
	ActionPatientRead    Action = "patient:read"
	ActionPatientWrite   Action = "patient:write"
	ActionSampleRead     Action = "sample:read"
	ActionSampleWrite    Action = "sample:write"
	ActionTestRead       Action = "test:read"
	ActionTestWrite      Action = "test:write"
	ActionResultWrite    Action = "result:write"
	ActionResultVerify   Action = "result:verify"
	ActionQCRead         Action = "qc:read"
	ActionQCWrite        Action = "qc:write"
	ActionTestTypeManage Action = "testtype:manage"
	ActionDashboardRead  Action = "dashboard:read"
	ActionBillingRead    Action = "billing:read"
	ActionBillingWrite   Action = "billing:write"
	ActionWorkflowRead   Action = "workflow:read"
	ActionWorkflowWrite  Action = "workflow:write"
	ActionReportRead     Action = "report:read"
	ActionReportWrite    Action = "report:write"
	ActionSettingsManage Action = "settings:manage"
	ActionUserManage     Action = "user:manage"
	ActionAuditRead      Action = "audit:read"
)

var labRead = []Action{
	ActionPatientRead, ActionSampleRead, ActionTestRead, ActionQCRead, ActionDashboardRead,
}

func set(groups ...[]Action) map[Action]bool {
	out := make(map[Action]bool)
	for _, g := range groups {
		for _, a := range g {
			out[a] = true
		}
	}
	return out
}

// permissions is the static role table. Admin is handled in Allowed.
var permissions = map[Role]map[Action]bool{
	RoleLabManager: set(labRead, []Action{
		ActionPatientWrite, ActionSampleWrite, ActionTestWrite, ActionResultWrite,
		ActionResultVerify, ActionQCWrite, ActionTestTypeManage, ActionBillingRead,
		ActionBillingWrite, ActionWorkflowRead, ActionWorkflowWrite, ActionReportRead,
		ActionReportWrite, ActionSettingsManage, ActionAuditRead,
	}),
	RoleTechnician: set(labRead, []Action{
		ActionSampleWrite, ActionTestWrite, ActionResultWrite, ActionQCWrite,
		ActionWorkflowRead, ActionWorkflowWrite,
	}),
	RoleDoctor: set(labRead, []Action{
		ActionTestWrite, ActionResultVerify, ActionReportRead,
	}),
	RoleReceptionist: set([]Action{
		ActionPatientRead, ActionPatientWrite, ActionSampleRead, ActionSampleWrite,
		ActionTestRead, ActionTestWrite, ActionBillingRead, ActionBillingWrite,
		ActionDashboardRead,
	}),
}

// Allowed reports whether role may perform action.
func Allowed(role Role, action Action) bool {
	if role == RoleAdmin {
		return true
	}
	return permissions[role][action]
}

// RequirePermission rejects requests whose principal lacks action.
func RequirePermission(action Action) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			p, ok := PrincipalFromContext(c.Request().Context())
			if !ok {
				return echo.NewHTTPError(http.StatusUnauthorized, "authentication required")
			}
			if !Allowed(p.Role, action) {
				return echo.NewHTTPError(http.StatusForbidden, "permission denied: "+string(action))
			}
			return next(c)
		}
	}
}
