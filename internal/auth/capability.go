package auth

import (
	"fmt"

	"github.com/ukydev/fleetops/internal/models"
)

// Action names an operation gated by a capability.
type Action string

const (
	ActionStartMaintenance  Action = "start_maintenance"
	ActionFinishDiagnostic  Action = "finish_diagnostic"
	ActionDispatchToAdmin   Action = "dispatch_to_admin"
	ActionFinishAdminCheck  Action = "finish_admin_check"
	ActionFinishOBCControl  Action = "finish_obc_control"
	ActionFinishHSSEControl Action = "finish_hsse_control"
	ActionIssueDelivery     Action = "issue_delivery_order"
	ActionCloseDelivery     Action = "close_delivery_order"
	ActionOverride          Action = "override"
	ActionValidateStep      Action = "validate_step"
	ActionManageVehicles    Action = "manage_vehicles"
	ActionManageDocuments   Action = "manage_documents"
	ActionSyncStatus        Action = "sync_status"
	ActionReadFleet         Action = "read_fleet"
	// ActionManageUsers assigns roles; no role but admin holds it.
	ActionManageUsers Action = "manage_users"
)

// Capability is a permission to perform Action; Department narrows ActionValidateStep.
type Capability struct {
	Action     Action
	Department models.Department
}

func (c Capability) String() string {
	if c.Department != "" {
		return fmt.Sprintf("%s(%s)", c.Action, c.Department)
	}
	return string(c.Action)
}

// Can builds a capability for a plain action.
func Can(a Action) Capability { return Capability{Action: a} }

// ValidateStep is the capability to record department d's verdict.
func ValidateStep(d models.Department) Capability {
	return Capability{Action: ActionValidateStep, Department: d}
}

// Actor is the authenticated caller of an operation.
type Actor struct {
	ID       string
	Username string
	Role     models.Role
}

// System acts for the service itself (CLI maintenance commands).
var System = Actor{ID: "system", Username: "system", Role: models.RoleAdmin}

// ForbiddenError is returned when an actor lacks a capability.
type ForbiddenError struct {
	Actor      string
	Role       models.Role
	Capability Capability
}

func (e *ForbiddenError) Error() string {
	return fmt.Sprintf("%s (role %s) lacks capability %s", e.Actor, e.Role, e.Capability)
}

var roleActions = map[models.Role][]Action{
	models.RoleMaintenance: {
		ActionStartMaintenance, ActionFinishDiagnostic, ActionDispatchToAdmin, ActionReadFleet,
	},
	models.RoleAdministratif: {
		ActionFinishAdminCheck, ActionManageDocuments, ActionReadFleet,
	},
	models.RoleOBC:          {ActionFinishOBCControl, ActionReadFleet},
	models.RoleHSEQ:         {ActionFinishHSSEControl, ActionReadFleet},
	models.RoleExploitation: {ActionIssueDelivery, ActionCloseDelivery, ActionManageVehicles, ActionManageDocuments, ActionReadFleet},
	models.RoleViewer:       {ActionReadFleet},
}

// Allowed reports whether role holds capability c. Admins hold every capability;
// ValidateStep(d) belongs to the role owning department d.
func Allowed(role models.Role, c Capability) bool {
	if role == models.RoleAdmin {
		return true
	}
	if c.Action == ActionValidateStep {
		return c.Department != "" && models.DepartmentRole(c.Department) == role
	}
	for _, a := range roleActions[role] {
		if a == c.Action {
			return true
		}
	}
	return false
}

// Require returns a ForbiddenError unless actor holds c.
func Require(actor Actor, c Capability) error {
	if Allowed(actor.Role, c) {
		return nil
	}
	return &ForbiddenError{Actor: actor.Username, Role: actor.Role, Capability: c}
}
