package lifecycle

import (
	"context"
	"errors"

	"github.com/looplab/fsm"

	"github.com/ukydev/fleetops/internal/fleeterr"
	"github.com/ukydev/fleetops/internal/models"
)

// Events of the lifecycle machine. Branching checks are separate events so the
// transition table stays closed.
const (
	EventStartMaintenance   = "start_maintenance"
	EventFinishDiagnostic   = "finish_diagnostic"
	EventDispatchToAdmin    = "dispatch_to_admin"
	EventAdminConforme      = "admin_conforme"
	EventAdminNonConforme   = "admin_non_conforme"
	EventOBCConforme        = "obc_conforme"
	EventOBCNonConforme     = "obc_non_conforme"
	EventHSSEConforme       = "hsse_conforme"
	EventHSSENonConforme    = "hsse_non_conforme"
	EventIssueDeliveryOrder = "issue_delivery_order"
	EventCloseDeliveryOrder = "close_delivery_order"
	EventOverride           = "override"
	// EventReleaseRejected blocks a released vehicle after a department revoked its approval.
	EventReleaseRejected = "release_rejected"
)

func st(s models.Stage) string { return string(s) }

var transitions = fsm.Events{
	{Name: EventStartMaintenance, Src: []string{st(models.StageRetourMaintenance)}, Dst: st(models.StageMaintenanceEnCours)},
	{Name: EventFinishDiagnostic, Src: []string{st(models.StageMaintenanceEnCours)}, Dst: st(models.StageDisponibleMaintenance)},
	{Name: EventDispatchToAdmin, Src: []string{st(models.StageDisponibleMaintenance)}, Dst: st(models.StageVerificationAdmin)},
	{Name: EventAdminConforme, Src: []string{st(models.StageVerificationAdmin)}, Dst: st(models.StageControleOBC)},
	{Name: EventAdminNonConforme, Src: []string{st(models.StageVerificationAdmin)}, Dst: st(models.StageBloque)},
	{Name: EventOBCConforme, Src: []string{st(models.StageControleOBC)}, Dst: st(models.StageControleHSSE)},
	{Name: EventOBCNonConforme, Src: []string{st(models.StageControleOBC)}, Dst: st(models.StageBloque)},
	{Name: EventHSSEConforme, Src: []string{st(models.StageControleHSSE)}, Dst: st(models.StageDisponible)},
	{Name: EventHSSENonConforme, Src: []string{st(models.StageControleHSSE)}, Dst: st(models.StageBloque)},
	{Name: EventIssueDeliveryOrder, Src: []string{st(models.StageDisponible)}, Dst: st(models.StageEnMission)},
	{Name: EventCloseDeliveryOrder, Src: []string{st(models.StageEnMission)}, Dst: st(models.StageRetourMaintenance)},
	{Name: EventOverride, Src: []string{st(models.StageBloque)}, Dst: st(models.StageRetourMaintenance)},
	{Name: EventReleaseRejected, Src: []string{st(models.StageDisponible)}, Dst: st(models.StageBloque)},
}

// errNotReleasable cancels a delivery order on a vehicle whose status is not disponible.
var errNotReleasable = errors.New("vehicle status is not disponible")

// wrapGuard adapts a guard returning an error into a before_ callback that cancels
// the event with that error.
func wrapGuard(fn func(ctx context.Context, v *models.Vehicle) error) fsm.Callback {
	return func(ctx context.Context, e *fsm.Event) {
		v, _ := e.Args[0].(*models.Vehicle)
		if err := fn(ctx, v); err != nil {
			e.Cancel(err)
		}
	}
}

func requireDisponible(_ context.Context, v *models.Vehicle) error {
	if v.Status != models.StatusDisponible || v.ValidationRequise {
		return errNotReleasable
	}
	return nil
}

func newMachine(v *models.Vehicle) *fsm.FSM {
	return fsm.NewFSM(string(v.Etape), transitions, fsm.Callbacks{
		"before_" + EventIssueDeliveryOrder: wrapGuard(requireDisponible),
	})
}

// plan checks that event is legal for v and returns the destination stage. Nothing
// is persisted; op names the entry point for error reporting.
func plan(ctx context.Context, v *models.Vehicle, op, event string) (models.Stage, error) {
	illegal := &fleeterr.IllegalTransitionError{VehicleID: v.ID.Hex(), Event: op, State: string(v.Etape)}
	if v.Archived() {
		illegal.Reason = "vehicle is archived"
		return "", illegal
	}
	m := newMachine(v)
	if !m.Can(event) {
		return "", illegal
	}
	if err := m.Event(ctx, event, v); err != nil {
		var canceled fsm.CanceledError
		if errors.As(err, &canceled) && canceled.Err != nil {
			illegal.Reason = canceled.Err.Error()
		}
		return "", illegal
	}
	return models.Stage(m.Current()), nil
}

// Available lists the events the vehicle's current stage accepts.
func Available(v *models.Vehicle) []string {
	return newMachine(v).AvailableTransitions()
}
