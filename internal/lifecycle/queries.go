package lifecycle

import (
	"context"
	"errors"

	"github.com/ukydev/fleetops/internal/fleeterr"
	"github.com/ukydev/fleetops/internal/models"
	"github.com/ukydev/fleetops/internal/validation"
)

// Vehicle reads a vehicle. A stored status pair found inconsistent is not trusted:
// the status is resynchronized and the vehicle read again.
func (o *Orchestrator) Vehicle(ctx context.Context, vehicleID string) (*models.Vehicle, error) {
	v, err := o.store.FindVehicleByID(ctx, vehicleID)
	if err != nil {
		return nil, err
	}
	var inconsistent *fleeterr.InconsistentStateError
	if err := v.CheckConsistency(); !errors.As(err, &inconsistent) {
		return v, nil
	}
	o.logger.WithField("vehicle_id", vehicleID).WithError(inconsistent).Warn("Inconsistent vehicle status, forcing resync")
	if _, err := o.sync.Sync(ctx, vehicleID); err != nil {
		return nil, err
	}
	return o.store.FindVehicleByID(ctx, vehicleID)
}

// WorkflowView is the validation picture of a vehicle's latest cycle.
type WorkflowView struct {
	Workflow    *models.ValidationWorkflow    `json:"workflow"`
	Summary     validation.Summary            `json:"summary"`
	Diagnostic  *models.DiagnosticMaintenance `json:"diagnostic,omitempty"`
	Controls    []models.Control              `json:"controls"`
	Transitions []models.TransitionRecord     `json:"transitions"`
	Available   []string                      `json:"available_events"`
}

// Workflow assembles the latest validation cycle of a vehicle with its records.
func (o *Orchestrator) Workflow(ctx context.Context, vehicleID string) (*WorkflowView, error) {
	v, err := o.store.FindVehicleByID(ctx, vehicleID)
	if err != nil {
		return nil, err
	}
	wf, err := o.store.LatestWorkflow(ctx, vehicleID)
	if errors.Is(err, fleeterr.ErrNotFound) {
		return nil, &fleeterr.NoWorkflowError{VehicleID: vehicleID}
	}
	if err != nil {
		return nil, err
	}
	view := &WorkflowView{Workflow: wf, Summary: validation.Summarize(wf), Available: Available(v)}

	diag, err := o.store.FindDiagnostic(ctx, wf.ID.Hex())
	switch {
	case err == nil:
		view.Diagnostic = diag
	case !errors.Is(err, fleeterr.ErrNotFound):
		return nil, err
	}
	if view.Controls, err = o.store.FindControls(ctx, wf.ID.Hex()); err != nil {
		return nil, err
	}
	if view.Transitions, err = o.store.FindTransitions(ctx, vehicleID); err != nil {
		return nil, err
	}
	return view, nil
}

// Sync forces a status resynchronization of one vehicle.
func (o *Orchestrator) Sync(ctx context.Context, vehicleID string) (*Transition, error) {
	res, err := o.sync.Sync(ctx, vehicleID)
	if err != nil {
		return nil, err
	}
	v, err := o.store.FindVehicleByID(ctx, vehicleID)
	if err != nil {
		return nil, err
	}
	return &Transition{VehicleID: vehicleID, From: v.Etape, To: v.Etape, Status: res}, nil
}
