package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/ukydev/fleetops/internal/auth"
	"github.com/ukydev/fleetops/internal/fleeterr"
	"github.com/ukydev/fleetops/internal/models"
)

// DiagnosticInput is the technician's report closing the maintenance stage.
type DiagnosticInput struct {
	Constat       string   `json:"constat"`
	Travaux       string   `json:"travaux"`
	PiecesJointes []string `json:"pieces_jointes,omitempty"`
}

// ControlInput is the result of an administrative or HSSE check.
type ControlInput struct {
	Conforme     bool   `json:"conforme"`
	Observations string `json:"observations,omitempty"`
}

// OBCInput is the result of the on-board computer check.
type OBCInput struct {
	Conforme         bool   `json:"conforme"`
	SafeToLoadValide bool   `json:"safe_to_load_valide"`
	Observations     string `json:"observations,omitempty"`
}

// DeliveryInput describes a delivery order. Numero is the idempotency key.
type DeliveryInput struct {
	Numero      string `json:"numero"`
	ChauffeurID string `json:"chauffeur_id"`
	Destination string `json:"destination"`
	Produit     string `json:"produit,omitempty"`
}

// VehicleInput describes a vehicle joining the fleet.
type VehicleInput struct {
	Numero          string               `json:"numero"`
	Categorie       models.Category      `json:"categorie"`
	TypeTransport   models.TransportType `json:"type_transport"`
	Immatriculation string               `json:"immatriculation"`
	Remorque        string               `json:"remorque,omitempty"`
}

// ValidationError reports unusable input; nothing was written.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// StartMaintenance moves a returned vehicle into maintenance and opens its diagnostic.
func (o *Orchestrator) StartMaintenance(ctx context.Context, actor auth.Actor, vehicleID string) (*Transition, error) {
	return o.transition(ctx, actor, vehicleID, auth.Can(auth.ActionStartMaintenance), fixed(EventStartMaintenance),
		func(ctx context.Context, v *models.Vehicle, _ models.Stage) error {
			wf, err := o.store.OpenWorkflow(ctx, vehicleID)
			if errors.Is(err, fleeterr.ErrNotFound) {
				next := models.NewValidationWorkflow(vehicleID, o.Now())
				if err := o.store.InsertWorkflow(ctx, next); err != nil {
					return err
				}
				wf, err = &next, nil
			}
			if err != nil {
				return err
			}
			return o.store.UpsertDiagnostic(ctx, models.DiagnosticMaintenance{
				WorkflowID:   wf.ID.Hex(),
				VehicleID:    vehicleID,
				TechnicienID: actor.ID,
				StartedAt:    o.Now(),
			})
		})
}

// FinishDiagnostic records the diagnostic and approves the maintenance step.
func (o *Orchestrator) FinishDiagnostic(ctx context.Context, actor auth.Actor, vehicleID string, in DiagnosticInput) (*Transition, error) {
	if strings.TrimSpace(in.Constat) == "" {
		return nil, &ValidationError{Field: "constat", Reason: "required"}
	}
	return o.transition(ctx, actor, vehicleID, auth.Can(auth.ActionFinishDiagnostic), fixed(EventFinishDiagnostic),
		func(ctx context.Context, v *models.Vehicle, _ models.Stage) error {
			wf, err := o.openWorkflowFor(ctx, vehicleID)
			if err != nil {
				return err
			}
			diag := models.DiagnosticMaintenance{WorkflowID: wf.ID.Hex(), VehicleID: vehicleID, StartedAt: o.Now()}
			if prev, err := o.store.FindDiagnostic(ctx, wf.ID.Hex()); err == nil {
				diag = *prev
			} else if !errors.Is(err, fleeterr.ErrNotFound) {
				return err
			}
			now := o.Now()
			diag.TechnicienID = actor.ID
			diag.Constat = in.Constat
			diag.Travaux = in.Travaux
			diag.PiecesJointes = in.PiecesJointes
			diag.FinishedAt = &now
			if err := o.store.UpsertDiagnostic(ctx, diag); err != nil {
				return err
			}
			return o.setStep(ctx, wf, actor, models.DeptMaintenance, models.OutcomeValide, in.Constat)
		})
}

// DispatchToAdmin hands a repaired vehicle over to administrative review.
func (o *Orchestrator) DispatchToAdmin(ctx context.Context, actor auth.Actor, vehicleID string) (*Transition, error) {
	return o.transition(ctx, actor, vehicleID, auth.Can(auth.ActionDispatchToAdmin), fixed(EventDispatchToAdmin), nil)
}

// FinishAdminCheck records the administrative check; a non-conforming vehicle is blocked.
func (o *Orchestrator) FinishAdminCheck(ctx context.Context, actor auth.Actor, vehicleID string, in ControlInput) (*Transition, error) {
	return o.transition(ctx, actor, vehicleID, auth.Can(auth.ActionFinishAdminCheck),
		verdictEvent(in.Conforme, EventAdminConforme, EventAdminNonConforme),
		o.control(actor, vehicleID, models.ControlAdmin, models.DeptAdministratif, in.Conforme, in.Conforme, nil, in.Observations))
}

// FinishOBCControl records the OBC control; it passes only when the vehicle conforms
// and the safe-to-load checklist is valid.
func (o *Orchestrator) FinishOBCControl(ctx context.Context, actor auth.Actor, vehicleID string, in OBCInput) (*Transition, error) {
	pass := in.Conforme && in.SafeToLoadValide
	safe := in.SafeToLoadValide
	return o.transition(ctx, actor, vehicleID, auth.Can(auth.ActionFinishOBCControl),
		verdictEvent(pass, EventOBCConforme, EventOBCNonConforme),
		o.control(actor, vehicleID, models.ControlOBC, models.DeptOBC, in.Conforme, pass, &safe, in.Observations))
}

// FinishHSSEControl records the HSSE control; a conforming vehicle becomes available.
func (o *Orchestrator) FinishHSSEControl(ctx context.Context, actor auth.Actor, vehicleID string, in ControlInput) (*Transition, error) {
	return o.transition(ctx, actor, vehicleID, auth.Can(auth.ActionFinishHSSEControl),
		verdictEvent(in.Conforme, EventHSSEConforme, EventHSSENonConforme),
		o.control(actor, vehicleID, models.ControlHSSE, models.DeptHSEQ, in.Conforme, in.Conforme, nil, in.Observations))
}

// control upserts the (workflow, kind) control record and sets the department step.
func (o *Orchestrator) control(actor auth.Actor, vehicleID string, kind models.ControlKind, d models.Department,
	conforme, pass bool, safeToLoad *bool, observations string) step {
	return func(ctx context.Context, v *models.Vehicle, _ models.Stage) error {
		wf, err := o.openWorkflowFor(ctx, vehicleID)
		if err != nil {
			return err
		}
		if err := o.store.UpsertControl(ctx, models.Control{
			Kind:             kind,
			WorkflowID:       wf.ID.Hex(),
			VehicleID:        vehicleID,
			ControleurID:     actor.ID,
			Conforme:         conforme,
			SafeToLoadValide: safeToLoad,
			Observations:     observations,
			CreatedAt:        o.Now(),
		}); err != nil {
			return err
		}
		return o.setStep(ctx, wf, actor, d, outcomeOf(pass), observations)
	}
}

// IssueDeliveryOrder dispatches an available vehicle on a mission and closes its
// validation cycle. The vehicle's status must still be disponible.
func (o *Orchestrator) IssueDeliveryOrder(ctx context.Context, actor auth.Actor, vehicleID string, in DeliveryInput) (*Transition, *models.DeliveryOrder, error) {
	switch {
	case strings.TrimSpace(in.Numero) == "":
		return nil, nil, &ValidationError{Field: "numero", Reason: "required"}
	case strings.TrimSpace(in.ChauffeurID) == "":
		return nil, nil, &ValidationError{Field: "chauffeur_id", Reason: "required"}
	case strings.TrimSpace(in.Destination) == "":
		return nil, nil, &ValidationError{Field: "destination", Reason: "required"}
	}
	var order *models.DeliveryOrder
	res, err := o.transition(ctx, actor, vehicleID, auth.Can(auth.ActionIssueDelivery), fixed(EventIssueDeliveryOrder),
		func(ctx context.Context, v *models.Vehicle, _ models.Stage) error {
			stored, err := o.store.UpsertDeliveryOrder(ctx, models.DeliveryOrder{
				ID:          primitive.NewObjectID(),
				Numero:      in.Numero,
				VehicleID:   vehicleID,
				ChauffeurID: in.ChauffeurID,
				Destination: in.Destination,
				Produit:     in.Produit,
				Status:      models.DeliveryEnCours,
				IssuedAt:    o.Now(),
			})
			if err != nil {
				return err
			}
			if stored.VehicleID != vehicleID || stored.Status != models.DeliveryEnCours {
				return fmt.Errorf("delivery order %s already used: %w", in.Numero, fleeterr.ErrConflict)
			}
			order = stored
			return o.closeOpenWorkflow(ctx, vehicleID)
		})
	if err != nil {
		return nil, nil, err
	}
	return res, order, nil
}

// CloseDeliveryOrder closes the running order and sends the vehicle back to maintenance,
// which opens a new validation cycle.
func (o *Orchestrator) CloseDeliveryOrder(ctx context.Context, actor auth.Actor, vehicleID, orderID string) (*Transition, error) {
	return o.transition(ctx, actor, vehicleID, auth.Can(auth.ActionCloseDelivery), fixed(EventCloseDeliveryOrder),
		func(ctx context.Context, v *models.Vehicle, _ models.Stage) error {
			order, err := o.store.FindDeliveryOrderByID(ctx, orderID)
			if err != nil {
				return err
			}
			if order.VehicleID != vehicleID {
				return fmt.Errorf("delivery order %s belongs to another vehicle: %w", orderID, fleeterr.ErrNotFound)
			}
			return o.store.CloseDeliveryOrder(ctx, orderID)
		})
}

// Override releases a blocked vehicle back to maintenance. Admin only.
func (o *Orchestrator) Override(ctx context.Context, actor auth.Actor, vehicleID, reason string) (*Transition, error) {
	if strings.TrimSpace(reason) == "" {
		return nil, &ValidationError{Field: "reason", Reason: "required"}
	}
	return o.transition(ctx, actor, vehicleID, auth.Can(auth.ActionOverride), fixed(EventOverride), nil)
}

// ValidateStep records department d's verdict on the open workflow and resynchronizes
// the status. A rejection on a released vehicle also blocks it.
func (o *Orchestrator) ValidateStep(ctx context.Context, actor auth.Actor, vehicleID string, d models.Department, outcome models.Outcome, comment string) (*Transition, error) {
	if !models.IsValidDepartment(d) {
		return nil, &ValidationError{Field: "department", Reason: fmt.Sprintf("unknown department %q", d)}
	}
	if !models.IsValidOutcome(outcome) {
		return nil, &ValidationError{Field: "outcome", Reason: fmt.Sprintf("unknown outcome %q", outcome)}
	}
	event := func(v *models.Vehicle) string {
		if outcome == models.OutcomeRejete && v.Etape == models.StageDisponible {
			return EventReleaseRejected
		}
		return ""
	}
	return o.transition(ctx, actor, vehicleID, auth.ValidateStep(d), event,
		func(ctx context.Context, v *models.Vehicle, _ models.Stage) error {
			wf, err := o.openWorkflowFor(ctx, vehicleID)
			if fleeterr.IsNoWorkflow(err) {
				if latest, lerr := o.store.LatestWorkflow(ctx, vehicleID); lerr == nil && !latest.Open {
					return &fleeterr.IllegalTransitionError{
						VehicleID: vehicleID, Event: string(auth.ActionValidateStep), State: string(v.Etape),
						Reason: "validation workflow is closed",
					}
				}
			}
			if err != nil {
				return err
			}
			return o.setStep(ctx, wf, actor, d, outcome, comment)
		})
}

// OnboardVehicle registers a vehicle at retour_maintenance with a fresh validation cycle.
func (o *Orchestrator) OnboardVehicle(ctx context.Context, actor auth.Actor, in VehicleInput) (*models.Vehicle, error) {
	if err := auth.Require(actor, auth.Can(auth.ActionManageVehicles)); err != nil {
		return nil, err
	}
	switch {
	case strings.TrimSpace(in.Numero) == "":
		return nil, &ValidationError{Field: "numero", Reason: "required"}
	case strings.TrimSpace(in.Immatriculation) == "":
		return nil, &ValidationError{Field: "immatriculation", Reason: "required"}
	case !models.IsValidCategory(in.Categorie):
		return nil, &ValidationError{Field: "categorie", Reason: fmt.Sprintf("unknown category %q", in.Categorie)}
	case !models.IsValidTransportType(in.TypeTransport):
		return nil, &ValidationError{Field: "type_transport", Reason: fmt.Sprintf("unknown transport type %q", in.TypeTransport)}
	case in.Categorie == models.CategoryTracteurRemorque && strings.TrimSpace(in.Remorque) == "":
		return nil, &ValidationError{Field: "remorque", Reason: "required for tracteur_remorque"}
	}
	now := o.Now()
	v := models.Vehicle{
		ID:                primitive.NewObjectID(),
		Numero:            in.Numero,
		Categorie:         in.Categorie,
		TypeTransport:     in.TypeTransport,
		Immatriculation:   in.Immatriculation,
		Remorque:          in.Remorque,
		Status:            models.StatusValidationRequise,
		ValidationRequise: true,
		Etape:             models.StageRetourMaintenance,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	err := o.store.WithTransaction(ctx, func(ctx context.Context) error {
		if err := o.store.InsertVehicle(ctx, v); err != nil {
			return err
		}
		return o.store.InsertWorkflow(ctx, models.NewValidationWorkflow(v.ID.Hex(), now))
	})
	if err != nil {
		return nil, err
	}
	o.logger.WithFields(map[string]interface{}{"vehicle_id": v.ID.Hex(), "numero": v.Numero, "actor": actor.Username}).Info("Vehicle onboarded")
	return &v, nil
}
