// Package lifecycle sequences a vehicle through maintenance, administrative, OBC and
// HSSE checks, dispatch and return.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/ukydev/fleetops/internal/auth"
	"github.com/ukydev/fleetops/internal/db"
	"github.com/ukydev/fleetops/internal/fleeterr"
	"github.com/ukydev/fleetops/internal/lock"
	"github.com/ukydev/fleetops/internal/metrics"
	"github.com/ukydev/fleetops/internal/models"
	"github.com/ukydev/fleetops/internal/notify"
	"github.com/ukydev/fleetops/internal/status"
)

// Orchestrator exposes one entry point per lifecycle stage. Every entry point runs
// under the vehicle lock and commits its writes in one store transaction.
type Orchestrator struct {
	store    db.Store
	locker   lock.Locker
	sync     *status.Synchronizer
	notifier notify.Notifier
	logger   log.FieldLogger

	Now func() time.Time
}

func New(store db.Store, locker lock.Locker, sync *status.Synchronizer, notifier notify.Notifier, logger log.FieldLogger) *Orchestrator {
	if notifier == nil {
		notifier = notify.Nop{}
	}
	return &Orchestrator{
		store:    store,
		locker:   locker,
		sync:     sync,
		notifier: notifier,
		logger:   logger,
		Now:      time.Now,
	}
}

// Transition is the outcome of a successful entry point call.
type Transition struct {
	VehicleID string        `json:"vehicle_id"`
	Event     string        `json:"event"`
	From      models.Stage  `json:"from"`
	To        models.Stage  `json:"to"`
	Status    status.Result `json:"status"`
	// Warning carries a non-fatal synchronizer outcome, such as a missing workflow.
	Warning string `json:"warning,omitempty"`
}

// step is the per-entry-point work done inside the transaction, before the stage write.
type step func(ctx context.Context, v *models.Vehicle, to models.Stage) error

// transition runs the shared sequence: capability, lock, legality, then a transaction
// writing the stage record, the stage, the audit record and the status.
func (o *Orchestrator) transition(ctx context.Context, actor auth.Actor, vehicleID string, capability auth.Capability,
	event func(*models.Vehicle) string, apply step) (*Transition, error) {
	start := o.Now()
	op := string(capability.Action)

	res, err := o.doTransition(ctx, actor, vehicleID, capability, event, apply)

	result := "ok"
	switch {
	case err == nil:
	case fleeterr.IsIllegalTransition(err):
		result = "illegal"
	case fleeterr.IsTransient(err):
		result = "transient"
	default:
		result = "error"
	}
	metrics.ObserveTransition(op, result, o.Now().Sub(start))

	logger := o.logger.WithFields(log.Fields{"vehicle_id": vehicleID, "operation": op, "actor": actor.Username})
	if err != nil {
		logger.WithError(err).Warn("Lifecycle transition rejected")
		o.notifier.Notify(ctx, notify.Notice{
			Level: notify.Failure, VehicleID: vehicleID, Operation: op, ActorID: actor.ID,
			Message: err.Error(), At: o.Now(),
		})
		return nil, err
	}
	logger.WithFields(log.Fields{"from": res.From, "to": res.To, "status": res.Status.Status}).Info("Lifecycle transition applied")
	o.notifier.Notify(ctx, notify.Notice{
		Level: notify.Success, VehicleID: vehicleID, Operation: op, ActorID: actor.ID,
		Message: fmt.Sprintf("%s -> %s", res.From, res.To), At: o.Now(),
	})
	return res, nil
}

func (o *Orchestrator) doTransition(ctx context.Context, actor auth.Actor, vehicleID string, capability auth.Capability,
	event func(*models.Vehicle) string, apply step) (*Transition, error) {
	op := string(capability.Action)
	if err := auth.Require(actor, capability); err != nil {
		return nil, err
	}
	unlock, err := o.locker.Lock(ctx, vehicleID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	v, err := o.store.FindVehicleByID(ctx, vehicleID)
	if err != nil {
		return nil, fmt.Errorf("read vehicle: %w", err)
	}
	if v.Archived() {
		return nil, &fleeterr.IllegalTransitionError{VehicleID: vehicleID, Event: op, State: string(v.Etape), Reason: "vehicle is archived"}
	}
	// an empty event records data without moving the stage
	ev, to := event(v), v.Etape
	if ev != "" {
		if to, err = plan(ctx, v, op, ev); err != nil {
			return nil, err
		}
	}

	res := &Transition{VehicleID: vehicleID, Event: ev, From: v.Etape, To: to}
	err = o.store.WithTransaction(ctx, func(ctx context.Context) error {
		if apply != nil {
			if err := apply(ctx, v, to); err != nil {
				return err
			}
		}
		if ev == "" {
			return o.syncHeld(ctx, res)
		}
		if err := o.store.SetVehicleStage(ctx, vehicleID, v.Etape, to); err != nil {
			if errors.Is(err, fleeterr.ErrConflict) {
				return &fleeterr.IllegalTransitionError{
					VehicleID: vehicleID, Event: op, State: string(v.Etape),
					Reason: "stage changed concurrently",
				}
			}
			return err
		}
		if to == models.StageBloque {
			if err := o.closeOpenWorkflow(ctx, vehicleID); err != nil {
				return err
			}
		}
		if to == models.StageRetourMaintenance {
			if err := o.openWorkflow(ctx, vehicleID); err != nil {
				return err
			}
		}
		if err := o.store.InsertTransition(ctx, models.TransitionRecord{
			VehicleID: vehicleID, From: v.Etape, To: to, Event: ev, ActorID: actor.ID, At: o.Now(),
		}); err != nil {
			return err
		}
		return o.syncHeld(ctx, res)
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// syncHeld re-derives the status inside the transaction. A missing workflow is a warning.
func (o *Orchestrator) syncHeld(ctx context.Context, res *Transition) error {
	sr, err := o.sync.SyncHeld(ctx, res.VehicleID)
	if fleeterr.IsNoWorkflow(err) {
		res.Warning = err.Error()
		res.Status = sr
		return nil
	}
	if err != nil {
		return err
	}
	res.Status = sr
	return nil
}

// openWorkflow starts a validation cycle, closing any cycle left open.
func (o *Orchestrator) openWorkflow(ctx context.Context, vehicleID string) error {
	if err := o.closeOpenWorkflow(ctx, vehicleID); err != nil {
		return err
	}
	return o.store.InsertWorkflow(ctx, models.NewValidationWorkflow(vehicleID, o.Now()))
}

func (o *Orchestrator) closeOpenWorkflow(ctx context.Context, vehicleID string) error {
	wf, err := o.store.OpenWorkflow(ctx, vehicleID)
	if errors.Is(err, fleeterr.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	return o.store.CloseWorkflow(ctx, wf.ID.Hex())
}

// openWorkflowFor returns the open workflow of a vehicle, or a NoWorkflowError.
func (o *Orchestrator) openWorkflowFor(ctx context.Context, vehicleID string) (*models.ValidationWorkflow, error) {
	wf, err := o.store.OpenWorkflow(ctx, vehicleID)
	if errors.Is(err, fleeterr.ErrNotFound) {
		return nil, &fleeterr.NoWorkflowError{VehicleID: vehicleID}
	}
	return wf, err
}

// setStep records a department verdict on the open workflow.
func (o *Orchestrator) setStep(ctx context.Context, wf *models.ValidationWorkflow, actor auth.Actor, d models.Department, outcome models.Outcome, comment string) error {
	now := o.Now()
	return o.store.UpdateStep(ctx, wf.ID.Hex(), models.ValidationStep{
		Department:  d,
		Outcome:     outcome,
		EvaluatorID: actor.ID,
		EvaluatedAt: &now,
		Commentaire: comment,
	})
}

func fixed(event string) func(*models.Vehicle) string {
	return func(*models.Vehicle) string { return event }
}

func verdictEvent(conforme bool, yes, no string) func(*models.Vehicle) string {
	if conforme {
		return fixed(yes)
	}
	return fixed(no)
}

func outcomeOf(ok bool) models.Outcome {
	if ok {
		return models.OutcomeValide
	}
	return models.OutcomeRejete
}
