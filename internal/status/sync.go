// Package status derives a vehicle's canonical status from its latest validation workflow.
package status

import (
	"context"
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/ukydev/fleetops/internal/fleeterr"
	"github.com/ukydev/fleetops/internal/lock"
	"github.com/ukydev/fleetops/internal/metrics"
	"github.com/ukydev/fleetops/internal/models"
	"github.com/ukydev/fleetops/internal/validation"
)

// Store is the slice of db.Store the synchronizer needs.
type Store interface {
	FindVehicleByID(ctx context.Context, id string) (*models.Vehicle, error)
	LatestWorkflow(ctx context.Context, vehicleID string) (*models.ValidationWorkflow, error)
	SetVehicleStatus(ctx context.Context, id string, version int64, status models.VehicleStatus, validationRequise bool) error
}

// Result reports what a synchronization pass did.
type Result struct {
	VehicleID         string               `json:"vehicle_id"`
	Verdict           validation.Verdict   `json:"verdict"`
	Previous          models.VehicleStatus `json:"previous_status"`
	Status            models.VehicleStatus `json:"status"`
	ValidationRequise bool                 `json:"validation_requise"`
	Changed           bool                 `json:"changed"`
}

// StatusFor maps a verdict to the status pair it implies.
func StatusFor(v validation.Verdict) (models.VehicleStatus, bool) {
	switch v {
	case validation.Rejected:
		return models.StatusIndisponible, false
	case validation.Approved:
		return models.StatusDisponible, false
	default:
		return models.StatusValidationRequise, true
	}
}

// Synchronizer is the only writer of a vehicle's status and validation_requise fields.
type Synchronizer struct {
	store  Store
	locker lock.Locker
	logger log.FieldLogger
}

func NewSynchronizer(store Store, locker lock.Locker, logger log.FieldLogger) *Synchronizer {
	return &Synchronizer{store: store, locker: locker, logger: logger}
}

// Sync recomputes and persists the status of vehicleID under the vehicle lock.
func (s *Synchronizer) Sync(ctx context.Context, vehicleID string) (Result, error) {
	unlock, err := s.locker.Lock(ctx, vehicleID)
	if err != nil {
		return Result{VehicleID: vehicleID}, err
	}
	defer unlock()
	return s.SyncHeld(ctx, vehicleID)
}

// SyncHeld is Sync for callers already holding the vehicle lock.
func (s *Synchronizer) SyncHeld(ctx context.Context, vehicleID string) (Result, error) {
	res, err := s.sync(ctx, vehicleID)
	result := "ok"
	switch {
	case err == nil:
	case fleeterr.IsNoWorkflow(err):
		result = "no_workflow"
	case fleeterr.IsTransient(err):
		result = "transient"
	default:
		result = "error"
	}
	metrics.IncSync(string(res.Verdict), result)

	logger := s.logger.WithField("vehicle_id", vehicleID)
	switch {
	case fleeterr.IsNoWorkflow(err):
		logger.Warn("Vehicle has no validation workflow, status left untouched")
	case err != nil:
		logger.WithError(err).Error("Status synchronization failed")
	case res.Changed:
		logger.WithFields(log.Fields{
			"verdict":  res.Verdict,
			"previous": res.Previous,
			"status":   res.Status,
		}).Info("Vehicle status updated")
	}
	return res, err
}

func (s *Synchronizer) sync(ctx context.Context, vehicleID string) (Result, error) {
	res := Result{VehicleID: vehicleID}

	vehicle, err := s.store.FindVehicleByID(ctx, vehicleID)
	if err != nil {
		return res, fmt.Errorf("read vehicle: %w", err)
	}
	res.Previous = vehicle.Status

	wf, err := s.store.LatestWorkflow(ctx, vehicleID)
	if errors.Is(err, fleeterr.ErrNotFound) {
		wf, err = nil, nil
	}
	if err != nil {
		return res, fmt.Errorf("read workflow: %w", err)
	}
	verdict, err := validation.Aggregate(vehicleID, wf)
	if err != nil {
		return res, err
	}
	res.Verdict = verdict
	res.Status, res.ValidationRequise = StatusFor(verdict)

	if vehicle.Status == res.Status && vehicle.ValidationRequise == res.ValidationRequise {
		return res, nil
	}
	err = s.store.SetVehicleStatus(ctx, vehicleID, vehicle.Version, res.Status, res.ValidationRequise)
	switch {
	case err == nil:
		res.Changed = true
		return res, nil
	case errors.Is(err, fleeterr.ErrNotFound), errors.Is(err, fleeterr.ErrConflict):
		return res, fmt.Errorf("write vehicle status: %w", err)
	default:
		return res, fleeterr.Transient("write vehicle status", err)
	}
}
