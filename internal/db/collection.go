package db

import (
	"context"

	"github.com/ukydev/fleetops/internal/models"
)

// VehicleFilter narrows FindVehicles. Zero values match everything.
type VehicleFilter struct {
	Status          models.VehicleStatus
	Etape           models.Stage
	TypeTransport   models.TransportType
	IncludeArchived bool
}

// VehicleUpdate carries the administrative fields an operator may edit. Status,
// validation flag and stage are deliberately absent.
type VehicleUpdate struct {
	Numero          *string
	Categorie       *models.Category
	TypeTransport   *models.TransportType
	Immatriculation *string
	Remorque        *string
}

// VehicleCollection defines the interface for vehicle data operations.
type VehicleCollection interface {
	InsertVehicle(ctx context.Context, vehicle models.Vehicle) error
	FindVehicles(ctx context.Context, filter VehicleFilter) ([]models.Vehicle, error)
	FindVehicleByID(ctx context.Context, id string) (*models.Vehicle, error)
	UpdateVehicle(ctx context.Context, id string, update VehicleUpdate) error
	// SetVehicleStatus writes status and validation_requise in one update, only if the
	// stored version still equals version. ErrConflict otherwise.
	SetVehicleStatus(ctx context.Context, id string, version int64, status models.VehicleStatus, validationRequise bool) error
	// SetVehicleStage moves the vehicle from stage from to stage to. ErrConflict if the
	// stored stage is no longer from.
	SetVehicleStage(ctx context.Context, id string, from, to models.Stage) error
	ArchiveVehicle(ctx context.Context, id string) error
}

// WorkflowCollection defines the interface for validation workflow operations.
type WorkflowCollection interface {
	InsertWorkflow(ctx context.Context, wf models.ValidationWorkflow) error
	// LatestWorkflow returns the most recently created workflow of a vehicle, open or
	// closed, or ErrNotFound.
	LatestWorkflow(ctx context.Context, vehicleID string) (*models.ValidationWorkflow, error)
	// OpenWorkflow returns the open workflow of a vehicle, or ErrNotFound.
	OpenWorkflow(ctx context.Context, vehicleID string) (*models.ValidationWorkflow, error)
	// UpdateStep replaces the step of step.Department on an open workflow. ErrConflict
	// if the workflow is closed.
	UpdateStep(ctx context.Context, workflowID string, step models.ValidationStep) error
	CloseWorkflow(ctx context.Context, workflowID string) error
}

// DocumentCollection defines the interface for compliance document operations.
type DocumentCollection interface {
	InsertDocument(ctx context.Context, doc models.Document) error
	FindDocumentByID(ctx context.Context, id string) (*models.Document, error)
	// FindDocument returns the current document of an owner for a type, or ErrNotFound.
	FindDocument(ctx context.Context, ownerKind models.OwnerKind, ownerID, typeDocument string) (*models.Document, error)
	FindDocuments(ctx context.Context, ownerKind models.OwnerKind, ownerID string) ([]models.Document, error)
	DeleteDocument(ctx context.Context, id string) error
}

// ControlCollection defines the interface for maintenance diagnostics and control records.
type ControlCollection interface {
	UpsertDiagnostic(ctx context.Context, diag models.DiagnosticMaintenance) error
	FindDiagnostic(ctx context.Context, workflowID string) (*models.DiagnosticMaintenance, error)
	UpsertControl(ctx context.Context, control models.Control) error
	FindControls(ctx context.Context, workflowID string) ([]models.Control, error)
}

// DeliveryCollection defines the interface for delivery order operations.
type DeliveryCollection interface {
	// UpsertDeliveryOrder inserts the order keyed by its numero; an existing order with
	// the same numero is left untouched.
	UpsertDeliveryOrder(ctx context.Context, order models.DeliveryOrder) (*models.DeliveryOrder, error)
	FindDeliveryOrderByID(ctx context.Context, id string) (*models.DeliveryOrder, error)
	FindOpenDeliveryOrder(ctx context.Context, vehicleID string) (*models.DeliveryOrder, error)
	CloseDeliveryOrder(ctx context.Context, id string) error
}

// TransitionCollection stores the lifecycle audit trail.
type TransitionCollection interface {
	InsertTransition(ctx context.Context, rec models.TransitionRecord) error
	FindTransitions(ctx context.Context, vehicleID string) ([]models.TransitionRecord, error)
}

// Store is the persistence collaborator of the lifecycle core.
type Store interface {
	VehicleCollection
	WorkflowCollection
	DocumentCollection
	ControlCollection
	DeliveryCollection
	TransitionCollection

	// WithTransaction runs fn so that either all of its writes apply or none do.
	// fn must use the ctx it is given.
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}
