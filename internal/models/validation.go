package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Department is a service whose verdict is required to release a vehicle.
type Department string

const (
	DeptMaintenance   Department = "maintenance"
	DeptAdministratif Department = "administratif"
	DeptHSEQ          Department = "hseq"
	DeptOBC           Department = "obc"
)

// RequiredDepartments lists the steps every workflow carries, in review order.
var RequiredDepartments = []Department{DeptMaintenance, DeptAdministratif, DeptOBC, DeptHSEQ}

// IsValidDepartment checks if d is one of the required departments.
func IsValidDepartment(d Department) bool {
	for _, r := range RequiredDepartments {
		if r == d {
			return true
		}
	}
	return false
}

// Outcome is a department's verdict on a step.
type Outcome string

const (
	OutcomeEnAttente Outcome = "en_attente"
	OutcomeValide    Outcome = "valide"
	OutcomeRejete    Outcome = "rejete"
)

// IsValidOutcome checks if o is a known outcome.
func IsValidOutcome(o Outcome) bool {
	return o == OutcomeEnAttente || o == OutcomeValide || o == OutcomeRejete
}

// ValidationStep is a single department's verdict inside a workflow.
type ValidationStep struct {
	Department  Department `bson:"department" json:"department"`
	Outcome     Outcome    `bson:"outcome" json:"outcome"`
	EvaluatorID string     `bson:"evaluator_id,omitempty" json:"evaluator_id,omitempty"`
	EvaluatedAt *time.Time `bson:"evaluated_at,omitempty" json:"evaluated_at,omitempty"`
	Commentaire string     `bson:"commentaire,omitempty" json:"commentaire,omitempty"`
}

// ValidationWorkflow is one validation cycle of a vehicle. Steps are embedded.
type ValidationWorkflow struct {
	ID        primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	VehicleID string             `bson:"vehicle_id" json:"vehicle_id"`
	Open      bool               `bson:"open" json:"open"`
	Steps     []ValidationStep   `bson:"steps" json:"steps"`
	CreatedAt time.Time          `bson:"created_at" json:"created_at"`
	ClosedAt  *time.Time         `bson:"closed_at,omitempty" json:"closed_at,omitempty"`
}

// NewValidationWorkflow opens a workflow with one pending step per required department.
func NewValidationWorkflow(vehicleID string, now time.Time) ValidationWorkflow {
	steps := make([]ValidationStep, 0, len(RequiredDepartments))
	for _, d := range RequiredDepartments {
		steps = append(steps, ValidationStep{Department: d, Outcome: OutcomeEnAttente})
	}
	return ValidationWorkflow{
		ID:        primitive.NewObjectID(),
		VehicleID: vehicleID,
		Open:      true,
		Steps:     steps,
		CreatedAt: now,
	}
}

// Step returns the step of department d, if present.
func (w *ValidationWorkflow) Step(d Department) (ValidationStep, bool) {
	for _, s := range w.Steps {
		if s.Department == d {
			return s, true
		}
	}
	return ValidationStep{}, false
}
