// Package validation folds per-department step outcomes into a workflow verdict.
package validation

import (
	"github.com/ukydev/fleetops/internal/fleeterr"
	"github.com/ukydev/fleetops/internal/models"
)

// Verdict is the workflow-level outcome.
type Verdict string

const (
	Rejected Verdict = "REJECTED"
	Approved Verdict = "APPROVED"
	Pending  Verdict = "PENDING"
)

// AggregateSteps computes the verdict of a step set. Any rejection wins; approval needs
// every required department to be valide.
func AggregateSteps(steps []models.ValidationStep) Verdict {
	valid := make(map[models.Department]bool, len(steps))
	for _, s := range steps {
		switch s.Outcome {
		case models.OutcomeRejete:
			return Rejected
		case models.OutcomeValide:
			valid[s.Department] = true
		}
	}
	for _, d := range models.RequiredDepartments {
		if !valid[d] {
			return Pending
		}
	}
	return Approved
}

// Aggregate computes the verdict of a vehicle's most recent workflow. A nil workflow
// yields a NoWorkflowError.
func Aggregate(vehicleID string, wf *models.ValidationWorkflow) (Verdict, error) {
	if wf == nil {
		return "", &fleeterr.NoWorkflowError{VehicleID: vehicleID}
	}
	return AggregateSteps(wf.Steps), nil
}

// Summary breaks a workflow down for display.
type Summary struct {
	Verdict  Verdict             `json:"verdict"`
	Valides  []models.Department `json:"valides"`
	Rejetes  []models.Department `json:"rejetes"`
	Attentes []models.Department `json:"en_attente"`
}

// Summarize lists departments per outcome, required departments with no step counting
// as pending.
func Summarize(wf *models.ValidationWorkflow) Summary {
	sum := Summary{
		Verdict:  AggregateSteps(wf.Steps),
		Valides:  []models.Department{},
		Rejetes:  []models.Department{},
		Attentes: []models.Department{},
	}
	for _, d := range models.RequiredDepartments {
		step, ok := wf.Step(d)
		switch {
		case !ok || step.Outcome == models.OutcomeEnAttente:
			sum.Attentes = append(sum.Attentes, d)
		case step.Outcome == models.OutcomeValide:
			sum.Valides = append(sum.Valides, d)
		case step.Outcome == models.OutcomeRejete:
			sum.Rejetes = append(sum.Rejetes, d)
		}
	}
	return sum
}
