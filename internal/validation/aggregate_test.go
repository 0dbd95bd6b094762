package validation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ukydev/fleetops/internal/fleeterr"
	"github.com/ukydev/fleetops/internal/models"
)

func workflow(outcomes map[models.Department]models.Outcome) *models.ValidationWorkflow {
	wf := models.NewValidationWorkflow("v1", time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC))
	for i, s := range wf.Steps {
		if o, ok := outcomes[s.Department]; ok {
			wf.Steps[i].Outcome = o
		}
	}
	return &wf
}

func TestAggregate_NoWorkflow(t *testing.T) {
	_, err := Aggregate("v9", nil)
	require.Error(t, err)
	assert.True(t, fleeterr.IsNoWorkflow(err))
	assert.Contains(t, err.Error(), "v9")
}

func TestAggregate(t *testing.T) {
	tests := []struct {
		name     string
		outcomes map[models.Department]models.Outcome
		want     Verdict
	}{
		{
			name: "all valide",
			outcomes: map[models.Department]models.Outcome{
				models.DeptMaintenance:   models.OutcomeValide,
				models.DeptAdministratif: models.OutcomeValide,
				models.DeptOBC:           models.OutcomeValide,
				models.DeptHSEQ:          models.OutcomeValide,
			},
			want: Approved,
		},
		{
			name: "one rejection among approvals",
			outcomes: map[models.Department]models.Outcome{
				models.DeptMaintenance:   models.OutcomeValide,
				models.DeptAdministratif: models.OutcomeValide,
				models.DeptOBC:           models.OutcomeRejete,
				models.DeptHSEQ:          models.OutcomeValide,
			},
			want: Rejected,
		},
		{
			name: "partial approval",
			outcomes: map[models.Department]models.Outcome{
				models.DeptMaintenance:   models.OutcomeValide,
				models.DeptAdministratif: models.OutcomeValide,
			},
			want: Pending,
		},
		{
			name:     "fresh workflow",
			outcomes: nil,
			want:     Pending,
		},
		{
			name: "rejection with pending steps",
			outcomes: map[models.Department]models.Outcome{
				models.DeptHSEQ: models.OutcomeRejete,
			},
			want: Rejected,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Aggregate("v1", workflow(tt.outcomes))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestAggregateSteps_RejectionDominates(t *testing.T) {
	// every set with at least one rejete is REJECTED, whatever the rest holds
	outcomes := []models.Outcome{models.OutcomeEnAttente, models.OutcomeValide, models.OutcomeRejete}
	deps := models.RequiredDepartments
	total := 1
	for range deps {
		total *= len(outcomes)
	}
	for n := 0; n < total; n++ {
		steps := make([]models.ValidationStep, len(deps))
		rejected := false
		k := n
		for i, d := range deps {
			o := outcomes[k%len(outcomes)]
			k /= len(outcomes)
			steps[i] = models.ValidationStep{Department: d, Outcome: o}
			rejected = rejected || o == models.OutcomeRejete
		}
		if rejected {
			assert.Equal(t, Rejected, AggregateSteps(steps), "steps %+v", steps)
		} else {
			assert.NotEqual(t, Rejected, AggregateSteps(steps), "steps %+v", steps)
		}
	}
}

func TestAggregateSteps_MissingDepartmentIsPending(t *testing.T) {
	steps := []models.ValidationStep{
		{Department: models.DeptMaintenance, Outcome: models.OutcomeValide},
		{Department: models.DeptAdministratif, Outcome: models.OutcomeValide},
		{Department: models.DeptOBC, Outcome: models.OutcomeValide},
	}
	assert.Equal(t, Pending, AggregateSteps(steps))
}

func TestSummarize(t *testing.T) {
	sum := Summarize(workflow(map[models.Department]models.Outcome{
		models.DeptMaintenance: models.OutcomeValide,
		models.DeptOBC:         models.OutcomeRejete,
	}))
	assert.Equal(t, Rejected, sum.Verdict)
	assert.Equal(t, []models.Department{models.DeptMaintenance}, sum.Valides)
	assert.Equal(t, []models.Department{models.DeptOBC}, sum.Rejetes)
	assert.ElementsMatch(t, []models.Department{models.DeptAdministratif, models.DeptHSEQ}, sum.Attentes)
}
