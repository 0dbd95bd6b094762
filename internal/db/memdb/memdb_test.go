package memdb

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/ukydev/fleetops/internal/db"
	"github.com/ukydev/fleetops/internal/fleeterr"
	"github.com/ukydev/fleetops/internal/models"
)

func seedVehicle(t *testing.T, s *Store, numero string) models.Vehicle {
	t.Helper()
	v := models.Vehicle{
		ID:                primitive.NewObjectID(),
		Numero:            numero,
		Categorie:         models.CategoryTracteurRemorque,
		TypeTransport:     models.TransportBauxite,
		Status:            models.StatusValidationRequise,
		ValidationRequise: true,
		Etape:             models.StageRetourMaintenance,
	}
	require.NoError(t, s.InsertVehicle(context.Background(), v))
	return v
}

func TestStore_SetVehicleStatusVersion(t *testing.T) {
	s := New()
	ctx := context.Background()
	v := seedVehicle(t, s, "V1")

	require.NoError(t, s.SetVehicleStatus(ctx, v.ID.Hex(), 0, models.StatusIndisponible, false))
	assert.ErrorIs(t, s.SetVehicleStatus(ctx, v.ID.Hex(), 0, models.StatusDisponible, false), fleeterr.ErrConflict)
	assert.ErrorIs(t, s.SetVehicleStatus(ctx, "missing", 0, models.StatusDisponible, false), fleeterr.ErrNotFound)

	got, err := s.FindVehicleByID(ctx, v.ID.Hex())
	require.NoError(t, err)
	assert.Equal(t, models.StatusIndisponible, got.Status)
	assert.Equal(t, int64(1), got.Version)
}

func TestStore_InsertVehicleUniqueNumero(t *testing.T) {
	s := New()
	seedVehicle(t, s, "V1")
	err := s.InsertVehicle(context.Background(), models.Vehicle{Numero: "V1"})
	assert.ErrorIs(t, err, fleeterr.ErrConflict)
}

func TestStore_FindVehiclesFilter(t *testing.T) {
	s := New()
	ctx := context.Background()
	a := seedVehicle(t, s, "A")
	seedVehicle(t, s, "B")
	require.NoError(t, s.SetVehicleStage(ctx, a.ID.Hex(), models.StageRetourMaintenance, models.StageMaintenanceEnCours))

	list, err := s.FindVehicles(ctx, db.VehicleFilter{Etape: models.StageMaintenanceEnCours})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "A", list[0].Numero)

	require.NoError(t, s.ArchiveVehicle(ctx, a.ID.Hex()))
	list, err = s.FindVehicles(ctx, db.VehicleFilter{})
	require.NoError(t, err)
	assert.Len(t, list, 1)
	list, err = s.FindVehicles(ctx, db.VehicleFilter{IncludeArchived: true})
	require.NoError(t, err)
	assert.Len(t, list, 2)
}

func TestStore_OneOpenWorkflow(t *testing.T) {
	s := New()
	ctx := context.Background()
	now := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)

	first := models.NewValidationWorkflow("v1", now)
	require.NoError(t, s.InsertWorkflow(ctx, first))
	assert.ErrorIs(t, s.InsertWorkflow(ctx, models.NewValidationWorkflow("v1", now)), fleeterr.ErrConflict)

	require.NoError(t, s.CloseWorkflow(ctx, first.ID.Hex()))
	second := models.NewValidationWorkflow("v1", now.Add(time.Hour))
	require.NoError(t, s.InsertWorkflow(ctx, second))

	latest, err := s.LatestWorkflow(ctx, "v1")
	require.NoError(t, err)
	assert.Equal(t, second.ID, latest.ID)

	// steps of a returned workflow are a copy
	latest.Steps[0].Outcome = models.OutcomeRejete
	again, err := s.LatestWorkflow(ctx, "v1")
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeEnAttente, again.Steps[0].Outcome)

	assert.ErrorIs(t, s.UpdateStep(ctx, first.ID.Hex(), models.ValidationStep{Department: models.DeptOBC}), fleeterr.ErrConflict)
}

func TestStore_WithTransactionRollsBack(t *testing.T) {
	s := New()
	ctx := context.Background()
	v := seedVehicle(t, s, "V1")
	boom := errors.New("boom")

	err := s.WithTransaction(ctx, func(ctx context.Context) error {
		require.NoError(t, s.SetVehicleStage(ctx, v.ID.Hex(), models.StageRetourMaintenance, models.StageMaintenanceEnCours))
		require.NoError(t, s.InsertWorkflow(ctx, models.NewValidationWorkflow(v.ID.Hex(), time.Now())))
		return boom
	})
	assert.ErrorIs(t, err, boom)

	got, err := s.FindVehicleByID(ctx, v.ID.Hex())
	require.NoError(t, err)
	assert.Equal(t, models.StageRetourMaintenance, got.Etape)
	_, err = s.LatestWorkflow(ctx, v.ID.Hex())
	assert.ErrorIs(t, err, fleeterr.ErrNotFound)
}

func TestStore_RollbackKeepsOtherVehiclesWrites(t *testing.T) {
	s := New()
	ctx := context.Background()
	a := seedVehicle(t, s, "A")
	b := seedVehicle(t, s, "B")
	boom := errors.New("boom")

	inTx := make(chan struct{})
	release := make(chan struct{})
	txDone := make(chan error, 1)
	go func() {
		txDone <- s.WithTransaction(ctx, func(ctx context.Context) error {
			if err := s.SetVehicleStage(ctx, b.ID.Hex(), models.StageRetourMaintenance, models.StageMaintenanceEnCours); err != nil {
				return err
			}
			close(inTx)
			<-release
			return boom
		})
	}()
	<-inTx

	written := make(chan error, 1)
	go func() {
		written <- s.SetVehicleStatus(ctx, a.ID.Hex(), 0, models.StatusDisponible, false)
	}()

	select {
	case err := <-written:
		t.Fatalf("write on A ran inside B's transaction: %v", err)
	case <-time.After(20 * time.Millisecond):
	}
	close(release)
	assert.ErrorIs(t, <-txDone, boom)
	require.NoError(t, <-written)

	gotA, err := s.FindVehicleByID(ctx, a.ID.Hex())
	require.NoError(t, err)
	assert.Equal(t, models.StatusDisponible, gotA.Status)
	assert.False(t, gotA.ValidationRequise)
	assert.Equal(t, int64(1), gotA.Version)

	gotB, err := s.FindVehicleByID(ctx, b.ID.Hex())
	require.NoError(t, err)
	assert.Equal(t, models.StageRetourMaintenance, gotB.Etape)
}

func TestStore_NestedTransactionJoins(t *testing.T) {
	s := New()
	ctx := context.Background()
	v := seedVehicle(t, s, "V1")

	err := s.WithTransaction(ctx, func(ctx context.Context) error {
		return s.WithTransaction(ctx, func(ctx context.Context) error {
			return s.SetVehicleStage(ctx, v.ID.Hex(), models.StageRetourMaintenance, models.StageMaintenanceEnCours)
		})
	})
	require.NoError(t, err)

	got, err := s.FindVehicleByID(ctx, v.ID.Hex())
	require.NoError(t, err)
	assert.Equal(t, models.StageMaintenanceEnCours, got.Etape)
}

func TestStore_Fault(t *testing.T) {
	s := New()
	v := seedVehicle(t, s, "V1")
	s.SetFault(func(op string) error {
		if op == "set vehicle status" {
			return fleeterr.Transient(op, context.DeadlineExceeded)
		}
		return nil
	})
	err := s.SetVehicleStatus(context.Background(), v.ID.Hex(), 0, models.StatusDisponible, false)
	assert.True(t, fleeterr.IsTransient(err))
	_, err = s.FindVehicleByID(context.Background(), v.ID.Hex())
	assert.NoError(t, err)
}

func TestStore_DeliveryOrders(t *testing.T) {
	s := New()
	ctx := context.Background()
	order := models.DeliveryOrder{Numero: "BL-1", VehicleID: "v1", Status: models.DeliveryEnCours}

	first, err := s.UpsertDeliveryOrder(ctx, order)
	require.NoError(t, err)
	second, err := s.UpsertDeliveryOrder(ctx, order)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	require.NoError(t, s.CloseDeliveryOrder(ctx, first.ID.Hex()))
	assert.ErrorIs(t, s.CloseDeliveryOrder(ctx, first.ID.Hex()), fleeterr.ErrConflict)
	_, err = s.FindOpenDeliveryOrder(ctx, "v1")
	assert.ErrorIs(t, err, fleeterr.ErrNotFound)
}

func TestUsers(t *testing.T) {
	u := NewUsers()
	ctx := context.Background()
	require.NoError(t, u.InsertUser(ctx, models.User{Username: "amadou", Email: "a@x.gn", Role: models.RoleOBC}))
	assert.ErrorIs(t, u.InsertUser(ctx, models.User{Username: "amadou", Email: "b@x.gn"}), fleeterr.ErrConflict)

	user, err := u.FindUserByUsername(ctx, "amadou")
	require.NoError(t, err)
	assert.True(t, user.IsActive)
	require.NoError(t, u.UpdateLastLogin(ctx, user.ID.Hex()))

	got, err := u.FindUserByID(ctx, user.ID.Hex())
	require.NoError(t, err)
	assert.NotNil(t, got.LastLogin)
}
