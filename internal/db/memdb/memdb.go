// Package memdb is an in-memory db.Store used by tests and by STORE=memory deployments.
//
// WithTransaction serializes transactions with every other operation and restores a
// snapshot when the callback fails. Operations called with the transaction's context
// run inside it; any other operation waits for the transaction to finish.
package memdb

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/ukydev/fleetops/internal/db"
	"github.com/ukydev/fleetops/internal/fleeterr"
	"github.com/ukydev/fleetops/internal/models"
)

type state struct {
	vehicles    map[string]models.Vehicle
	workflows   []models.ValidationWorkflow
	documents   map[string]models.Document
	diagnostics map[string]models.DiagnosticMaintenance
	controls    map[string]models.Control
	deliveries  []models.DeliveryOrder
	transitions []models.TransitionRecord
}

func newState() state {
	return state{
		vehicles:    map[string]models.Vehicle{},
		documents:   map[string]models.Document{},
		diagnostics: map[string]models.DiagnosticMaintenance{},
		controls:    map[string]models.Control{},
	}
}

func (s state) clone() state {
	c := newState()
	for k, v := range s.vehicles {
		c.vehicles[k] = v
	}
	for _, wf := range s.workflows {
		c.workflows = append(c.workflows, copyWorkflow(wf))
	}
	for k, d := range s.documents {
		c.documents[k] = d
	}
	for k, d := range s.diagnostics {
		d.PiecesJointes = append([]string(nil), d.PiecesJointes...)
		c.diagnostics[k] = d
	}
	for k, ctl := range s.controls {
		c.controls[k] = ctl
	}
	c.deliveries = append(c.deliveries, s.deliveries...)
	c.transitions = append(c.transitions, s.transitions...)
	return c
}

func copyWorkflow(wf models.ValidationWorkflow) models.ValidationWorkflow {
	wf.Steps = append([]models.ValidationStep(nil), wf.Steps...)
	return wf
}

// Store implements db.Store in memory.
type Store struct {
	mu    sync.Mutex
	txMu  sync.Mutex
	data  state
	fault func(op string) error

	// Now stamps updated_at and closing dates.
	Now func() time.Time
}

var _ db.Store = (*Store)(nil)

// New returns an empty store.
func New() *Store {
	return &Store{data: newState(), Now: time.Now}
}

// SetFault installs a hook consulted before every operation; a non-nil return fails
// the operation with that error before anything is written.
func (s *Store) SetFault(fn func(op string) error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fault = fn
}

type txKey struct{}

// inTx reports whether ctx belongs to a transaction running on s.
func (s *Store) inTx(ctx context.Context) bool {
	return ctx.Value(txKey{}) == s
}

// begin locks the store and runs the fault hook. Outside a transaction it also waits
// for any running transaction. Every successful begin is paired with end.
func (s *Store) begin(ctx context.Context, op string) error {
	tx := s.inTx(ctx)
	if !tx {
		s.txMu.Lock()
	}
	s.mu.Lock()
	if s.fault != nil {
		if err := s.fault(op); err != nil {
			s.mu.Unlock()
			if !tx {
				s.txMu.Unlock()
			}
			return err
		}
	}
	return nil
}

func (s *Store) end(ctx context.Context) {
	s.mu.Unlock()
	if !s.inTx(ctx) {
		s.txMu.Unlock()
	}
}

// WithTransaction runs fn and restores the previous state if it fails. A nested call
// joins the running transaction.
func (s *Store) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if s.inTx(ctx) {
		return fn(ctx)
	}
	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.Lock()
	snapshot := s.data.clone()
	s.mu.Unlock()

	if err := fn(context.WithValue(ctx, txKey{}, s)); err != nil {
		s.mu.Lock()
		s.data = snapshot
		s.mu.Unlock()
		return err
	}
	return nil
}

func notFound(op string) error { return fmt.Errorf("%s: %w", op, fleeterr.ErrNotFound) }
func conflict(op string) error { return fmt.Errorf("%s: %w", op, fleeterr.ErrConflict) }

func (s *Store) InsertVehicle(ctx context.Context, vehicle models.Vehicle) error {
	if err := s.begin(ctx, "insert vehicle"); err != nil {
		return err
	}
	defer s.end(ctx)
	if vehicle.ID.IsZero() {
		vehicle.ID = primitive.NewObjectID()
	}
	for _, v := range s.data.vehicles {
		if v.Numero == vehicle.Numero || v.ID == vehicle.ID {
			return conflict("insert vehicle")
		}
	}
	s.data.vehicles[vehicle.ID.Hex()] = vehicle
	return nil
}

func (s *Store) FindVehicles(ctx context.Context, filter db.VehicleFilter) ([]models.Vehicle, error) {
	if err := s.begin(ctx, "find vehicles"); err != nil {
		return nil, err
	}
	defer s.end(ctx)
	out := []models.Vehicle{}
	for _, v := range s.data.vehicles {
		switch {
		case filter.Status != "" && v.Status != filter.Status,
			filter.Etape != "" && v.Etape != filter.Etape,
			filter.TypeTransport != "" && v.TypeTransport != filter.TypeTransport,
			!filter.IncludeArchived && v.Archived():
			continue
		}
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Numero < out[j].Numero })
	return out, nil
}

func (s *Store) FindVehicleByID(ctx context.Context, id string) (*models.Vehicle, error) {
	if err := s.begin(ctx, "find vehicle"); err != nil {
		return nil, err
	}
	defer s.end(ctx)
	v, ok := s.data.vehicles[id]
	if !ok {
		return nil, notFound("find vehicle")
	}
	return &v, nil
}

func (s *Store) UpdateVehicle(ctx context.Context, id string, update db.VehicleUpdate) error {
	if err := s.begin(ctx, "update vehicle"); err != nil {
		return err
	}
	defer s.end(ctx)
	v, ok := s.data.vehicles[id]
	if !ok {
		return notFound("update vehicle")
	}
	if update.Numero != nil {
		v.Numero = *update.Numero
	}
	if update.Categorie != nil {
		v.Categorie = *update.Categorie
	}
	if update.TypeTransport != nil {
		v.TypeTransport = *update.TypeTransport
	}
	if update.Immatriculation != nil {
		v.Immatriculation = *update.Immatriculation
	}
	if update.Remorque != nil {
		v.Remorque = *update.Remorque
	}
	v.UpdatedAt = s.Now()
	s.data.vehicles[id] = v
	return nil
}

func (s *Store) SetVehicleStatus(ctx context.Context, id string, version int64, status models.VehicleStatus, validationRequise bool) error {
	if err := s.begin(ctx, "set vehicle status"); err != nil {
		return err
	}
	defer s.end(ctx)
	v, ok := s.data.vehicles[id]
	if !ok {
		return notFound("set vehicle status")
	}
	if v.Version != version {
		return conflict("set vehicle status")
	}
	v.Status = status
	v.ValidationRequise = validationRequise
	v.Version++
	v.UpdatedAt = s.Now()
	s.data.vehicles[id] = v
	return nil
}

func (s *Store) SetVehicleStage(ctx context.Context, id string, from, to models.Stage) error {
	if err := s.begin(ctx, "set vehicle stage"); err != nil {
		return err
	}
	defer s.end(ctx)
	v, ok := s.data.vehicles[id]
	if !ok {
		return notFound("set vehicle stage")
	}
	if v.Etape != from {
		return conflict("set vehicle stage")
	}
	v.Etape = to
	v.UpdatedAt = s.Now()
	s.data.vehicles[id] = v
	return nil
}

func (s *Store) ArchiveVehicle(ctx context.Context, id string) error {
	if err := s.begin(ctx, "archive vehicle"); err != nil {
		return err
	}
	defer s.end(ctx)
	v, ok := s.data.vehicles[id]
	if !ok {
		return notFound("archive vehicle")
	}
	if v.Archived() {
		return conflict("archive vehicle")
	}
	now := s.Now()
	v.ArchivedAt = &now
	v.UpdatedAt = now
	s.data.vehicles[id] = v
	return nil
}

func (s *Store) InsertWorkflow(ctx context.Context, wf models.ValidationWorkflow) error {
	if err := s.begin(ctx, "insert workflow"); err != nil {
		return err
	}
	defer s.end(ctx)
	if wf.ID.IsZero() {
		wf.ID = primitive.NewObjectID()
	}
	for _, existing := range s.data.workflows {
		if existing.ID == wf.ID || (wf.Open && existing.Open && existing.VehicleID == wf.VehicleID) {
			return conflict("insert workflow")
		}
	}
	s.data.workflows = append(s.data.workflows, copyWorkflow(wf))
	return nil
}

// latest returns the index of the newest workflow of vehicleID matching keep, or -1.
func (s *Store) latest(vehicleID string, keep func(models.ValidationWorkflow) bool) int {
	idx := -1
	for i, wf := range s.data.workflows {
		if wf.VehicleID != vehicleID || !keep(wf) {
			continue
		}
		if idx == -1 || !wf.CreatedAt.Before(s.data.workflows[idx].CreatedAt) {
			idx = i
		}
	}
	return idx
}

func (s *Store) LatestWorkflow(ctx context.Context, vehicleID string) (*models.ValidationWorkflow, error) {
	if err := s.begin(ctx, "latest workflow"); err != nil {
		return nil, err
	}
	defer s.end(ctx)
	i := s.latest(vehicleID, func(models.ValidationWorkflow) bool { return true })
	if i < 0 {
		return nil, notFound("latest workflow")
	}
	wf := copyWorkflow(s.data.workflows[i])
	return &wf, nil
}

func (s *Store) OpenWorkflow(ctx context.Context, vehicleID string) (*models.ValidationWorkflow, error) {
	if err := s.begin(ctx, "open workflow"); err != nil {
		return nil, err
	}
	defer s.end(ctx)
	i := s.latest(vehicleID, func(wf models.ValidationWorkflow) bool { return wf.Open })
	if i < 0 {
		return nil, notFound("open workflow")
	}
	wf := copyWorkflow(s.data.workflows[i])
	return &wf, nil
}

func (s *Store) workflowIndex(id string) int {
	for i, wf := range s.data.workflows {
		if wf.ID.Hex() == id {
			return i
		}
	}
	return -1
}

func (s *Store) UpdateStep(ctx context.Context, workflowID string, step models.ValidationStep) error {
	if err := s.begin(ctx, "update step"); err != nil {
		return err
	}
	defer s.end(ctx)
	i := s.workflowIndex(workflowID)
	if i < 0 {
		return notFound("update step")
	}
	wf := &s.data.workflows[i]
	if !wf.Open {
		return conflict("update step")
	}
	for j := range wf.Steps {
		if wf.Steps[j].Department == step.Department {
			steps := append([]models.ValidationStep(nil), wf.Steps...)
			steps[j] = step
			wf.Steps = steps
			return nil
		}
	}
	return conflict("update step")
}

func (s *Store) CloseWorkflow(ctx context.Context, workflowID string) error {
	if err := s.begin(ctx, "close workflow"); err != nil {
		return err
	}
	defer s.end(ctx)
	i := s.workflowIndex(workflowID)
	if i < 0 {
		return notFound("close workflow")
	}
	wf := &s.data.workflows[i]
	if wf.Open {
		now := s.Now()
		wf.Open = false
		wf.ClosedAt = &now
	}
	return nil
}

func (s *Store) InsertDocument(ctx context.Context, doc models.Document) error {
	if err := s.begin(ctx, "insert document"); err != nil {
		return err
	}
	defer s.end(ctx)
	if doc.ID.IsZero() {
		doc.ID = primitive.NewObjectID()
	}
	if _, ok := s.data.documents[doc.ID.Hex()]; ok {
		return conflict("insert document")
	}
	s.data.documents[doc.ID.Hex()] = doc
	return nil
}

func (s *Store) FindDocumentByID(ctx context.Context, id string) (*models.Document, error) {
	if err := s.begin(ctx, "find document"); err != nil {
		return nil, err
	}
	defer s.end(ctx)
	d, ok := s.data.documents[id]
	if !ok {
		return nil, notFound("find document")
	}
	return &d, nil
}

func (s *Store) FindDocument(ctx context.Context, ownerKind models.OwnerKind, ownerID, typeDocument string) (*models.Document, error) {
	if err := s.begin(ctx, "find document"); err != nil {
		return nil, err
	}
	defer s.end(ctx)
	var found *models.Document
	for _, d := range s.data.documents {
		if d.OwnerKind != ownerKind || d.OwnerID != ownerID || d.TypeDocument != typeDocument {
			continue
		}
		if found == nil || d.CreatedAt.After(found.CreatedAt) {
			d := d
			found = &d
		}
	}
	if found == nil {
		return nil, notFound("find document")
	}
	return found, nil
}

func (s *Store) FindDocuments(ctx context.Context, ownerKind models.OwnerKind, ownerID string) ([]models.Document, error) {
	if err := s.begin(ctx, "find documents"); err != nil {
		return nil, err
	}
	defer s.end(ctx)
	out := []models.Document{}
	for _, d := range s.data.documents {
		if (ownerKind != "" && d.OwnerKind != ownerKind) || (ownerID != "" && d.OwnerID != ownerID) {
			continue
		}
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID.Hex() < out[j].ID.Hex()
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *Store) DeleteDocument(ctx context.Context, id string) error {
	if err := s.begin(ctx, "delete document"); err != nil {
		return err
	}
	defer s.end(ctx)
	if _, ok := s.data.documents[id]; !ok {
		return notFound("delete document")
	}
	delete(s.data.documents, id)
	return nil
}

func (s *Store) UpsertDiagnostic(ctx context.Context, diag models.DiagnosticMaintenance) error {
	if err := s.begin(ctx, "upsert diagnostic"); err != nil {
		return err
	}
	defer s.end(ctx)
	if prev, ok := s.data.diagnostics[diag.WorkflowID]; ok {
		diag.ID = prev.ID
	} else if diag.ID.IsZero() {
		diag.ID = primitive.NewObjectID()
	}
	diag.PiecesJointes = append([]string(nil), diag.PiecesJointes...)
	s.data.diagnostics[diag.WorkflowID] = diag
	return nil
}

func (s *Store) FindDiagnostic(ctx context.Context, workflowID string) (*models.DiagnosticMaintenance, error) {
	if err := s.begin(ctx, "find diagnostic"); err != nil {
		return nil, err
	}
	defer s.end(ctx)
	d, ok := s.data.diagnostics[workflowID]
	if !ok {
		return nil, notFound("find diagnostic")
	}
	return &d, nil
}

func controlKey(workflowID string, kind models.ControlKind) string {
	return workflowID + "/" + string(kind)
}

func (s *Store) UpsertControl(ctx context.Context, control models.Control) error {
	if err := s.begin(ctx, "upsert control"); err != nil {
		return err
	}
	defer s.end(ctx)
	key := controlKey(control.WorkflowID, control.Kind)
	if prev, ok := s.data.controls[key]; ok {
		control.ID = prev.ID
	} else if control.ID.IsZero() {
		control.ID = primitive.NewObjectID()
	}
	s.data.controls[key] = control
	return nil
}

func (s *Store) FindControls(ctx context.Context, workflowID string) ([]models.Control, error) {
	if err := s.begin(ctx, "find controls"); err != nil {
		return nil, err
	}
	defer s.end(ctx)
	out := []models.Control{}
	for _, c := range s.data.controls {
		if c.WorkflowID == workflowID {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) UpsertDeliveryOrder(ctx context.Context, order models.DeliveryOrder) (*models.DeliveryOrder, error) {
	if err := s.begin(ctx, "upsert delivery order"); err != nil {
		return nil, err
	}
	defer s.end(ctx)
	for _, o := range s.data.deliveries {
		if o.Numero == order.Numero {
			return &o, nil
		}
	}
	if order.ID.IsZero() {
		order.ID = primitive.NewObjectID()
	}
	s.data.deliveries = append(s.data.deliveries, order)
	return &order, nil
}

func (s *Store) FindDeliveryOrderByID(ctx context.Context, id string) (*models.DeliveryOrder, error) {
	if err := s.begin(ctx, "find delivery order"); err != nil {
		return nil, err
	}
	defer s.end(ctx)
	for _, o := range s.data.deliveries {
		if o.ID.Hex() == id {
			return &o, nil
		}
	}
	return nil, notFound("find delivery order")
}

func (s *Store) FindOpenDeliveryOrder(ctx context.Context, vehicleID string) (*models.DeliveryOrder, error) {
	if err := s.begin(ctx, "find open delivery order"); err != nil {
		return nil, err
	}
	defer s.end(ctx)
	for _, o := range s.data.deliveries {
		if o.VehicleID == vehicleID && o.Status == models.DeliveryEnCours {
			return &o, nil
		}
	}
	return nil, notFound("find open delivery order")
}

func (s *Store) CloseDeliveryOrder(ctx context.Context, id string) error {
	if err := s.begin(ctx, "close delivery order"); err != nil {
		return err
	}
	defer s.end(ctx)
	for i := range s.data.deliveries {
		o := &s.data.deliveries[i]
		if o.ID.Hex() != id {
			continue
		}
		if o.Status != models.DeliveryEnCours {
			return conflict("close delivery order")
		}
		now := s.Now()
		o.Status = models.DeliveryCloture
		o.ClosedAt = &now
		return nil
	}
	return notFound("close delivery order")
}

func (s *Store) InsertTransition(ctx context.Context, rec models.TransitionRecord) error {
	if err := s.begin(ctx, "insert transition"); err != nil {
		return err
	}
	defer s.end(ctx)
	if rec.ID.IsZero() {
		rec.ID = primitive.NewObjectID()
	}
	s.data.transitions = append(s.data.transitions, rec)
	return nil
}

func (s *Store) FindTransitions(ctx context.Context, vehicleID string) ([]models.TransitionRecord, error) {
	if err := s.begin(ctx, "find transitions"); err != nil {
		return nil, err
	}
	defer s.end(ctx)
	out := []models.TransitionRecord{}
	for _, r := range s.data.transitions {
		if r.VehicleID == vehicleID {
			out = append(out, r)
		}
	}
	return out, nil
}
