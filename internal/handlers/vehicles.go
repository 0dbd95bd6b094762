package handlers

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	log "github.com/sirupsen/logrus"

	"github.com/ukydev/fleetops/internal/auth"
	"github.com/ukydev/fleetops/internal/db"
	"github.com/ukydev/fleetops/internal/lifecycle"
	"github.com/ukydev/fleetops/internal/middleware"
	"github.com/ukydev/fleetops/internal/models"
)

// VehicleHandler serves the fleet register and every lifecycle entry point.
type VehicleHandler struct {
	orch     *lifecycle.Orchestrator
	vehicles db.VehicleCollection
	logger   log.FieldLogger
}

func NewVehicleHandler(orch *lifecycle.Orchestrator, vehicles db.VehicleCollection, logger log.FieldLogger) *VehicleHandler {
	return &VehicleHandler{orch: orch, vehicles: vehicles, logger: logger}
}

func (h *VehicleHandler) actor(w http.ResponseWriter, r *http.Request) (auth.Actor, bool) {
	actor, ok := middleware.ActorFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "User context not found")
	}
	return actor, ok
}

// List handles GET /api/vehicles?status=&etape=&type_transport=&archived=true
func (h *VehicleHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := db.VehicleFilter{
		Status:        models.VehicleStatus(q.Get("status")),
		Etape:         models.Stage(q.Get("etape")),
		TypeTransport: models.TransportType(q.Get("type_transport")),
	}
	if v := q.Get("archived"); v != "" {
		archived, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_input", "archived must be a boolean")
			return
		}
		filter.IncludeArchived = archived
	}
	vehicles, err := h.vehicles.FindVehicles(r.Context(), filter)
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, vehicles)
}

// Get handles GET /api/vehicles/{id}
func (h *VehicleHandler) Get(w http.ResponseWriter, r *http.Request) {
	v, err := h.orch.Vehicle(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

// Create handles POST /api/vehicles
func (h *VehicleHandler) Create(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	var in lifecycle.VehicleInput
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_input", "Invalid JSON")
		return
	}
	v, err := h.orch.OnboardVehicle(r.Context(), actor, in)
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, v)
}

type vehicleUpdateRequest struct {
	Numero          *string               `json:"numero"`
	Categorie       *models.Category      `json:"categorie"`
	TypeTransport   *models.TransportType `json:"type_transport"`
	Immatriculation *string               `json:"immatriculation"`
	Remorque        *string               `json:"remorque"`
}

// Update handles PUT /api/vehicles/{id}. Only administrative fields are editable.
func (h *VehicleHandler) Update(w http.ResponseWriter, r *http.Request) {
	var req vehicleUpdateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_input", "Invalid JSON")
		return
	}
	if req.Categorie != nil && !models.IsValidCategory(*req.Categorie) {
		writeError(w, http.StatusBadRequest, "invalid_input", "Invalid categorie")
		return
	}
	if req.TypeTransport != nil && !models.IsValidTransportType(*req.TypeTransport) {
		writeError(w, http.StatusBadRequest, "invalid_input", "Invalid type_transport")
		return
	}
	id := mux.Vars(r)["id"]
	err := h.vehicles.UpdateVehicle(r.Context(), id, db.VehicleUpdate{
		Numero:          req.Numero,
		Categorie:       req.Categorie,
		TypeTransport:   req.TypeTransport,
		Immatriculation: req.Immatriculation,
		Remorque:        req.Remorque,
	})
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	h.Get(w, r)
}

// Archive handles DELETE /api/vehicles/{id}
func (h *VehicleHandler) Archive(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := h.vehicles.ArchiveVehicle(r.Context(), id); err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	h.logger.WithField("vehicle_id", id).Info("Vehicle archived")
	w.WriteHeader(http.StatusNoContent)
}

// Workflow handles GET /api/vehicles/{id}/workflow
func (h *VehicleHandler) Workflow(w http.ResponseWriter, r *http.Request) {
	view, err := h.orch.Workflow(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// Sync handles POST /api/vehicles/{id}/sync
func (h *VehicleHandler) Sync(w http.ResponseWriter, r *http.Request) {
	res, err := h.orch.Sync(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type stepRequest struct {
	Outcome     models.Outcome `json:"outcome"`
	Commentaire string         `json:"commentaire,omitempty"`
}

// ValidateStep handles PUT /api/vehicles/{id}/workflow/steps/{department}
func (h *VehicleHandler) ValidateStep(w http.ResponseWriter, r *http.Request) {
	var req stepRequest
	h.run(w, r, &req, func(actor auth.Actor, id string) (interface{}, error) {
		d := models.Department(mux.Vars(r)["department"])
		return h.orch.ValidateStep(r.Context(), actor, id, d, req.Outcome, req.Commentaire)
	})
}

// StartMaintenance handles POST /api/vehicles/{id}/maintenance/start
func (h *VehicleHandler) StartMaintenance(w http.ResponseWriter, r *http.Request) {
	h.run(w, r, nil, func(actor auth.Actor, id string) (interface{}, error) {
		return h.orch.StartMaintenance(r.Context(), actor, id)
	})
}

// FinishDiagnostic handles POST /api/vehicles/{id}/maintenance/finish
func (h *VehicleHandler) FinishDiagnostic(w http.ResponseWriter, r *http.Request) {
	var in lifecycle.DiagnosticInput
	h.run(w, r, &in, func(actor auth.Actor, id string) (interface{}, error) {
		return h.orch.FinishDiagnostic(r.Context(), actor, id, in)
	})
}

// DispatchToAdmin handles POST /api/vehicles/{id}/admin/dispatch
func (h *VehicleHandler) DispatchToAdmin(w http.ResponseWriter, r *http.Request) {
	h.run(w, r, nil, func(actor auth.Actor, id string) (interface{}, error) {
		return h.orch.DispatchToAdmin(r.Context(), actor, id)
	})
}

// FinishAdminCheck handles POST /api/vehicles/{id}/admin/check
func (h *VehicleHandler) FinishAdminCheck(w http.ResponseWriter, r *http.Request) {
	var in lifecycle.ControlInput
	h.run(w, r, &in, func(actor auth.Actor, id string) (interface{}, error) {
		return h.orch.FinishAdminCheck(r.Context(), actor, id, in)
	})
}

// FinishOBCControl handles POST /api/vehicles/{id}/obc/control
func (h *VehicleHandler) FinishOBCControl(w http.ResponseWriter, r *http.Request) {
	var in lifecycle.OBCInput
	h.run(w, r, &in, func(actor auth.Actor, id string) (interface{}, error) {
		return h.orch.FinishOBCControl(r.Context(), actor, id, in)
	})
}

// FinishHSSEControl handles POST /api/vehicles/{id}/hsse/control
func (h *VehicleHandler) FinishHSSEControl(w http.ResponseWriter, r *http.Request) {
	var in lifecycle.ControlInput
	h.run(w, r, &in, func(actor auth.Actor, id string) (interface{}, error) {
		return h.orch.FinishHSSEControl(r.Context(), actor, id, in)
	})
}

type missionResponse struct {
	*lifecycle.Transition
	Order *models.DeliveryOrder `json:"delivery_order"`
}

// IssueDeliveryOrder handles POST /api/vehicles/{id}/missions
func (h *VehicleHandler) IssueDeliveryOrder(w http.ResponseWriter, r *http.Request) {
	var in lifecycle.DeliveryInput
	h.run(w, r, &in, func(actor auth.Actor, id string) (interface{}, error) {
		res, order, err := h.orch.IssueDeliveryOrder(r.Context(), actor, id, in)
		if err != nil {
			return nil, err
		}
		return missionResponse{Transition: res, Order: order}, nil
	})
}

// CloseDeliveryOrder handles POST /api/vehicles/{id}/missions/{orderID}/close
func (h *VehicleHandler) CloseDeliveryOrder(w http.ResponseWriter, r *http.Request) {
	h.run(w, r, nil, func(actor auth.Actor, id string) (interface{}, error) {
		return h.orch.CloseDeliveryOrder(r.Context(), actor, id, mux.Vars(r)["orderID"])
	})
}

// Override handles POST /api/vehicles/{id}/override
func (h *VehicleHandler) Override(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Reason string `json:"reason"`
	}
	h.run(w, r, &in, func(actor auth.Actor, id string) (interface{}, error) {
		return h.orch.Override(r.Context(), actor, id, in.Reason)
	})
}

// run decodes the body into in (when non-nil), calls fn with the caller and the
// vehicle ID, and writes its result.
func (h *VehicleHandler) run(w http.ResponseWriter, r *http.Request, in interface{}, fn func(actor auth.Actor, vehicleID string) (interface{}, error)) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	if in != nil {
		if err := decodeJSON(r, in); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_input", "Invalid JSON")
			return
		}
	}
	res, err := fn(actor, mux.Vars(r)["id"])
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
