package handlers

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/ukydev/fleetops/internal/auth"
	"github.com/ukydev/fleetops/internal/metrics"
	"github.com/ukydev/fleetops/internal/middleware"
)

// Handlers groups everything the router serves.
type Handlers struct {
	Auth      *AuthHandler
	Vehicles  *VehicleHandler
	Documents *DocumentHandler
	AuthMW    *middleware.AuthMiddleware
	RateLimit *middleware.RateLimitMiddleware
}

// NewRouter wires the HTTP API. Lifecycle routes check capabilities in the
// orchestrator; the remaining routes check them here.
func NewRouter(h Handlers) *mux.Router {
	r := mux.NewRouter()
	r.Use(metrics.Instrument)

	r.HandleFunc("/health", Health).Methods(http.MethodGet)
	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	api.Use(h.AuthMW.Authenticate)
	need := h.AuthMW.RequireCapability

	login := h.RateLimit.RateLimit(10, time.Minute)
	api.Handle("/auth/login", login(http.HandlerFunc(h.Auth.Login))).Methods(http.MethodPost)
	api.Handle("/auth/register", login(http.HandlerFunc(h.Auth.Register))).Methods(http.MethodPost)
	api.HandleFunc("/auth/profile", h.Auth.GetProfile).Methods(http.MethodGet)
	api.HandleFunc("/auth/password", h.Auth.ChangePassword).Methods(http.MethodPost)
	api.Handle("/users", need(auth.ActionManageVehicles)(http.HandlerFunc(h.Auth.ListUsers))).Methods(http.MethodGet)
	api.Handle("/users", need(auth.ActionManageUsers)(http.HandlerFunc(h.Auth.CreateUser))).Methods(http.MethodPost)

	read := need(auth.ActionReadFleet)
	manage := need(auth.ActionManageVehicles)
	api.Handle("/vehicles", read(http.HandlerFunc(h.Vehicles.List))).Methods(http.MethodGet)
	api.HandleFunc("/vehicles", h.Vehicles.Create).Methods(http.MethodPost)
	api.Handle("/vehicles/{id}", read(http.HandlerFunc(h.Vehicles.Get))).Methods(http.MethodGet)
	api.Handle("/vehicles/{id}", manage(http.HandlerFunc(h.Vehicles.Update))).Methods(http.MethodPut)
	api.Handle("/vehicles/{id}", manage(http.HandlerFunc(h.Vehicles.Archive))).Methods(http.MethodDelete)
	api.Handle("/vehicles/{id}/sync", need(auth.ActionSyncStatus)(http.HandlerFunc(h.Vehicles.Sync))).Methods(http.MethodPost)
	api.Handle("/vehicles/{id}/workflow", read(http.HandlerFunc(h.Vehicles.Workflow))).Methods(http.MethodGet)
	api.HandleFunc("/vehicles/{id}/workflow/steps/{department}", h.Vehicles.ValidateStep).Methods(http.MethodPut)

	api.HandleFunc("/vehicles/{id}/maintenance/start", h.Vehicles.StartMaintenance).Methods(http.MethodPost)
	api.HandleFunc("/vehicles/{id}/maintenance/finish", h.Vehicles.FinishDiagnostic).Methods(http.MethodPost)
	api.HandleFunc("/vehicles/{id}/admin/dispatch", h.Vehicles.DispatchToAdmin).Methods(http.MethodPost)
	api.HandleFunc("/vehicles/{id}/admin/check", h.Vehicles.FinishAdminCheck).Methods(http.MethodPost)
	api.HandleFunc("/vehicles/{id}/obc/control", h.Vehicles.FinishOBCControl).Methods(http.MethodPost)
	api.HandleFunc("/vehicles/{id}/hsse/control", h.Vehicles.FinishHSSEControl).Methods(http.MethodPost)
	api.HandleFunc("/vehicles/{id}/missions", h.Vehicles.IssueDeliveryOrder).Methods(http.MethodPost)
	api.HandleFunc("/vehicles/{id}/missions/{orderID}/close", h.Vehicles.CloseDeliveryOrder).Methods(http.MethodPost)
	api.HandleFunc("/vehicles/{id}/override", h.Vehicles.Override).Methods(http.MethodPost)

	docs := need(auth.ActionManageDocuments)
	api.Handle("/documents", read(http.HandlerFunc(h.Documents.List))).Methods(http.MethodGet)
	api.Handle("/documents", docs(http.HandlerFunc(h.Documents.Upload))).Methods(http.MethodPost)
	api.Handle("/documents/alerts", read(http.HandlerFunc(h.Documents.Alerts))).Methods(http.MethodGet)
	api.Handle("/documents/{id}", docs(http.HandlerFunc(h.Documents.Delete))).Methods(http.MethodDelete)

	return r
}

// Health reports liveness.
func Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
