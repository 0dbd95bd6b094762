package handlers

import (
	"bytes"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/ukydev/fleetops/internal/auth"
	"github.com/ukydev/fleetops/internal/db/memdb"
	"github.com/ukydev/fleetops/internal/expiry"
	"github.com/ukydev/fleetops/internal/lifecycle"
	"github.com/ukydev/fleetops/internal/lock"
	"github.com/ukydev/fleetops/internal/middleware"
	"github.com/ukydev/fleetops/internal/models"
	"github.com/ukydev/fleetops/internal/notify"
	"github.com/ukydev/fleetops/internal/status"
	"github.com/ukydev/fleetops/internal/storage"
)

var apiToday = time.Date(2024, 2, 20, 9, 0, 0, 0, time.UTC)

type apiFixture struct {
	router *mux.Router
	svc    *auth.Service
	store  *memdb.Store
	files  *storage.Memory
}

func newAPI(t *testing.T) *apiFixture {
	t.Helper()
	logger, _ := test.NewNullLogger()
	store := memdb.New()
	locker := lock.NewLocal()
	orch := lifecycle.New(store, locker, status.NewSynchronizer(store, locker, logger), notify.Nop{}, logger)
	svc := auth.NewService("router-test-secret", time.Hour)
	files := storage.NewMemory("http://files.local/fleetops")

	scanner := expiry.NewScanner(store, logger, nil)
	scanner.Now = func() time.Time { return apiToday }
	docs := NewDocumentHandler(store, store, files, scanner, nil, logger)
	docs.now = func() time.Time { return apiToday }

	router := NewRouter(Handlers{
		Auth:      NewAuthHandler(svc, memdb.NewUsers(), logger),
		Vehicles:  NewVehicleHandler(orch, store, logger),
		Documents: docs,
		AuthMW:    middleware.NewAuthMiddleware(svc),
		RateLimit: middleware.NewRateLimitMiddleware(),
	})
	return &apiFixture{router: router, svc: svc, store: store, files: files}
}

func (f *apiFixture) token(t *testing.T, role models.Role) string {
	t.Helper()
	token, err := f.svc.GenerateToken(&models.User{ID: primitive.NewObjectID(), Username: "u-" + string(role), Role: role})
	require.NoError(t, err)
	return token
}

func (f *apiFixture) do(t *testing.T, role models.Role, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, r)
	if role != "" {
		req.Header.Set("Authorization", "Bearer "+f.token(t, role))
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var body ErrorBody
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body), w.Body.String())
	return body.Error.Code
}

func TestRouter_HealthAndMetrics(t *testing.T) {
	f := newAPI(t)
	w := f.do(t, "", "GET", "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())

	w = f.do(t, "", "GET", "/metrics", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = f.do(t, "", "GET", "/api/vehicles", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRouter_VehicleLifecycle(t *testing.T) {
	f := newAPI(t)

	w := f.do(t, models.RoleExploitation, "POST", "/api/vehicles", lifecycle.VehicleInput{
		Numero: "T-42", Categorie: models.CategoryPorteur, TypeTransport: models.TransportBauxite, Immatriculation: "RC-4242",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var created models.Vehicle
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	assert.Equal(t, models.StatusValidationRequise, created.Status)
	base := "/api/vehicles/" + created.ID.Hex()

	w = f.do(t, models.RoleHSEQ, "POST", base+"/maintenance/start", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "forbidden", errorCode(t, w))

	steps := []struct {
		role models.Role
		path string
		body interface{}
	}{
		{models.RoleMaintenance, "/maintenance/start", nil},
		{models.RoleMaintenance, "/maintenance/finish", lifecycle.DiagnosticInput{Constat: "RAS", Travaux: "vidange"}},
		{models.RoleMaintenance, "/admin/dispatch", nil},
		{models.RoleAdministratif, "/admin/check", lifecycle.ControlInput{Conforme: true}},
		{models.RoleOBC, "/obc/control", lifecycle.OBCInput{Conforme: true, SafeToLoadValide: true}},
		{models.RoleHSEQ, "/hsse/control", lifecycle.ControlInput{Conforme: true}},
	}
	for _, s := range steps {
		w = f.do(t, s.role, "POST", base+s.path, s.body)
		require.Equal(t, http.StatusOK, w.Code, "%s: %s", s.path, w.Body.String())
	}

	w = f.do(t, models.RoleViewer, "GET", base, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var v models.Vehicle
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v))
	assert.Equal(t, models.StageDisponible, v.Etape)
	assert.Equal(t, models.StatusDisponible, v.Status)

	w = f.do(t, models.RoleExploitation, "POST", base+"/missions/"+primitive.NewObjectID().Hex()+"/close", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "illegal_transition", errorCode(t, w))

	w = f.do(t, models.RoleExploitation, "POST", base+"/missions", lifecycle.DeliveryInput{
		Numero: "BL-77", ChauffeurID: "ch-9", Destination: "Kamsar",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var mission struct {
		To    models.Stage         `json:"to"`
		Order models.DeliveryOrder `json:"delivery_order"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &mission))
	assert.Equal(t, models.StageEnMission, mission.To)
	assert.Equal(t, "BL-77", mission.Order.Numero)

	w = f.do(t, models.RoleExploitation, "POST", base+"/missions/"+mission.Order.ID.Hex()+"/close", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = f.do(t, models.RoleViewer, "GET", base+"/workflow", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var view struct {
		Summary struct {
			Verdict string `json:"verdict"`
		} `json:"summary"`
		Transitions []models.TransitionRecord `json:"transitions"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &view))
	assert.Len(t, view.Transitions, 8)
	assert.NotEmpty(t, view.Summary.Verdict)
}

func TestRouter_ErrorMapping(t *testing.T) {
	f := newAPI(t)

	w := f.do(t, models.RoleAdmin, "POST", "/api/vehicles", lifecycle.VehicleInput{Numero: "X"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "invalid_input", errorCode(t, w))

	w = f.do(t, models.RoleAdmin, "POST", "/api/vehicles/"+primitive.NewObjectID().Hex()+"/sync", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = f.do(t, models.RoleAdmin, "GET", "/api/vehicles/not-an-id", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = f.do(t, models.RoleViewer, "DELETE", "/api/vehicles/"+primitive.NewObjectID().Hex(), nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	v := models.Vehicle{ID: primitive.NewObjectID(), Numero: "legacy", Status: models.StatusIndisponible, Etape: models.StageBloque}
	require.NoError(t, f.store.InsertVehicle(t.Context(), v))
	w = f.do(t, models.RoleAdmin, "GET", "/api/vehicles/"+v.ID.Hex()+"/workflow", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "no_workflow", errorCode(t, w))
}

func (f *apiFixture) upload(t *testing.T, role models.Role, fields map[string]string, filename, content string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	if filename != "" {
		fw, err := mw.CreateFormFile("file", filename)
		require.NoError(t, err)
		_, err = fw.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest("POST", "/api/documents", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+f.token(t, role))
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func TestRouter_Documents(t *testing.T) {
	f := newAPI(t)
	fields := map[string]string{
		"owner_kind":      "chauffeur",
		"owner_id":        "ch-1",
		"type_document":   "permis",
		"date_expiration": "2024-03-06",
	}

	bad := map[string]string{"owner_kind": "chauffeur", "owner_id": "ch-1", "type_document": "permis", "date_expiration": "06/03/2024"}
	w := f.upload(t, models.RoleAdministratif, bad, "permis.pdf", "pdf")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "invalid_date", errorCode(t, w))

	w = f.upload(t, models.RoleOBC, fields, "permis.pdf", "pdf")
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = f.upload(t, models.RoleAdministratif, fields, "permis.pdf", "v1")
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var first documentView
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &first))
	require.NotNil(t, first.Alert)
	assert.Equal(t, expiry.LevelARenouveler, first.Alert.Level)
	assert.Equal(t, 15, first.Alert.JoursRestants)
	firstPath := "documents/chauffeur/ch-1/permis/" + first.ID.Hex() + ".pdf"
	_, ok := f.files.Object(firstPath)
	require.True(t, ok)

	fields["date_expiration"] = "2024-02-17"
	w = f.upload(t, models.RoleAdministratif, fields, "permis.pdf", "v2")
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var second documentView
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &second))
	_, ok = f.files.Object(firstPath)
	assert.False(t, ok, "superseded object is removed")

	w = f.do(t, models.RoleViewer, "GET", "/api/documents?owner_kind=chauffeur&owner_id=ch-1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var listed []documentView
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &listed))
	require.Len(t, listed, 1)
	assert.Equal(t, second.ID, listed[0].ID)

	w = f.do(t, models.RoleViewer, "GET", "/api/documents/alerts", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var report expiry.Report
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &report))
	require.Len(t, report.Alerts, 1)
	assert.Equal(t, expiry.LevelExpire, report.Alerts[0].Level)
	assert.Equal(t, -3, report.Alerts[0].JoursRestants)

	w = f.do(t, models.RoleExploitation, "DELETE", "/api/documents/"+second.ID.Hex(), nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	w = f.do(t, models.RoleExploitation, "DELETE", "/api/documents/"+second.ID.Hex(), nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	vehicleDoc := map[string]string{"owner_kind": "vehicule", "owner_id": primitive.NewObjectID().Hex(), "type_document": "assurance"}
	w = f.upload(t, models.RoleAdministratif, vehicleDoc, "a.pdf", "x")
	assert.Equal(t, http.StatusNotFound, w.Code, "documents attach to existing vehicles")
}

func TestRouter_RolesAreAssignedByAdmins(t *testing.T) {
	f := newAPI(t)
	account := func(role models.Role) models.RegisterRequest {
		name := "acct-" + string(role)
		return models.RegisterRequest{Username: name, Email: name + "@example.com", Password: "password123", Role: role}
	}

	w := f.do(t, "", "POST", "/api/auth/register", account(models.RoleAdmin))
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "forbidden", errorCode(t, w))

	w = f.do(t, "", "POST", "/api/auth/register", account(models.RoleViewer))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var login models.LoginResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &login))
	claims, err := f.svc.ValidateToken(login.Token)
	require.NoError(t, err)
	assert.Equal(t, models.RoleViewer, claims.Role)

	for _, role := range []models.Role{models.RoleViewer, models.RoleExploitation, models.RoleHSEQ} {
		w = f.do(t, role, "POST", "/api/users", account(models.RoleOBC))
		assert.Equal(t, http.StatusForbidden, w.Code, role)
	}

	w = f.do(t, models.RoleAdmin, "POST", "/api/users", account(models.RoleOBC))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var created models.User
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	assert.Equal(t, models.RoleOBC, created.Role)

	w = f.do(t, "", "POST", "/api/auth/login", models.LoginRequest{Username: "acct-obc", Password: "password123"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
}
