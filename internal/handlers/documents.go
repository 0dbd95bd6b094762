package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/gorilla/mux"
	log "github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/ukydev/fleetops/internal/db"
	"github.com/ukydev/fleetops/internal/expiry"
	"github.com/ukydev/fleetops/internal/fleeterr"
	"github.com/ukydev/fleetops/internal/models"
	"github.com/ukydev/fleetops/internal/storage"
)

const maxUploadSize = 10 << 20

// DocumentHandler manages compliance documents and their expiry alerts.
type DocumentHandler struct {
	docs     db.DocumentCollection
	vehicles db.VehicleCollection
	files    storage.Provider
	scanner  *expiry.Scanner
	location *time.Location
	logger   log.FieldLogger

	now func() time.Time
}

func NewDocumentHandler(docs db.DocumentCollection, vehicles db.VehicleCollection, files storage.Provider,
	scanner *expiry.Scanner, location *time.Location, logger log.FieldLogger) *DocumentHandler {
	if location == nil {
		location = time.UTC
	}
	return &DocumentHandler{
		docs: docs, vehicles: vehicles, files: files, scanner: scanner,
		location: location, logger: logger, now: time.Now,
	}
}

type documentView struct {
	models.Document
	Alert *expiry.Alert `json:"alert,omitempty"`
}

func (h *DocumentHandler) view(doc models.Document) documentView {
	v := documentView{Document: doc}
	if a, err := expiry.Evaluate(doc.DateExpiration, h.now().In(h.location)); err == nil {
		v.Alert = &a
	}
	return v
}

// List handles GET /api/documents?owner_kind=&owner_id=
func (h *DocumentHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	docs, err := h.docs.FindDocuments(r.Context(), models.OwnerKind(q.Get("owner_kind")), q.Get("owner_id"))
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	out := make([]documentView, 0, len(docs))
	for _, d := range docs {
		out = append(out, h.view(d))
	}
	writeJSON(w, http.StatusOK, out)
}

// Upload handles POST /api/documents (multipart: owner_kind, owner_id, type_document,
// date_expiration, file). A new upload for the same owner and type supersedes the
// previous document.
func (h *DocumentHandler) Upload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_input", "Invalid multipart form")
		return
	}
	ownerKind := models.OwnerKind(r.FormValue("owner_kind"))
	ownerID := strings.TrimSpace(r.FormValue("owner_id"))
	typeDocument := strings.TrimSpace(r.FormValue("type_document"))
	expiration := strings.TrimSpace(r.FormValue("date_expiration"))

	switch {
	case ownerKind != models.OwnerVehicule && ownerKind != models.OwnerChauffeur:
		writeError(w, http.StatusBadRequest, "invalid_input", "owner_kind must be vehicule or chauffeur")
		return
	case ownerID == "" || typeDocument == "":
		writeError(w, http.StatusBadRequest, "invalid_input", "owner_id and type_document are required")
		return
	}
	if _, err := expiry.Evaluate(expiration, h.now().In(h.location)); err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	if ownerKind == models.OwnerVehicule {
		if _, err := h.vehicles.FindVehicleByID(r.Context(), ownerID); err != nil {
			writeDomainError(w, h.logger, err)
			return
		}
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_input", "file is required")
		return
	}
	defer file.Close()

	doc := models.Document{
		ID:             primitive.NewObjectID(),
		OwnerKind:      ownerKind,
		OwnerID:        ownerID,
		TypeDocument:   typeDocument,
		DateExpiration: expiration,
		CreatedAt:      h.now(),
	}
	doc.FichierPath = fmt.Sprintf("documents/%s/%s/%s/%s%s", ownerKind, ownerID, typeDocument, doc.ID.Hex(), path.Ext(header.Filename))
	doc.FichierURL, err = h.files.Upload(r.Context(), doc.FichierPath, file, header.Size, header.Header.Get("Content-Type"))
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}

	previous, err := h.docs.FindDocument(r.Context(), ownerKind, ownerID, typeDocument)
	if err != nil && !errors.Is(err, fleeterr.ErrNotFound) {
		h.discard(r, doc.FichierPath)
		writeDomainError(w, h.logger, err)
		return
	}
	if err := h.docs.InsertDocument(r.Context(), doc); err != nil {
		h.discard(r, doc.FichierPath)
		writeDomainError(w, h.logger, err)
		return
	}
	if previous != nil {
		h.remove(r, *previous)
	}

	h.logger.WithFields(log.Fields{
		"document_id": doc.ID.Hex(), "owner_kind": ownerKind, "owner_id": ownerID, "type": typeDocument,
		"superseded": previous != nil,
	}).Info("Document uploaded")
	writeJSON(w, http.StatusCreated, h.view(doc))
}

// Delete handles DELETE /api/documents/{id}
func (h *DocumentHandler) Delete(w http.ResponseWriter, r *http.Request) {
	doc, err := h.docs.FindDocumentByID(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	if err := h.docs.DeleteDocument(r.Context(), doc.ID.Hex()); err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	h.discard(r, doc.FichierPath)
	w.WriteHeader(http.StatusNoContent)
}

// Alerts handles GET /api/documents/alerts
func (h *DocumentHandler) Alerts(w http.ResponseWriter, r *http.Request) {
	report, err := h.scanner.Scan(r.Context())
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// remove deletes a superseded document and its object. Failures are logged: the new
// document is already stored.
func (h *DocumentHandler) remove(r *http.Request, doc models.Document) {
	if err := h.docs.DeleteDocument(r.Context(), doc.ID.Hex()); err != nil && !errors.Is(err, fleeterr.ErrNotFound) {
		h.logger.WithError(err).WithField("document_id", doc.ID.Hex()).Warn("Failed to delete superseded document")
		return
	}
	h.discard(r, doc.FichierPath)
}

func (h *DocumentHandler) discard(r *http.Request, objectPath string) {
	if objectPath == "" {
		return
	}
	if err := h.files.Delete(r.Context(), objectPath); err != nil {
		h.logger.WithError(err).WithField("path", objectPath).Warn("Failed to delete stored object")
	}
}
