package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/ukydev/fleetops/internal/fleeterr"
)

// Category is the physical configuration of a vehicle.
type Category string

const (
	CategoryPorteur          Category = "porteur"
	CategoryTracteurRemorque Category = "tracteur_remorque"
)

// TransportType is the cargo a vehicle is licensed for.
type TransportType string

const (
	TransportHydrocarbures TransportType = "hydrocarbures"
	TransportBauxite       TransportType = "bauxite"
)

// VehicleStatus is the canonical availability of a vehicle. It is only written
// together with ValidationRequise, by the status synchronizer.
type VehicleStatus string

const (
	StatusDisponible        VehicleStatus = "disponible"
	StatusIndisponible      VehicleStatus = "indisponible"
	StatusValidationRequise VehicleStatus = "validation_requise"
)

// Stage is the position of a vehicle in the SDBK lifecycle.
type Stage string

const (
	StageRetourMaintenance     Stage = "retour_maintenance"
	StageMaintenanceEnCours    Stage = "maintenance_en_cours"
	StageDisponibleMaintenance Stage = "disponible_maintenance"
	StageVerificationAdmin     Stage = "verification_admin"
	StageControleOBC           Stage = "controle_obc"
	StageControleHSSE          Stage = "controle_hsse"
	StageDisponible            Stage = "disponible"
	StageEnMission             Stage = "en_mission"
	StageBloque                Stage = "bloque"
)

// Vehicle represents a transport asset of the fleet.
type Vehicle struct {
	ID                primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	Numero            string             `bson:"numero" json:"numero"`
	Categorie         Category           `bson:"categorie" json:"categorie"`
	TypeTransport     TransportType      `bson:"type_transport" json:"type_transport"`
	Immatriculation   string             `bson:"immatriculation" json:"immatriculation"`
	Remorque          string             `bson:"remorque,omitempty" json:"remorque,omitempty"` // trailer plate, tracteur_remorque only
	Status            VehicleStatus      `bson:"status" json:"status"`
	ValidationRequise bool               `bson:"validation_requise" json:"validation_requise"`
	Etape             Stage              `bson:"etape" json:"etape"`
	Version           int64              `bson:"version" json:"version"`
	ArchivedAt        *time.Time         `bson:"archived_at,omitempty" json:"archived_at,omitempty"`
	CreatedAt         time.Time          `bson:"created_at" json:"created_at"`
	UpdatedAt         time.Time          `bson:"updated_at" json:"updated_at"`
}

// IsValidCategory checks if a category is known.
func IsValidCategory(c Category) bool {
	return c == CategoryPorteur || c == CategoryTracteurRemorque
}

// IsValidTransportType checks if a transport type is known.
func IsValidTransportType(t TransportType) bool {
	return t == TransportHydrocarbures || t == TransportBauxite
}

// StatusPairConsistent reports whether status and validationRequise form one of the
// three legal combinations.
func StatusPairConsistent(status VehicleStatus, validationRequise bool) bool {
	switch status {
	case StatusDisponible, StatusIndisponible:
		return !validationRequise
	case StatusValidationRequise:
		return validationRequise
	default:
		return false
	}
}

// CheckConsistency returns an InconsistentStateError when the stored status pair is broken.
func (v *Vehicle) CheckConsistency() error {
	if StatusPairConsistent(v.Status, v.ValidationRequise) {
		return nil
	}
	return &fleeterr.InconsistentStateError{
		VehicleID:         v.ID.Hex(),
		Status:            string(v.Status),
		ValidationRequise: v.ValidationRequise,
	}
}

// Archived reports whether the vehicle was soft-removed.
func (v *Vehicle) Archived() bool {
	return v.ArchivedAt != nil
}
