package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// ControlKind identifies which check a control record belongs to.
type ControlKind string

const (
	ControlAdmin ControlKind = "admin"
	ControlOBC   ControlKind = "obc"
	ControlHSSE  ControlKind = "hsse"
)

// Control is the record written by an administrative, OBC or HSSE check.
// There is at most one record per (workflow, kind).
type Control struct {
	ID               primitive.ObjectID `json:"id" bson:"_id,omitempty"`
	Kind             ControlKind        `json:"kind" bson:"kind"`
	WorkflowID       string             `json:"workflow_id" bson:"workflow_id"`
	VehicleID        string             `json:"vehicle_id" bson:"vehicle_id"`
	ControleurID     string             `json:"controleur_id" bson:"controleur_id"`
	Conforme         bool               `json:"conforme" bson:"conforme"`
	SafeToLoadValide *bool              `json:"safe_to_load_valide,omitempty" bson:"safe_to_load_valide,omitempty"` // OBC only
	Observations     string             `json:"observations,omitempty" bson:"observations,omitempty"`
	CreatedAt        time.Time          `json:"created_at" bson:"created_at"`
}
