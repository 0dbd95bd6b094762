package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// DiagnosticMaintenance is the maintenance record of one validation cycle.
type DiagnosticMaintenance struct {
	ID            primitive.ObjectID `json:"id" bson:"_id,omitempty"`
	WorkflowID    string             `json:"workflow_id" bson:"workflow_id"`
	VehicleID     string             `json:"vehicle_id" bson:"vehicle_id"`
	TechnicienID  string             `json:"technicien_id" bson:"technicien_id"`
	Constat       string             `json:"constat" bson:"constat"`
	Travaux       string             `json:"travaux" bson:"travaux"`
	PiecesJointes []string           `json:"pieces_jointes,omitempty" bson:"pieces_jointes,omitempty"` // object storage URLs
	StartedAt     time.Time          `json:"started_at" bson:"started_at"`
	FinishedAt    *time.Time         `json:"finished_at,omitempty" bson:"finished_at,omitempty"`
}
