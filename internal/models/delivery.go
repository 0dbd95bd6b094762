package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

type DeliveryStatus string

const (
	DeliveryEnCours DeliveryStatus = "en_cours"
	DeliveryCloture DeliveryStatus = "cloture"
)

// DeliveryOrder (bon de livraison) dispatches a vehicle and driver on a cargo run.
// Numero is unique and client supplied.
type DeliveryOrder struct {
	ID          primitive.ObjectID `json:"id" bson:"_id,omitempty"`
	Numero      string             `json:"numero" bson:"numero"`
	VehicleID   string             `json:"vehicle_id" bson:"vehicle_id"`
	ChauffeurID string             `json:"chauffeur_id" bson:"chauffeur_id"`
	Destination string             `json:"destination" bson:"destination"`
	Produit     string             `json:"produit,omitempty" bson:"produit,omitempty"`
	Status      DeliveryStatus     `json:"status" bson:"status"`
	IssuedAt    time.Time          `json:"issued_at" bson:"issued_at"`
	ClosedAt    *time.Time         `json:"closed_at,omitempty" bson:"closed_at,omitempty"`
}

// TransitionRecord is the audit trail of one lifecycle transition.
type TransitionRecord struct {
	ID        primitive.ObjectID `json:"id" bson:"_id,omitempty"`
	VehicleID string             `json:"vehicle_id" bson:"vehicle_id"`
	From      Stage              `json:"from" bson:"from"`
	To        Stage              `json:"to" bson:"to"`
	Event     string             `json:"event" bson:"event"`
	ActorID   string             `json:"actor_id" bson:"actor_id"`
	At        time.Time          `json:"at" bson:"at"`
}
