package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// OwnerKind tells what a compliance document belongs to.
type OwnerKind string

const (
	OwnerVehicule  OwnerKind = "vehicule"
	OwnerChauffeur OwnerKind = "chauffeur"
)

// Document is a compliance artifact (insurance, technical inspection, transport authorization...).
type Document struct {
	ID             primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	OwnerKind      OwnerKind          `bson:"owner_kind" json:"owner_kind"`
	OwnerID        string             `bson:"owner_id" json:"owner_id"`
	TypeDocument   string             `bson:"type_document" json:"type_document"`
	DateExpiration string             `bson:"date_expiration,omitempty" json:"date_expiration,omitempty"` // YYYY-MM-DD, empty means permanent
	FichierURL     string             `bson:"fichier_url,omitempty" json:"fichier_url,omitempty"`
	FichierPath    string             `bson:"fichier_path,omitempty" json:"-"`
	CreatedAt      time.Time          `bson:"created_at" json:"created_at"`
}
