package repository

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"omnirelay/internal/model"
)

type visitorRepo struct {
	collection *mongo.Collection
}

// NewVisitorRepo creates a MongoDB backed visitor repository
func NewVisitorRepo(db *mongo.Database) VisitorRepo {
	return &visitorRepo{
		collection: db.Collection("visitors"),
	}
}

func (r *visitorRepo) Create(ctx context.Context, visitor *model.Visitor) error {
	if visitor.CreatedOn.IsZero() {
		visitor.CreatedOn = time.Now()
	}
	_, err := r.collection.InsertOne(ctx, visitor)
	return err
}

func (r *visitorRepo) CountByService(ctx context.Context, serviceID string) (int64, error) {
	return r.collection.CountDocuments(ctx, bson.M{"serviceId": serviceID})
}
