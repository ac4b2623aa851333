package repository

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"omnirelay/internal/model"
)

type sessionRepo struct {
	collection *mongo.Collection
}

// NewSessionRepo creates a MongoDB backed session repository
func NewSessionRepo(db *mongo.Database) SessionRepo {
	return &sessionRepo{
		collection: db.Collection("sessions"),
	}
}

func (r *sessionRepo) Create(ctx context.Context, session *model.Session) error {
	if session.CreatedOn.IsZero() {
		session.CreatedOn = time.Now()
	}
	_, err := r.collection.InsertOne(ctx, session)
	return translate(err)
}

func (r *sessionRepo) findOne(ctx context.Context, filter bson.M) (*model.Session, error) {
	var session model.Session
	err := r.collection.FindOne(ctx, filter).Decode(&session)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &session, nil
}

func (r *sessionRepo) GetByServiceID(ctx context.Context, serviceID string) (*model.Session, error) {
	return r.findOne(ctx, bson.M{"serviceId": serviceID})
}

func (r *sessionRepo) GetByCode(ctx context.Context, code string) (*model.Session, error) {
	return r.findOne(ctx, bson.M{"code": code})
}

func (r *sessionRepo) DeleteByCode(ctx context.Context, code string) (bool, error) {
	res, err := r.collection.DeleteOne(ctx, bson.M{"code": code})
	if err != nil {
		return false, err
	}
	return res.DeletedCount > 0, nil
}

func (r *sessionRepo) IncrementGuests(ctx context.Context, code string) error {
	_, err := r.collection.UpdateOne(ctx, bson.M{"code": code}, bson.M{"$inc": bson.M{"guestCount": 1}})
	return err
}

func (r *sessionRepo) DeleteAll(ctx context.Context) (int64, error) {
	res, err := r.collection.DeleteMany(ctx, bson.M{})
	if err != nil {
		return 0, err
	}
	return res.DeletedCount, nil
}
