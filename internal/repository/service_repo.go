package repository

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"omnirelay/internal/model"
)

type serviceRepo struct {
	collection *mongo.Collection
}

// NewServiceRepo creates a MongoDB backed service repository
func NewServiceRepo(db *mongo.Database) ServiceRepo {
	return &serviceRepo{
		collection: db.Collection("services"),
	}
}

func (r *serviceRepo) Create(ctx context.Context, svc *model.Service) error {
	if svc.CreatedOn.IsZero() {
		svc.CreatedOn = time.Now()
	}
	_, err := r.collection.InsertOne(ctx, svc)
	return translate(err)
}

func (r *serviceRepo) findOne(ctx context.Context, filter bson.M) (*model.Service, error) {
	var svc model.Service
	err := r.collection.FindOne(ctx, filter).Decode(&svc)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &svc, nil
}

func (r *serviceRepo) GetByHostToken(ctx context.Context, token string) (*model.Service, error) {
	return r.findOne(ctx, bson.M{"_id": token})
}

func (r *serviceRepo) GetByClientToken(ctx context.Context, token string) (*model.Service, error) {
	return r.findOne(ctx, bson.M{"clientToken": token})
}

func (r *serviceRepo) GetByPublicCode(ctx context.Context, code string) (*model.Service, error) {
	return r.findOne(ctx, bson.M{"publicCode": code})
}

func (r *serviceRepo) List(ctx context.Context) ([]*model.Service, error) {
	cursor, err := r.collection.Find(ctx, bson.M{}, options.Find().SetSort(bson.D{{Key: "createdOn", Value: 1}}))
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var services []*model.Service
	if err := cursor.All(ctx, &services); err != nil {
		return nil, err
	}
	return services, nil
}

func (r *serviceRepo) Update(ctx context.Context, svc *model.Service) error {
	_, err := r.collection.UpdateOne(ctx, bson.M{"_id": svc.HostToken}, bson.M{"$set": bson.M{
		"title":              svc.Title,
		"allowPublicCode":    svc.AllowPublicCode,
		"allowMultipleHosts": svc.AllowMultipleHosts,
	}})
	return translate(err)
}

func (r *serviceRepo) Delete(ctx context.Context, hostToken string) error {
	_, err := r.collection.DeleteOne(ctx, bson.M{"_id": hostToken})
	return err
}

func (r *serviceRepo) SetPublicCode(ctx context.Context, hostToken, code string) error {
	update := bson.M{"$set": bson.M{"publicCode": code}}
	if code == "" {
		update = bson.M{"$unset": bson.M{"publicCode": ""}}
	}
	_, err := r.collection.UpdateOne(ctx, bson.M{"_id": hostToken}, update)
	return translate(err)
}

func (r *serviceRepo) ClearPublicCodes(ctx context.Context) (int64, error) {
	res, err := r.collection.UpdateMany(ctx,
		bson.M{"publicCode": bson.M{"$exists": true}},
		bson.M{"$unset": bson.M{"publicCode": ""}},
	)
	if err != nil {
		return 0, err
	}
	return res.ModifiedCount, nil
}
