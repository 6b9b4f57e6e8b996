package implementation

import (
	"context"
	"fmt"

	qzmodels "gitlab.com/quizduino/qz.realtime_server/src/production/QZ.Models"
	"go.mongodb.org/mongo-driver/mongo"
)

type MongoUsageRepository struct {
	coll *mongo.Collection
}

func NewMongoUsageRepository(coll *mongo.Collection) *MongoUsageRepository {
	return &MongoUsageRepository{coll: coll}
}

// RecordAnswer appends one answer attempt
func (r *MongoUsageRepository) RecordAnswer(ctx context.Context, usage qzmodels.AnswerUsage) error {
	if _, err := r.coll.InsertOne(ctx, usage); err != nil {
		return fmt.Errorf("failed to record answer usage: %w", err)
	}
	return nil
}
