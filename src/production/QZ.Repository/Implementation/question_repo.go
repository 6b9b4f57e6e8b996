package implementation

import (
	"context"
	"errors"
	"fmt"

	qzmodels "gitlab.com/quizduino/qz.realtime_server/src/production/QZ.Models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

// ErrQuestionNotFound is returned when no document matches the id
var ErrQuestionNotFound = errors.New("question not found")

type MongoQuestionRepository struct {
	coll *mongo.Collection
}

func NewMongoQuestionRepository(coll *mongo.Collection) *MongoQuestionRepository {
	return &MongoQuestionRepository{coll: coll}
}

// GetCorrectOption looks up the correct option index for a question
func (r *MongoQuestionRepository) GetCorrectOption(ctx context.Context, questionID string) (int, error) {
	var question qzmodels.Question

	err := r.coll.FindOne(ctx, bson.M{"question_id": questionID}).Decode(&question)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return 0, ErrQuestionNotFound
		}
		return 0, fmt.Errorf("failed to fetch question %s: %w", questionID, err)
	}

	return question.CorrectOption, nil
}
