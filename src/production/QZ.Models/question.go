package qzmodels

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Question is the slice of the persistence-service question document
// the realtime server cares about: which option is correct.
type Question struct {
	ID            primitive.ObjectID `bson:"_id,omitempty" json:"id,omitempty"`
	QuestionID    string             `bson:"question_id" json:"question_id"`
	CorrectOption int                `bson:"correct_option" json:"correct_option"`
}

// AnswerUsage is the append-only analytics record written for every
// resolved button press
type AnswerUsage struct {
	ID         primitive.ObjectID `bson:"_id,omitempty" json:"id,omitempty"`
	QuestionID string             `bson:"question_id" json:"question_id"`
	UserID     string             `bson:"user_id" json:"user_id"`
	WasCorrect bool               `bson:"was_correct" json:"was_correct"`
	TimeSpent  float64            `bson:"time_spent" json:"time_spent"`
	AnsweredAt time.Time          `bson:"answered_at" json:"answered_at"`
}
