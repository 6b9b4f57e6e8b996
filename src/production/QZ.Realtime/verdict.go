package realtime

import (
	"context"
	"time"

	logger "gitlab.com/quizduino/qz.realtime_server/src/production/QZ.Logger"
	qzmodels "gitlab.com/quizduino/qz.realtime_server/src/production/QZ.Models"
	interfaces "gitlab.com/quizduino/qz.realtime_server/src/production/QZ.Repository/Interfaces"
)

// buzzOption marks a FAST press, which carries no option index
const buzzOption = -1

// ButtonOption maps a console button symbol to its option index.
// FAST is the buzz-in button and reports buzz=true with no index.
func ButtonOption(symbol string) (index int, buzz bool, err error) {
	switch symbol {
	case "A":
		return 0, false, nil
	case "B":
		return 1, false, nil
	case "C":
		return 2, false, nil
	case "D":
		return 3, false, nil
	case "FAST":
		return buzzOption, true, nil
	default:
		return 0, false, ErrInvalidButton
	}
}

// VerdictResolver decides whether a submitted option is correct by
// consulting the external question store, and records each attempt for
// analytics. Store failures degrade to "wrong" instead of leaving the
// player without a reply.
type VerdictResolver struct {
	questions interfaces.QuestionRepository
	usage     interfaces.UsageRepository
	timeout   time.Duration
	logger    *logger.Logger
}

func NewVerdictResolver(questions interfaces.QuestionRepository, usage interfaces.UsageRepository, timeout time.Duration, log *logger.Logger) *VerdictResolver {
	return &VerdictResolver{
		questions: questions,
		usage:     usage,
		timeout:   timeout,
		logger:    log.WithComponent("verdicts"),
	}
}

// Resolve fetches the correct option for a question and compares it to
// the selected index
func (v *VerdictResolver) Resolve(ctx context.Context, questionID string, selectedOption int) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()

	correctOption, err := v.questions.GetCorrectOption(ctx, questionID)
	if err != nil {
		return false, err
	}
	return selectedOption == correctOption, nil
}

// RecordAsync appends the attempt to the usage log without blocking the
// caller; the verdict was already delivered, a failed write is only
// lost analytics
func (v *VerdictResolver) RecordAsync(questionID, deviceID string, wasCorrect bool, timeSpent float64) {
	usage := qzmodels.AnswerUsage{
		QuestionID: questionID,
		UserID:     deviceID,
		WasCorrect: wasCorrect,
		TimeSpent:  timeSpent,
		AnsweredAt: time.Now(),
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), v.timeout)
		defer cancel()

		if err := v.usage.RecordAnswer(ctx, usage); err != nil {
			v.logger.WithDeviceID(deviceID).ErrorWithError(err, "Failed to record answer usage")
		}
	}()
}
