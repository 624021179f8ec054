package queue

import (
	"time"

	"smartqueue/internal/models"
	"smartqueue/internal/store"
)

// SkipPenalty moves a skipped token behind its equal-priority peers while
// keeping it above strictly lower priority classes, which are spaced 200+
// apart.
const SkipPenalty = 100

var transitionMap = map[string][]string{
	"call_next":    {models.StatusWaiting},
	"start":        {models.StatusCalled},
	"complete":     {models.StatusCalled, models.StatusInConsultation},
	"abort":        {models.StatusCalled, models.StatusInConsultation},
	"cancel":       {models.StatusWaiting},
	"no_show":      {models.StatusCalled},
	"skip":         {models.StatusCalled},
	"reprioritize": {models.StatusWaiting},
}

func ValidTransition(action, fromStatus string) bool {
	allowed, ok := transitionMap[action]
	if !ok {
		return false
	}
	for _, status := range allowed {
		if status == fromStatus {
			return true
		}
	}
	return false
}

func guard(action string, token *models.Token) error {
	if !ValidTransition(action, token.Status) {
		return store.ErrInvalidState
	}
	return nil
}

// Call transitions a waiting token to CALLED and stamps called_at.
func Call(token *models.Token, now time.Time) error {
	if err := guard("call_next", token); err != nil {
		return err
	}
	token.Status = models.StatusCalled
	token.CalledAt = &now
	return nil
}

// Start transitions a called token to IN_CONSULTATION.
func Start(token *models.Token, now time.Time) error {
	if err := guard("start", token); err != nil {
		return err
	}
	token.Status = models.StatusInConsultation
	token.ConsultationStartedAt = &now
	return nil
}

// Complete ends service. A token completed straight from CALLED gets its
// start stamped alongside the end so the measured duration stays defined.
func Complete(token *models.Token, now time.Time) error {
	if err := guard("complete", token); err != nil {
		return err
	}
	token.Status = models.StatusCompleted
	token.ConsultationEndedAt = &now
	if token.ConsultationStartedAt == nil {
		token.ConsultationStartedAt = &now
	}
	return nil
}

// Abort cancels an active (CALLED or IN_CONSULTATION) token.
func Abort(token *models.Token, now time.Time) error {
	if err := guard("abort", token); err != nil {
		return err
	}
	token.Status = models.StatusCancelled
	token.ConsultationEndedAt = &now
	return nil
}

// Cancel withdraws a waiting token.
func Cancel(token *models.Token) error {
	if err := guard("cancel", token); err != nil {
		return err
	}
	token.Status = models.StatusCancelled
	return nil
}

// NoShow marks a called token whose party did not appear.
func NoShow(token *models.Token) error {
	if err := guard("no_show", token); err != nil {
		return err
	}
	token.Status = models.StatusNoShow
	return nil
}

// Skip returns a called token to the waiting queue with the skip penalty
// applied to its score.
func Skip(token *models.Token) error {
	if err := guard("skip", token); err != nil {
		return err
	}
	token.Status = models.StatusWaiting
	token.CalledAt = nil
	token.PriorityScore -= SkipPenalty
	return nil
}

// Reprioritize sets a waiting token's priority class and recomputes its
// canonical score.
func Reprioritize(token *models.Token, priority string) error {
	if err := guard("reprioritize", token); err != nil {
		return err
	}
	score, ok := models.ScoreFor(priority)
	if !ok {
		return store.ErrInvalidPriority
	}
	token.Priority = priority
	token.PriorityScore = score
	return nil
}
