package models

import "time"

// Token is a numbered reservation granting a party a place in a service
// point's queue for a given calendar date. PointID may be nil for a
// group-level token; such tokens do not participate in any ordered queue.
type Token struct {
	TokenID               string     `json:"token_id"`
	TokenNumber           string     `json:"token_number"`
	PartyID               string     `json:"party_id"`
	PointID               *string    `json:"point_id,omitempty"`
	GroupID               string     `json:"group_id"`
	ServiceDate           time.Time  `json:"service_date"`
	Priority              string     `json:"priority"`
	PriorityScore         int        `json:"priority_score"`
	Status                string     `json:"status"`
	GeneratedAt           time.Time  `json:"generated_at"`
	CalledAt              *time.Time `json:"called_at,omitempty"`
	ConsultationStartedAt *time.Time `json:"consultation_started_at,omitempty"`
	ConsultationEndedAt   *time.Time `json:"consultation_ended_at,omitempty"`
	Notes                 string     `json:"notes,omitempty"`
}

const (
	StatusWaiting        = "WAITING"
	StatusCalled         = "CALLED"
	StatusInConsultation = "IN_CONSULTATION"
	StatusCompleted      = "COMPLETED"
	StatusCancelled      = "CANCELLED"
	StatusNoShow         = "NO_SHOW"
)

const (
	PriorityNormal    = "NORMAL"
	PriorityVIP       = "VIP"
	PrioritySenior    = "SENIOR"
	PriorityExpectant = "EXPECTANT"
	PriorityEmergency = "EMERGENCY"
)

var priorityScores = map[string]int{
	PriorityNormal:    0,
	PriorityVIP:       400,
	PrioritySenior:    600,
	PriorityExpectant: 800,
	PriorityEmergency: 1000,
}

// ScoreFor returns the canonical score for a priority class. The second
// return value is false for unrecognized priority names.
func ScoreFor(priority string) (int, bool) {
	score, ok := priorityScores[priority]
	return score, ok
}

// Terminal reports whether a status permits no further transitions.
func Terminal(status string) bool {
	switch status {
	case StatusCompleted, StatusCancelled, StatusNoShow:
		return true
	}
	return false
}

// ConsultationMinutes is the measured consultation length, or 0 when the
// consultation has not both started and ended.
func (t Token) ConsultationMinutes() int {
	if t.ConsultationStartedAt == nil || t.ConsultationEndedAt == nil {
		return 0
	}
	return int(t.ConsultationEndedAt.Sub(*t.ConsultationStartedAt).Minutes())
}
