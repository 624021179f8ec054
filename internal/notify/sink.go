package notify

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Message kinds, one per outbound notification class.
const (
	KindConfirmation = "CONFIRMATION"
	KindTurnCalled   = "TURN_CALLED"
	KindAdvancement  = "ADVANCEMENT"
	KindRegression   = "REGRESSION"
	KindCompleted    = "COMPLETED"
)

// Message is the payload handed to the outbound sink. Which fields are set
// depends on Kind; TokenNumber is always present.
type Message struct {
	Kind                 string    `json:"kind"`
	TokenNumber          string    `json:"token_number"`
	GroupName            string    `json:"group_name,omitempty"`
	PointName            string    `json:"point_name,omitempty"`
	RoomLabel            string    `json:"room_label,omitempty"`
	ServiceDate          time.Time `json:"service_date,omitempty"`
	GeneratedAt          time.Time `json:"generated_at,omitempty"`
	Priority             string    `json:"priority,omitempty"`
	Position             int       `json:"position,omitempty"`
	PreviousPosition     int       `json:"previous_position,omitempty"`
	EstimatedWaitMinutes int       `json:"estimated_wait_minutes,omitempty"`
	AlmostYourTurn       bool      `json:"almost_your_turn,omitempty"`
	CauseDescription     string    `json:"cause_description,omitempty"`
}

// Sink delivers one message to one recipient. Implementations must be safe
// for concurrent use. Rendering and transport live behind this boundary.
type Sink interface {
	Send(ctx context.Context, recipient string, msg Message) error
}

// LogSink writes every message to the log instead of a mail provider. It is
// the default sink for development and for deployments with outbound email
// switched off.
type LogSink struct {
	Log *zap.SugaredLogger
}

func (s LogSink) Send(ctx context.Context, recipient string, msg Message) error {
	s.Log.Infow("send email",
		"to", recipient,
		"kind", msg.Kind,
		"token", msg.TokenNumber,
		"position", msg.Position,
		"previous_position", msg.PreviousPosition,
		"wait_minutes", msg.EstimatedWaitMinutes,
		"cause", msg.CauseDescription,
	)
	return nil
}

// CauseDescription renders the fixed human-readable explanation attached to
// regression messages caused by a priority insertion.
func CauseDescription(priority string) string {
	switch priority {
	case "EMERGENCY":
		return "Emergency"
	case "EXPECTANT":
		return "Expectant mother"
	case "SENIOR":
		return "Senior citizen (60+)"
	case "VIP":
		return "VIP"
	default:
		return "Priority"
	}
}
