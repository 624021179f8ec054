package models

// ServiceGroup classifies service points sharing a code (a department or
// product line). The code scopes token numbering.
type ServiceGroup struct {
	GroupID string `json:"group_id"`
	Code    string `json:"code"`
	Name    string `json:"name"`
}

// ServicePoint is a single queue position: a doctor's room, a counter, a
// cabin. It serves at most one party at a time.
type ServicePoint struct {
	PointID                string `json:"point_id"`
	GroupID                string `json:"group_id"`
	Name                   string `json:"name"`
	RoomLabel              string `json:"room_label,omitempty"`
	ServiceDurationMinutes int    `json:"service_duration_minutes"`
	DailyCapacity          int    `json:"daily_capacity"`
	Available              bool   `json:"available"`
}
