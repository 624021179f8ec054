package models

import "time"

// Party is a person who may hold tokens. Phone is unique across parties and
// is the registration key; email is optional and only used for notifications.
type Party struct {
	PartyID     string    `json:"party_id"`
	FullName    string    `json:"full_name"`
	Phone       string    `json:"phone"`
	Email       string    `json:"email,omitempty"`
	DateOfBirth time.Time `json:"date_of_birth"`
	Expectant   bool      `json:"expectant"`
	CreatedAt   time.Time `json:"created_at"`
}

// Age in whole years on the given day.
func (p Party) Age(on time.Time) int {
	years := on.Year() - p.DateOfBirth.Year()
	anniversary := p.DateOfBirth.AddDate(years, 0, 0)
	if anniversary.After(on) {
		years--
	}
	return years
}

// Senior reports whether the party has reached the senior-citizen age
// threshold on the given day.
func (p Party) Senior(on time.Time, thresholdYears int) bool {
	if p.DateOfBirth.IsZero() {
		return false
	}
	return p.Age(on) >= thresholdYears
}
