package models

import "time"

type AlertSeverity string

const (
	AlertSeverityLow      AlertSeverity = "LOW"
	AlertSeverityModerate AlertSeverity = "MODERATE"
	AlertSeverityHigh     AlertSeverity = "HIGH"
	AlertSeverityCritical AlertSeverity = "CRITICAL"
)

// Valid reports whether s is one of the four closed severity values.
func (s AlertSeverity) Valid() bool {
	switch s {
	case AlertSeverityLow, AlertSeverityModerate, AlertSeverityHigh, AlertSeverityCritical:
		return true
	}
	return false
}

type AlertStatus string

const (
	AlertStatusActive    AlertStatus = "ACTIVE"
	AlertStatusExpired   AlertStatus = "EXPIRED"
	AlertStatusCancelled AlertStatus = "CANCELLED"
)

func (s AlertStatus) Valid() bool {
	switch s {
	case AlertStatusActive, AlertStatusExpired, AlertStatusCancelled:
		return true
	}
	return false
}

// Terminal reports whether no further transition is permitted out of s.
func (s AlertStatus) Terminal() bool {
	return s == AlertStatusExpired || s == AlertStatusCancelled
}

// Alert is a hazard notice with a severity and a lifecycle status. Type is an
// open vocabulary ("TYPHOON", "FLOOD", ...); severity and status are closed sets.
type Alert struct {
	ID            string
	Type          string
	Severity      AlertSeverity
	Title         string
	Description   string
	AffectedAreas []string // ordered, stored as a JSON array
	StartTime     time.Time
	EndTime       *time.Time // nil means ongoing, no estimated end
	Status        AlertStatus
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// AlertUpdate is a partial update to a mutable subset of alert fields.
// Nil fields are left unchanged.
type AlertUpdate struct {
	Status      *AlertStatus
	Description *string
	EndTime     *time.Time
}
