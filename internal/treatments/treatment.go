// Package treatments holds bookable treatment types, duration selection and
// symptom triage.
package treatments

import (
	"time"

	"github.com/google/uuid"
)

// TreatmentType is a bookable service with its duration bounds.
type TreatmentType struct {
	ID              uuid.UUID     `json:"id"`
	TenantID        uuid.UUID     `json:"tenant_id"`
	Code            string        `json:"code"`
	Name            string        `json:"name"`
	DefaultDuration time.Duration `json:"default_duration"`
	MinDuration     time.Duration `json:"min_duration"`
	MaxDuration     time.Duration `json:"max_duration"`
	Active          bool          `json:"active"`
	Bookable        bool          `json:"bookable"`
}

// DurationFor picks the booking length. An explicit request is clamped to the
// treatment bounds; emergencies get the shortest slot so they fit sooner.
func (t TreatmentType) DurationFor(urgency Urgency, requested time.Duration) time.Duration {
	if requested > 0 {
		if t.MinDuration > 0 && requested < t.MinDuration {
			return t.MinDuration
		}
		if t.MaxDuration > 0 && requested > t.MaxDuration {
			return t.MaxDuration
		}
		return requested
	}
	if urgency == UrgencyEmergency && t.MinDuration > 0 {
		return t.MinDuration
	}
	if t.DefaultDuration > 0 {
		return t.DefaultDuration
	}
	return 30 * time.Minute
}

// Fallback is used when a caller names no treatment.
func Fallback() TreatmentType {
	return TreatmentType{
		Code:            "checkup",
		Name:            "Consulta",
		DefaultDuration: 30 * time.Minute,
		MinDuration:     30 * time.Minute,
		MaxDuration:     30 * time.Minute,
		Active:          true,
		Bookable:        true,
	}
}
