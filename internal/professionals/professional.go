// Package professionals stores clinicians and their weekly working-hours policy.
package professionals

import (
	"strings"

	"github.com/google/uuid"

	"github.com/wolfman30/clinic-scheduling-platform/internal/scheduling"
)

// Professional is a clinician who can be booked. Inactive professionals keep
// their history but are never offered.
type Professional struct {
	ID           uuid.UUID               `json:"id"`
	TenantID     uuid.UUID               `json:"tenant_id"`
	FirstName    string                  `json:"first_name"`
	LastName     string                  `json:"last_name"`
	Specialty    string                  `json:"specialty,omitempty"`
	Active       bool                    `json:"active"`
	CalendarID   string                  `json:"calendar_id,omitempty"`
	WorkingHours scheduling.WorkingHours `json:"working_hours"`
}

// FullName joins first and last name.
func (p Professional) FullName() string {
	return strings.TrimSpace(p.FirstName + " " + p.LastName)
}

// Candidate adapts the professional for busy aggregation.
func (p Professional) Candidate() scheduling.Candidate {
	return scheduling.Candidate{ID: p.ID, Hours: p.WorkingHours}
}

// MatchesName reports whether query names this professional, ignoring case
// and an optional "dr"/"dra" title.
func (p Professional) MatchesName(query string) bool {
	q := normalizeName(query)
	if q == "" {
		return false
	}
	full := normalizeName(p.FullName())
	return full == q || normalizeName(p.LastName) == q || strings.Contains(full, q)
}

func normalizeName(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	for _, title := range []string{"dra. ", "dr. ", "dra ", "dr "} {
		s = strings.TrimPrefix(s, title)
	}
	return strings.Join(strings.Fields(s), " ")
}
