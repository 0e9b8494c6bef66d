package patients

import (
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
)

// Status separates chat contacts from patients with a complete identity.
type Status string

const (
	StatusGuest  Status = "guest"
	StatusActive Status = "active"
)

// Patient is a tenant-scoped patient record, keyed by phone.
type Patient struct {
	ID         uuid.UUID `json:"id"`
	TenantID   uuid.UUID `json:"tenant_id"`
	Phone      string    `json:"phone"`
	FirstName  string    `json:"first_name"`
	LastName   string    `json:"last_name"`
	DocumentID string    `json:"document_id"`
	Insurance  string    `json:"insurance"`
	Status     Status    `json:"status"`
	CreatedAt  time.Time `json:"created_at"`
}

// FullName joins first and last name.
func (p Patient) FullName() string {
	return strings.TrimSpace(p.FirstName + " " + p.LastName)
}

// Identity is what a caller knows about the patient at booking time. Empty
// fields mean unknown.
type Identity struct {
	PatientID  uuid.UUID `json:"patient_id,omitempty"`
	Phone      string    `json:"phone"`
	FirstName  string    `json:"first_name,omitempty"`
	LastName   string    `json:"last_name,omitempty"`
	DocumentID string    `json:"document_id,omitempty"`
	Insurance  string    `json:"insurance,omitempty"`
}

// Field names reported by MissingFields.
const (
	FieldPhone      = "phone"
	FieldFirstName  = "first_name"
	FieldLastName   = "last_name"
	FieldDocumentID = "document_id"
	FieldInsurance  = "insurance"
)

// Merge overlays the non-empty identity fields onto a copy of p.
func (p Patient) Merge(id Identity) Patient {
	if v := strings.TrimSpace(id.FirstName); v != "" {
		p.FirstName = v
	}
	if v := strings.TrimSpace(id.LastName); v != "" {
		p.LastName = v
	}
	if v := strings.TrimSpace(id.DocumentID); v != "" {
		p.DocumentID = v
	}
	if v := strings.TrimSpace(id.Insurance); v != "" {
		p.Insurance = v
	}
	if v := NormalizePhone(id.Phone); v != "" && p.Phone == "" {
		p.Phone = v
	}
	return p
}

// MissingFields lists the identity fields still absent once id is applied
// to existing. A booking may not commit while any remain.
func MissingFields(existing *Patient, id Identity) []string {
	var base Patient
	if existing != nil {
		base = *existing
	}
	merged := base.Merge(id)
	var missing []string
	if merged.Phone == "" {
		missing = append(missing, FieldPhone)
	}
	if merged.FirstName == "" {
		missing = append(missing, FieldFirstName)
	}
	if merged.LastName == "" {
		missing = append(missing, FieldLastName)
	}
	if merged.DocumentID == "" {
		missing = append(missing, FieldDocumentID)
	}
	if merged.Insurance == "" {
		missing = append(missing, FieldInsurance)
	}
	return missing
}

// NormalizePhone keeps a leading plus and the digits.
func NormalizePhone(raw string) string {
	raw = strings.TrimSpace(raw)
	var b strings.Builder
	for i, r := range raw {
		if r == '+' && i == 0 {
			b.WriteRune(r)
			continue
		}
		if unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	out := b.String()
	if out == "+" {
		return ""
	}
	return out
}
