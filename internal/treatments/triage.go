package treatments

import (
	"fmt"
	"strings"
)

// Urgency is the triage level recorded on appointments.
type Urgency string

const (
	UrgencyEmergency Urgency = "emergency"
	UrgencyHigh      Urgency = "high"
	UrgencyNormal    Urgency = "normal"
	UrgencyLow       Urgency = "low"
)

// ParseUrgency accepts the four levels. Empty means normal.
func ParseUrgency(raw string) (Urgency, error) {
	switch u := Urgency(strings.ToLower(strings.TrimSpace(raw))); u {
	case "":
		return UrgencyNormal, nil
	case UrgencyEmergency, UrgencyHigh, UrgencyNormal, UrgencyLow:
		return u, nil
	default:
		return "", fmt.Errorf("treatments: unknown urgency %q", raw)
	}
}

// Checked in order; the first level with a matching keyword wins.
var triageKeywords = []struct {
	level    Urgency
	keywords []string
}{
	{UrgencyEmergency, []string{"dolor fuerte", "sangrado", "traumatismo", "accidente", "golpe", "roto", "fractura", "severe pain", "bleeding", "trauma", "accident", "broken", "fracture"}},
	{UrgencyHigh, []string{"dolor", "hinchazón", "hinchazon", "inflamación", "inflamacion", "infección", "infeccion", "pain", "swelling", "inflammation", "infection"}},
	{UrgencyNormal, []string{"revisión", "revision", "limpieza", "control", "checkup", "cleaning"}},
}

var triageAdvice = map[Urgency]string{
	UrgencyEmergency: "This looks urgent. Please come in today, or call the clinic directly if it is severe.",
	UrgencyHigh:      "Please book as soon as possible, ideally this week.",
	UrgencyNormal:    "You can book whenever it suits you.",
	UrgencyLow:       "A routine check-up whenever you need it is fine.",
}

// Triage is the outcome of ClassifyUrgency.
type Triage struct {
	Level          Urgency `json:"urgency_level"`
	Recommendation string  `json:"recommendation"`
}

// ClassifyUrgency maps free-text symptoms to an urgency level by keyword.
func ClassifyUrgency(symptoms string) Triage {
	text := strings.ToLower(symptoms)
	level := UrgencyLow
	for _, group := range triageKeywords {
		if containsAny(text, group.keywords) {
			level = group.level
			break
		}
	}
	return Triage{Level: level, Recommendation: triageAdvice[level]}
}

func containsAny(text string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(text, kw) {
			return true
		}
	}
	return false
}
