package domain

import "time"

// Warranty evaluation reasons.
const (
	ReasonNoWarranty = "no warranty found"
	ReasonExpired    = "warranty expired"
)

// Evaluation is the outcome of checking a warranty against a point in time.
type Evaluation struct {
	Valid  bool   `json:"valid"`
	Reason string `json:"reason,omitempty"`
	Terms  string `json:"terms,omitempty"`
}

// EvaluateWarranty decides whether w covers the instant now. Both sides are
// compared in UTC; a warranty is still valid at exactly its end date.
func EvaluateWarranty(w *Warranty, now time.Time) Evaluation {
	if w == nil {
		return Evaluation{Reason: ReasonNoWarranty}
	}
	if now.UTC().After(w.EndDate.UTC()) {
		return Evaluation{Reason: ReasonExpired}
	}
	return Evaluation{Valid: true, Terms: w.Terms}
}

// Decision maps the evaluation onto the decision recorded on a request.
func (e Evaluation) Decision() WarrantyDecision {
	if e.Valid {
		return DecisionApproved
	}
	return DecisionRejected
}
