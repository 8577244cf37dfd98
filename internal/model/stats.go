package model

// Validation reason codes reported by the server for accepted updates.
const (
	ReasonHighAccuracyAccepted   = "high_accuracy_accepted"
	ReasonMediumAccuracyAccepted = "medium_accuracy_accepted"
	ReasonConstrainedToRadius    = "constrained_to_radius"
)

// ValidationStats counts update outcomes for the session.
type ValidationStats struct {
	Accepted    uint64 `json:"accepted"`
	Constrained uint64 `json:"constrained"`
	Rejected    uint64 `json:"rejected"`
}
