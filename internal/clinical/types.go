// Package clinical implements the clinical-domain collaborators consumed by
// the conversation core: entity extraction, edge-case/risk detection, and
// per-turn operational metadata assembly (§4.4, §4.6, §4.7).
package clinical

import (
	"context"
	"time"
)

// Region buckets for OperationalMetadata's temporal section.
const (
	RegionLATAM = "LATAM"
	RegionEU    = "EU"
	RegionUS    = "US"
	RegionAsia  = "ASIA"
	RegionOther = "OTHER"
)

// Therapeutic phase buckets, derived from session count (§4.7).
const (
	PhaseAssessment  = "assessment"
	PhaseIntervention = "intervention"
	PhaseMaintenance = "maintenance"
	PhaseClosure     = "closure"
)

// Time-of-day buckets.
const (
	TimeMorning   = "morning"
	TimeAfternoon = "afternoon"
	TimeEvening   = "evening"
	TimeNight     = "night"
)

// OperationalMetadata is derived fresh on every turn and never persisted
// standalone (§3) — it is assembled by MetadataCollector and consumed by
// IntentRouter/DynamicOrchestrator/ConversationCore for that turn only.
type OperationalMetadata struct {
	// Temporal
	TimestampUTC          time.Time
	Timezone              string
	LocalTime             time.Time
	Region                string
	SessionDurationMinutes int
	TimeOfDay             string

	// Risk
	RiskFlagsActive          bool
	RiskLevel                string
	LastRiskAssessment       time.Time
	RequiresImmediateAttention bool

	// Agent history
	AgentTransitions   []AgentTransition
	AgentTurnCounts    map[string]int
	LastAgentSwitch    time.Time
	ConsecutiveSwitches int

	// Patient context
	PatientID               string
	PatientSummaryAvailable bool
	TherapeuticPhase        string
	SessionCount            int
	LastSessionDate         *time.Time
	TreatmentModality       string
}

// AgentTransition records one agent-switch event mined from session history.
type AgentTransition struct {
	From string
	To   string
	At   time.Time
}

// SummaryCache mirrors Patient.summaryCache (§3).
type SummaryCache struct {
	Text        string
	Version     int
	UpdatedAt   time.Time
	TokenCount  int
}

// Patient is consumed, not owned, by the core (§3) — read-only here.
type Patient struct {
	ID          string
	DisplayName string
	Tags        []string
	Notes       []string
	Attachments []string
	SummaryCache SummaryCache
}

// PatientStore is the external collaborator the core reads patient context
// from. It is never written to by this module.
type PatientStore interface {
	Load(ctx context.Context, patientID string) (Patient, error)
}
