// Package session defines the clinical conversation Session/Message/RiskState
// model (§3) and the Store interface it is persisted through (§4.1).
package session

import "time"

// Confidentiality levels for ClinicalContext.
const (
	ConfidentialityHigh   = "high"
	ConfidentialityMedium = "medium"
	ConfidentialityLow    = "low"
)

// Risk levels for RiskState.
const (
	RiskLow      = "low"
	RiskMedium   = "medium"
	RiskHigh     = "high"
	RiskCritical = "critical"
)

// Risk types a detector may attribute an escalation to.
const (
	RiskTypeRisk            = "risk"
	RiskTypeStress          = "stress"
	RiskTypeSensitiveContent = "sensitive_content"
)

// Message roles.
const (
	RoleUser  = "user"
	RoleModel = "model"
)

// Message is one turn of conversation history. Agent is set iff Role ==
// RoleModel; Timestamp is monotonically non-decreasing within a session.
type Message struct {
	ID               string    `json:"id"`
	Role             string    `json:"role"`
	Content          string    `json:"content"`
	Agent            string    `json:"agent,omitempty"`
	Timestamp        time.Time `json:"timestamp"`
	FileReferences   []string  `json:"fileReferences,omitempty"`
	GroundingURLs    []string  `json:"groundingUrls,omitempty"`
	ReasoningBullets []string  `json:"reasoningBullets,omitempty"`
	// Incomplete marks a partial assistant message persisted after the
	// caller cancelled mid-stream (§5). A later idempotent-merge retry
	// clears it once the full content lands.
	Incomplete bool `json:"incomplete,omitempty"`
}

// RiskState persists edge-case escalation across turns (§4.6). A session
// with IsRiskSession true and ConsecutiveSafeTurns below the configured
// threshold must bypass advanced (dynamic) orchestration.
type RiskState struct {
	IsRiskSession        bool      `json:"isRiskSession"`
	RiskLevel            string    `json:"riskLevel"`
	DetectedAt           time.Time `json:"detectedAt"`
	RiskType             string    `json:"riskType,omitempty"`
	LastRiskCheck        time.Time `json:"lastRiskCheck"`
	ConsecutiveSafeTurns int       `json:"consecutiveSafeTurns"`
}

// ClinicalContext scopes a session to a patient and a confidentiality tier.
type ClinicalContext struct {
	PatientID       string `json:"patientId,omitempty"`
	SessionType     string `json:"sessionType"`
	Confidentiality string `json:"confidentiality"`
}

// Metadata carries session-wide bookkeeping updated by SessionManager/
// ConversationCore, distinct from the per-turn OperationalMetadata (§4.7)
// that C7 derives fresh on every call and never persists.
type Metadata struct {
	CreatedAt   time.Time `json:"createdAt"`
	LastUpdated time.Time `json:"lastUpdated"`
	TotalTokens int       `json:"totalTokens"`
	FileRefs    []string  `json:"fileRefs,omitempty"`
}

// Session is the unit of persistence the core owns exclusively while a turn
// is in progress (per-session lock, §5). History is append-only except for
// an idempotent merge on the last assistant message (§4.10a).
type Session struct {
	SessionID       string          `json:"sessionId"`
	UserID          string          `json:"userId"`
	Mode            string          `json:"mode"`
	ActiveAgent     string          `json:"activeAgent"`
	Title           string          `json:"title,omitempty"`
	History         []Message       `json:"history"`
	Metadata        Metadata        `json:"metadata"`
	ClinicalContext ClinicalContext `json:"clinicalContext"`
	RiskState       *RiskState      `json:"riskState,omitempty"`
}
