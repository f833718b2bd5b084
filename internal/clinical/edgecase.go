package clinical

import (
	"strings"
	"time"

	"clinicalcore/internal/session"
)

// defaultCriticalKeywords/defaultHighRiskKeywords are the conservative,
// keyword-only triggers named by §4.6 (require_context_for_detection=false
// — keywords alone suffice, no model call needed for the precheck).
var defaultCriticalKeywords = []string{
	"suicid", "kill myself", "end my life", "quiero morir", "no quiero vivir",
	"self harm", "self-harm", "autolesion", "hurt myself",
}

var defaultHighRiskKeywords = []string{
	"abuse", "abuso", "violence", "violencia", "overdose", "sobredosis",
	"crisis", "emergency", "emergencia",
}

var defaultStressKeywords = []string{
	"overwhelmed", "agobiad", "can't cope", "no puedo mas", "panic attack", "ataque de panico",
}

// Detection is the precheck output for one turn (§4.6).
type Detection struct {
	IsEdgeCase           bool
	RiskLevel            string
	RiskType             string
	ForceStandardRouting bool
}

// EdgeCaseDetector performs the pre-check on raw user input plus the
// patient's active risk flags, and owns the RiskState escalation/
// de-escalation lifecycle across turns.
type EdgeCaseDetector struct {
	criticalKeywords []string
	highRiskKeywords []string
	stressKeywords   []string
	safeTurnsThreshold int
}

// NewEdgeCaseDetector builds a detector. Passing nil keyword lists falls
// back to the built-in defaults.
func NewEdgeCaseDetector(critical, highRisk, stress []string, safeTurnsThreshold int) *EdgeCaseDetector {
	if critical == nil {
		critical = defaultCriticalKeywords
	}
	if highRisk == nil {
		highRisk = defaultHighRiskKeywords
	}
	if stress == nil {
		stress = defaultStressKeywords
	}
	if safeTurnsThreshold <= 0 {
		safeTurnsThreshold = 3
	}
	return &EdgeCaseDetector{
		criticalKeywords:   critical,
		highRiskKeywords:   highRisk,
		stressKeywords:     stress,
		safeTurnsThreshold: safeTurnsThreshold,
	}
}

func containsAny(haystack string, needles []string) bool {
	lc := strings.ToLower(haystack)
	for _, n := range needles {
		if n != "" && strings.Contains(lc, strings.ToLower(n)) {
			return true
		}
	}
	return false
}

// Check runs the precheck and mutates rs in place, implementing the
// escalation/de-escalation lifecycle of §4.6 / §3 RiskState invariants.
// Returns the Detection driving this turn's routing decision.
func (d *EdgeCaseDetector) Check(text string, rs *session.RiskState, now time.Time) Detection {
	if containsAny(text, d.criticalKeywords) {
		d.escalate(rs, session.RiskCritical, session.RiskTypeRisk, now)
		return Detection{IsEdgeCase: true, RiskLevel: session.RiskCritical, RiskType: session.RiskTypeRisk, ForceStandardRouting: true}
	}
	if containsAny(text, d.highRiskKeywords) {
		d.escalate(rs, session.RiskHigh, session.RiskTypeRisk, now)
		return Detection{IsEdgeCase: true, RiskLevel: session.RiskHigh, RiskType: session.RiskTypeRisk, ForceStandardRouting: true}
	}
	if containsAny(text, d.stressKeywords) {
		d.escalate(rs, session.RiskMedium, session.RiskTypeStress, now)
		return Detection{IsEdgeCase: true, RiskLevel: session.RiskMedium, RiskType: session.RiskTypeStress, ForceStandardRouting: true}
	}

	// Safe turn: if a risk session is active, count down toward de-escalation.
	// forceStandard reflects this turn's pre-turn state — consecutiveSafeTurns
	// was still below threshold when this turn started, so standard routing
	// is enforced for THIS turn even though de-escalation may clear the risk
	// session immediately afterward (spec.md §8 scenario S2).
	if rs != nil && rs.IsRiskSession {
		forceStandard := rs.ConsecutiveSafeTurns < d.safeTurnsThreshold
		riskType := rs.RiskType

		rs.ConsecutiveSafeTurns++
		rs.LastRiskCheck = now
		if rs.ConsecutiveSafeTurns >= d.safeTurnsThreshold {
			rs.IsRiskSession = false
			rs.RiskLevel = session.RiskLow
		}
		return Detection{
			IsEdgeCase:           rs.IsRiskSession,
			RiskLevel:            rs.RiskLevel,
			RiskType:             riskType,
			ForceStandardRouting: forceStandard,
		}
	}

	return Detection{}
}

func (d *EdgeCaseDetector) escalate(rs *session.RiskState, level, riskType string, now time.Time) {
	rs.IsRiskSession = true
	rs.RiskLevel = level
	rs.RiskType = riskType
	rs.DetectedAt = now
	rs.LastRiskCheck = now
	rs.ConsecutiveSafeTurns = 0
}

// Stress signals beyond keyword match, mined from session-level facts
// (§4.6: "long session, late-night session, rapid switches").
type StressSignals struct {
	LongSession      bool
	LateNightSession bool
	RapidSwitches    bool
}

// ComputeStressSignals derives StressSignals from per-turn bookkeeping the
// caller has already assembled (kept free of OperationalMetadata's own
// region/phase concerns to avoid a circular dependency with MetadataCollector).
func ComputeStressSignals(sessionDurationMinutes, maxSessionMinutes int, localHour int, nightStartHour, nightEndHour int, consecutiveSwitches, maxConsecutiveSwitches int) StressSignals {
	longSession := maxSessionMinutes > 0 && sessionDurationMinutes >= maxSessionMinutes
	lateNight := localHour >= nightStartHour || localHour < nightEndHour
	rapid := maxConsecutiveSwitches > 0 && consecutiveSwitches >= maxConsecutiveSwitches
	return StressSignals{LongSession: longSession, LateNightSession: lateNight, RapidSwitches: rapid}
}
