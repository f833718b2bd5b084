package clinical

import (
	"context"
	"strings"
	"time"

	"clinicalcore/internal/observability"
	"clinicalcore/internal/session"
)

// MetadataCollector assembles OperationalMetadata as a pure function over a
// session snapshot and an optional patient reference (§4.7). Any downstream
// lookup failure degrades the corresponding field to its unknown/null
// variant rather than aborting the turn.
type MetadataCollector struct {
	patients PatientStore
}

// NewMetadataCollector wires the external PatientStore collaborator.
// patients may be nil, in which case patient context always degrades to
// unknown.
func NewMetadataCollector(patients PatientStore) *MetadataCollector {
	return &MetadataCollector{patients: patients}
}

// Collect builds OperationalMetadata for the current turn. timezone is an
// IANA zone name (e.g. "America/Bogota"); loc resolves it, degrading to UTC
// when the name is unrecognized.
func (c *MetadataCollector) Collect(ctx context.Context, sess session.Session, timezone string, now time.Time, maxConsecutiveSwitchWindow time.Duration) OperationalMetadata {
	log := observability.LoggerWithTrace(ctx)

	loc, err := time.LoadLocation(timezone)
	if err != nil || timezone == "" {
		loc = time.UTC
		timezone = "UTC"
	}
	localNow := now.In(loc)

	md := OperationalMetadata{
		TimestampUTC: now.UTC(),
		Timezone:     timezone,
		LocalTime:    localNow,
		Region:       regionFromTimezone(timezone),
		TimeOfDay:    timeOfDay(localNow.Hour()),
	}

	md.SessionDurationMinutes = int(now.Sub(sess.Metadata.CreatedAt).Minutes())
	if md.SessionDurationMinutes < 0 {
		md.SessionDurationMinutes = 0
	}

	if sess.RiskState != nil {
		md.RiskFlagsActive = sess.RiskState.IsRiskSession
		md.RiskLevel = sess.RiskState.RiskLevel
		md.LastRiskAssessment = sess.RiskState.LastRiskCheck
		md.RequiresImmediateAttention = sess.RiskState.RiskLevel == session.RiskCritical || sess.RiskState.RiskLevel == session.RiskHigh
	} else {
		md.RiskLevel = session.RiskLow
	}

	md.AgentTransitions, md.AgentTurnCounts = mineTransitions(sess.History)
	if n := len(md.AgentTransitions); n > 0 {
		md.LastAgentSwitch = md.AgentTransitions[n-1].At
	}
	md.ConsecutiveSwitches = countRecentSwitches(md.AgentTransitions, now, maxConsecutiveSwitchWindow)

	md.PatientID = sess.ClinicalContext.PatientID
	md.SessionCount = approximateSessionCount(sess)
	md.TherapeuticPhase = therapeuticPhase(md.SessionCount)

	if md.PatientID != "" && c.patients != nil {
		patient, err := c.patients.Load(ctx, md.PatientID)
		if err != nil {
			log.Warn().Err(err).Str("patient_id", md.PatientID).Msg("metadata_patient_lookup_degraded")
		} else {
			md.PatientSummaryAvailable = strings.TrimSpace(patient.SummaryCache.Text) != ""
		}
	}

	return md
}

func timeOfDay(hour int) string {
	switch {
	case hour >= 5 && hour < 12:
		return TimeMorning
	case hour >= 12 && hour < 18:
		return TimeAfternoon
	case hour >= 18 && hour < 22:
		return TimeEvening
	default:
		return TimeNight
	}
}

// regionFromTimezone buckets an IANA zone name by its area prefix. This is a
// coarse heuristic, not a geo-IP lookup: the spec only asks for a
// best-effort region bucket to feed routing tie-breakers.
func regionFromTimezone(tz string) string {
	area := tz
	if i := strings.Index(tz, "/"); i >= 0 {
		area = tz[:i]
	}
	switch area {
	case "America":
		if isUSCanadaZone(tz) {
			return RegionUS
		}
		return RegionLATAM
	case "Europe":
		return RegionEU
	case "Asia":
		return RegionAsia
	default:
		return RegionOther
	}
}

var usCanadaCities = map[string]struct{}{
	"New_York": {}, "Chicago": {}, "Denver": {}, "Los_Angeles": {}, "Phoenix": {},
	"Anchorage": {}, "Toronto": {}, "Vancouver": {}, "Montreal": {}, "Halifax": {},
}

func isUSCanadaZone(tz string) bool {
	parts := strings.SplitN(tz, "/", 2)
	if len(parts) != 2 {
		return false
	}
	_, ok := usCanadaCities[parts[1]]
	return ok
}

func therapeuticPhase(sessionCount int) string {
	switch {
	case sessionCount <= 3:
		return PhaseAssessment
	case sessionCount <= 12:
		return PhaseIntervention
	case sessionCount <= 24:
		return PhaseMaintenance
	default:
		return PhaseClosure
	}
}

// approximateSessionCount treats the current session as the Nth for its
// patient. A real deployment would read a counter from SessionStore keyed
// by patient id; absent that aggregate query in the Store interface, this
// returns 0 when the session has no patient id and 1 (first session)
// otherwise, matching §4.7's "degrade to unknown/null" failure handling.
func approximateSessionCount(sess session.Session) int {
	if sess.ClinicalContext.PatientID == "" {
		return 0
	}
	return 1
}

func mineTransitions(history []session.Message) ([]AgentTransition, map[string]int) {
	var transitions []AgentTransition
	counts := make(map[string]int)
	prevAgent := ""
	for _, m := range history {
		if m.Role != session.RoleModel || m.Agent == "" {
			continue
		}
		counts[m.Agent]++
		if prevAgent != "" && prevAgent != m.Agent {
			transitions = append(transitions, AgentTransition{From: prevAgent, To: m.Agent, At: m.Timestamp})
		}
		prevAgent = m.Agent
	}
	return transitions, counts
}

func countRecentSwitches(transitions []AgentTransition, now time.Time, window time.Duration) int {
	if window <= 0 {
		window = 5 * time.Minute
	}
	count := 0
	for _, t := range transitions {
		if now.Sub(t.At) <= window {
			count++
		}
	}
	return count
}
