package clinical

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"clinicalcore/internal/session"
)

func TestEdgeCaseDetectorEscalatesOnCriticalKeyword(t *testing.T) {
	d := NewEdgeCaseDetector(nil, nil, nil, 3)
	rs := &session.RiskState{}
	now := time.Now()

	det := d.Check("I want to kill myself", rs, now)

	require.True(t, det.IsEdgeCase)
	require.True(t, det.ForceStandardRouting)
	require.Equal(t, session.RiskCritical, det.RiskLevel)
	require.True(t, rs.IsRiskSession)
	require.Equal(t, 0, rs.ConsecutiveSafeTurns)
}

func TestEdgeCaseDetectorDeescalatesAfterSafeTurns(t *testing.T) {
	d := NewEdgeCaseDetector(nil, nil, nil, 3)
	now := time.Now()
	rs := &session.RiskState{}
	d.Check("thoughts of self harm", rs, now)
	require.True(t, rs.IsRiskSession)

	for i := 0; i < 2; i++ {
		det := d.Check("just talking about my week", rs, now.Add(time.Duration(i+1)*time.Minute))
		require.True(t, det.ForceStandardRouting)
	}
	// Pre-turn consecutiveSafeTurns is still 2 (< threshold 3) when this turn
	// starts, so standard routing is enforced for this turn even though
	// de-escalation clears IsRiskSession once the counter reaches 3
	// (spec.md §8 scenario S2: forceStandardRouting reflects pre-turn state).
	final := d.Check("all good now", rs, now.Add(4*time.Minute))
	require.True(t, final.ForceStandardRouting)
	require.False(t, rs.IsRiskSession)
}

func TestEdgeCaseDetectorNoOpOnSafeSession(t *testing.T) {
	d := NewEdgeCaseDetector(nil, nil, nil, 3)
	det := d.Check("let's talk about my week", nil, time.Now())
	require.False(t, det.IsEdgeCase)
	require.False(t, det.ForceStandardRouting)
}
