package clinical

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"clinicalcore/internal/session"
)

func TestMetadataCollectorDegradesWithoutPatientStore(t *testing.T) {
	c := NewMetadataCollector(nil)
	now := time.Now()
	sess := session.Session{
		Metadata:        session.Metadata{CreatedAt: now.Add(-30 * time.Minute)},
		ClinicalContext: session.ClinicalContext{PatientID: "patient-1"},
	}

	md := c.Collect(context.Background(), sess, "America/Bogota", now, 5*time.Minute)

	require.Equal(t, RegionLATAM, md.Region)
	require.Equal(t, "patient-1", md.PatientID)
	require.False(t, md.PatientSummaryAvailable)
	require.GreaterOrEqual(t, md.SessionDurationMinutes, 29)
}

func TestTherapeuticPhaseBuckets(t *testing.T) {
	require.Equal(t, PhaseAssessment, therapeuticPhase(2))
	require.Equal(t, PhaseIntervention, therapeuticPhase(8))
	require.Equal(t, PhaseMaintenance, therapeuticPhase(20))
	require.Equal(t, PhaseClosure, therapeuticPhase(30))
}

func TestMineTransitionsCountsSwitches(t *testing.T) {
	now := time.Now()
	history := []session.Message{
		{Role: session.RoleUser, Content: "hi"},
		{Role: session.RoleModel, Agent: "socratico", Timestamp: now},
		{Role: session.RoleUser, Content: "ok"},
		{Role: session.RoleModel, Agent: "clinico", Timestamp: now.Add(time.Minute)},
	}
	transitions, counts := mineTransitions(history)
	require.Len(t, transitions, 1)
	require.Equal(t, "socratico", transitions[0].From)
	require.Equal(t, "clinico", transitions[0].To)
	require.Equal(t, 1, counts["socratico"])
	require.Equal(t, 1, counts["clinico"])
}
