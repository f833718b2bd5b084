package conversation

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDeriveTitleShortTextUnchanged(t *testing.T) {
	require.Equal(t, "How are you feeling today?", DeriveTitle("How are you   feeling\ntoday?"))
}

func TestDeriveTitleEmptyInput(t *testing.T) {
	require.Equal(t, "", DeriveTitle("   \n\t "))
}

func TestDeriveTitleTruncatesAtWordBoundary(t *testing.T) {
	text := "I have been feeling extremely overwhelmed by work and family obligations lately and do not know where to start"
	title := DeriveTitle(text)

	require.True(t, strings.HasSuffix(title, "…"))
	require.LessOrEqual(t, len([]rune(title)), maxTitleRunes+1)
	require.False(t, strings.HasSuffix(strings.TrimSuffix(title, "…"), " "))
}

func TestDeriveTitleHardCutsWhenNoBoundaryAvailable(t *testing.T) {
	text := strings.Repeat("a", 80)
	title := DeriveTitle(text)

	require.True(t, strings.HasSuffix(title, "…"))
	require.LessOrEqual(t, len([]rune(title)), maxTitleRunes+1)
}
