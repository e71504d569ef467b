package pricing

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/digkill/PostMiniApp/internal/models"
)

func ptr(f float64) *float64 { return &f }

func TestAnalysisCost(t *testing.T) {
	tbl := Default()
	cases := []struct {
		name     string
		hasImage bool
		hasVideo bool
		minutes  *float64
		want     models.Cents
	}{
		{"text only", false, false, nil, 10},
		{"with image", true, false, nil, 15},
		{"video unknown duration", false, true, nil, 20},
		{"video zero duration", false, true, ptr(0), 20},
		{"video partial minutes round up", false, true, ptr(2.2), 40},
		{"video shorter than a minute", true, true, ptr(0.25), 25},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, tbl.AnalysisCost(tbl.AnalysisBase, tc.hasImage, tc.hasVideo, tc.minutes))
		})
	}
}

func TestCentsDollars(t *testing.T) {
	require.InDelta(t, 0.10, models.Cents(10).Dollars(), 1e-9)
}
