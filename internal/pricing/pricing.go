package pricing

import (
	"math"

	"github.com/digkill/PostMiniApp/internal/models"
)

// Table holds the price of every chargeable operation.
type Table struct {
	ImprovePrompt  models.Cents
	CTASuggestions models.Cents
	PrepareImage   models.Cents
	GenerateText   models.Cents
	GenerateImage  models.Cents
	AnalysisBase   models.Cents
	AnalysisImage  models.Cents
	VideoPerMinute models.Cents
	FileAnalysis   models.Cents
	Transcription  models.Cents
}

func Default() Table {
	return Table{
		ImprovePrompt:  5,
		CTASuggestions: 1,
		PrepareImage:   2,
		GenerateText:   5,
		GenerateImage:  10,
		AnalysisBase:   10,
		AnalysisImage:  5,
		VideoPerMinute: 10,
		FileAnalysis:   10,
		Transcription:  0,
	}
}

// AnalysisCost prices an analysis from the content shape alone so it can be
// quoted before anything is charged. A video of unknown length counts as one
// minute; partial minutes round up.
func (t Table) AnalysisCost(base models.Cents, hasImage, hasVideo bool, minutes *float64) models.Cents {
	cost := base
	if hasImage {
		cost += t.AnalysisImage
	}
	if hasVideo {
		billed := 1.0
		if minutes != nil && *minutes > 0 {
			billed = math.Max(1, math.Ceil(*minutes))
		}
		cost += models.Cents(billed) * t.VideoPerMinute
	}
	return cost
}
