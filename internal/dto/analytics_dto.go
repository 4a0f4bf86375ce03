package dto

import (
	"time"

	"github.com/noah-isme/gema-ledger-api/internal/analytics"
)

// WeaknessAnalysisResponse wraps the analysis with cache metadata.
type WeaknessAnalysisResponse struct {
	analytics.WeaknessAnalysis
	GeneratedAt time.Time `json:"generated_at"`
	CacheHit    bool      `json:"cache_hit"`
}
