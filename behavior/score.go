package behavior

import "mabletask/tracker/models"

const (
	LevelLow    = "low"
	LevelMedium = "medium"
	LevelHigh   = "high"
)

// Flags derives the behavior flags from a snapshot's counters. Purchase
// intent needs one add-to-cart hover longer than 2s; several short ones do
// not add up. Dead clicks are counted but do not make a session frustrated.
func Flags(s models.BehaviorSnapshot) models.BehaviorFlags {
	hover := func(c Category) models.HoverSnapshot { return s.Pointer.Hovers[string(c)] }
	price := hover(CategoryPrice)
	return models.BehaviorFlags{
		IsFrustrated:         s.Pointer.RageClicks > 0,
		ShowsPurchaseIntent:  hover(CategoryAddToCart).MaxMs > 2000 || s.Commerce.AddEvents > 0,
		IsPriceSensitive:     price.Count > 3 || price.TotalMs > 5000,
		IsResearchMode:       s.Interactions.Copies > 0 || s.Scroll.ReadingMs > 30000,
		IsComparisonShopping: hover(CategoryProductImage).Count > 5,
	}
}

// Score is the engagement score in [0, 100], a weighted sum of thresholded
// signals. It depends only on the snapshot's counters.
func Score(s models.BehaviorSnapshot) int {
	flags := Flags(s)
	score := 0
	if s.Attention.EngagedMs > 30000 {
		score += 20
	}
	if s.Scroll.ReadingMs > 10000 {
		score += 15
	}
	if s.Interactions.Clicks > 5 {
		score += 10
	}
	if s.Interactions.Hovers > 10 {
		score += 5
	}
	if s.Scroll.MaxDepthPercent > 50 {
		score += 10
	}
	if s.Scroll.MaxDepthPercent > 80 {
		score += 10
	}
	if flags.ShowsPurchaseIntent {
		score += 20
	}
	if s.Commerce.CartValue > 0 {
		score += 10
	}
	if flags.IsFrustrated {
		score -= 15
	}
	if s.Pointer.RageClicks > 0 {
		score -= 10
	}
	return max(0, min(100, score))
}

// Level buckets a score.
func Level(score int) string {
	switch {
	case score >= 60:
		return LevelHigh
	case score >= 30:
		return LevelMedium
	default:
		return LevelLow
	}
}
