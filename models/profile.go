package models

// BehaviorSnapshot is the serializable view of a session's behavior profile,
// pushed to the sink as an update keyed by session id. Flags, engagement
// score and level are derived from the counters at snapshot time.
type BehaviorSnapshot struct {
	Scroll       ScrollSnapshot      `json:"scroll"`
	Pointer      PointerSnapshot     `json:"pointer"`
	Attention    AttentionSnapshot   `json:"attention"`
	Interactions InteractionSnapshot `json:"interactions"`
	Commerce     CommerceSnapshot    `json:"commerce"`
	Flags        BehaviorFlags       `json:"flags"`
	Engagement   int                 `json:"engagement_score"`
	Level        string              `json:"engagement_level"`
	Enrichment   *Enrichment         `json:"enrichment,omitempty"`
}

type ScrollSnapshot struct {
	MaxDepthPercent  int     `json:"max_depth_percent"`
	TotalDistance    float64 `json:"total_distance"`
	DirectionChanges int     `json:"direction_changes"`
	ReadingMs        int64   `json:"reading_ms"`
	SkimmingMs       int64   `json:"skimming_ms"`
	SearchingMs      int64   `json:"searching_ms"`
	Pattern          string  `json:"pattern"`
}

type PointerSnapshot struct {
	TotalDistance      float64                  `json:"total_distance"`
	AverageVelocity    float64                  `json:"average_velocity"`
	PeakVelocity       float64                  `json:"peak_velocity"`
	AccelerationEvents int                      `json:"acceleration_events"`
	RageClicks         int                      `json:"rage_clicks"`
	DeadClicks         int                      `json:"dead_clicks"`
	Pattern            string                   `json:"pattern"`
	Hovers             map[string]HoverSnapshot `json:"hovers"`
}

type HoverSnapshot struct {
	Count   int   `json:"count"`
	TotalMs int64 `json:"total_ms"`
	AvgMs   int64 `json:"avg_ms"`
	MaxMs   int64 `json:"max_ms"`
}

type AttentionSnapshot struct {
	IdleMs    int64 `json:"idle_ms"`
	EngagedMs int64 `json:"engaged_ms"`
	Hidden    bool  `json:"hidden"`
}

type InteractionSnapshot struct {
	Clicks     int `json:"clicks"`
	Hovers     int `json:"hovers"`
	Scrolls    int `json:"scrolls"`
	FormStarts int `json:"form_starts"`
	Copies     int `json:"copies"`
	Pastes     int `json:"pastes"`
}

type CommerceSnapshot struct {
	CartValue     float64 `json:"cart_value"`
	PeakCartValue float64 `json:"peak_cart_value"`
	ItemCount     int     `json:"item_count"`
	AddEvents     int     `json:"add_events"`
	RemoveEvents  int     `json:"remove_events"`
	LastChange    string  `json:"last_change"`
	CartStatus    string  `json:"cart_status"`
}

type BehaviorFlags struct {
	IsFrustrated         bool `json:"is_frustrated"`
	ShowsPurchaseIntent  bool `json:"shows_purchase_intent"`
	IsPriceSensitive     bool `json:"is_price_sensitive"`
	IsResearchMode       bool `json:"is_research_mode"`
	IsComparisonShopping bool `json:"is_comparison_shopping"`
}
