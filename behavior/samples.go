package behavior

import "time"

// Category is an element class the aggregator tracks hovers and clicks for.
type Category string

const (
	CategoryNone         Category = ""
	CategoryAddToCart    Category = "add_to_cart"
	CategoryPrice        Category = "price"
	CategoryProductImage Category = "product_image"
	CategorySizeGuide    Category = "size_guide"
	CategoryCheckout     Category = "checkout"
	CategoryLink         Category = "links"
	CategoryButton       Category = "buttons"
)

// trackedHovers is the hover allow-list. Anything else is ignored.
var trackedHovers = map[Category]bool{
	CategoryAddToCart:    true,
	CategoryPrice:        true,
	CategoryProductImage: true,
	CategorySizeGuide:    true,
	CategoryCheckout:     true,
	CategoryLink:         true,
	CategoryButton:       true,
}

// Tracked reports whether hovers on c are aggregated.
func Tracked(c Category) bool { return trackedHovers[c] }

// ScrollSample is one throttled scroll observation. DocHeight is the
// scrollable height (document height minus viewport).
type ScrollSample struct {
	ScrollTop float64
	DocHeight float64
	T         time.Time
}

type PointerSample struct {
	X, Y float64
	T    time.Time
}

type ClickSample struct {
	X, Y        float64
	Category    Category
	Interactive bool
	Label       string
	T           time.Time
}

type HoverPhase int

const (
	HoverEnter HoverPhase = iota
	HoverLeave
)

type HoverSample struct {
	ElementKey string
	Category   Category
	Phase      HoverPhase
	T          time.Time
}

type VisibilitySample struct {
	Hidden bool
	T      time.Time
}

type IdleTick struct {
	T time.Time
}

// InputSample is a key press or touch. It only counts toward attention.
type InputSample struct {
	Kind string
	T    time.Time
}

type FormStartSample struct {
	FormKey string
	T       time.Time
}

type ClipboardSample struct {
	Paste bool
	T     time.Time
}
