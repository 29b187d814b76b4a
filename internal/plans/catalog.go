package plans

// Plan describes a subscription tier. The catalog is static; plans are not
// persisted per-user, only referenced by id.
type Plan struct {
	ID             string   `json:"id"`
	Name           string   `json:"name"`
	Icon           string   `json:"icon"`
	Price          int      `json:"price"`
	MonthlyCredits int      `json:"monthlyCredits"`
	MaxBrands      int      `json:"maxBrands"`
	Description    string   `json:"description"`
	Features       []string `json:"features"`
}

// catalog holds the immutable plan definitions.
var catalog = map[string]Plan{
	"basic": {
		ID:             "basic",
		Name:           "Basic",
		Icon:           "🌱",
		Price:          999,
		MonthlyCredits: 30,
		MaxBrands:      1,
		Description:    "For solo brand builders",
		Features: []string{
			"30 credits per month",
			"Roughly 20 short posts",
			"1 brand",
			"Credits roll over (up to 2 months)",
		},
	},
	"pro": {
		ID:             "pro",
		Name:           "Pro",
		Icon:           "🚀",
		Price:          1499,
		MonthlyCredits: 80,
		MaxBrands:      2,
		Description:    "For small teams on multiple platforms",
		Features: []string{
			"80 credits per month",
			"Roughly 60 short posts",
			"2 brands",
			"Credits roll over (up to 2 months)",
		},
	},
	"business": {
		ID:             "business",
		Name:           "Business",
		Icon:           "💎",
		Price:          1999,
		MonthlyCredits: 250,
		MaxBrands:      5,
		Description:    "For agencies managing many brands",
		Features: []string{
			"250 credits per month",
			"Roughly 180 short posts",
			"5 brands",
			"Credits roll over (up to 2 months)",
		},
	},
}

// Lookup returns the plan for the given id. The second return value is false
// for unknown ids; callers are expected to degrade gracefully rather than
// treat a missing plan as an exception.
func Lookup(id string) (Plan, bool) {
	plan, ok := catalog[id]
	return plan, ok
}

// List returns all plans in the catalog.
func List() []Plan {
	out := make([]Plan, 0, len(catalog))
	for _, p := range catalog {
		out = append(out, p)
	}
	return out
}
