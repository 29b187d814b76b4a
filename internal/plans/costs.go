package plans

// CostProfile is the price of one generation request, decided before the
// request is sent to the model. TokenAllowance is the number of model tokens
// (input + output) the base credit charge covers; consumption beyond it is
// billed as overage after the fact.
type CostProfile struct {
	Credits        int    `json:"credits"`
	ContentType    string `json:"contentType"`
	TokenAllowance int    `json:"tokenAllowance"`
}

// Agent categories and codes the classifier dispatches on.
const (
	CategoryStrategy = "strategy"
	CategoryContent  = "content"
)

// Classify maps a requested action to its cost profile.
//
// Follow-ups (a request inside an existing conversation) are flat-priced
// regardless of agent. Strategy agents are priced as a category; content
// agents are priced per agent code. The function is total: unknown codes get
// the cheapest content profile so a request can always be priced before the
// expensive generation call.
func Classify(isFollowUp bool, agentCategory, agentCode string) CostProfile {
	if isFollowUp {
		return CostProfile{Credits: 1, ContentType: "followup", TokenAllowance: 3000}
	}

	if agentCategory == CategoryStrategy {
		return CostProfile{Credits: 5, ContentType: "strategy", TokenAllowance: 12000}
	}

	switch agentCode {
	case "social-writer", "content-repurposer", "customer-responder":
		return CostProfile{Credits: 1, ContentType: "social_post", TokenAllowance: 3000}
	case "ad-copywriter", "sales-copywriter":
		return CostProfile{Credits: 2, ContentType: "ad_copy", TokenAllowance: 5000}
	case "edm-writer":
		return CostProfile{Credits: 3, ContentType: "edm", TokenAllowance: 8000}
	case "seo-copywriter":
		return CostProfile{Credits: 4, ContentType: "blog_seo", TokenAllowance: 10000}
	default:
		return CostProfile{Credits: 1, ContentType: "social_post", TokenAllowance: 3000}
	}
}

// Overage returns the extra credits owed when actual token consumption
// exceeded the allowance: one credit per started 1,000 tokens over.
func Overage(totalTokens, tokenAllowance int) int {
	if totalTokens <= tokenAllowance {
		return 0
	}
	over := totalTokens - tokenAllowance
	return (over + 999) / 1000
}

// MaxCarryOver caps the balance rolled into a new billing period at two
// months' worth of the plan's quota.
func MaxCarryOver(monthlyQuota int) int {
	return monthlyQuota * 2
}
