package plans

import (
	"testing"
)

func TestClassify(t *testing.T) {
	testCases := []struct {
		name       string
		isFollowUp bool
		category   string
		code       string
		want       CostProfile
	}{
		{
			name: "social writer",
			code: "social-writer", category: CategoryContent,
			want: CostProfile{Credits: 1, ContentType: "social_post", TokenAllowance: 3000},
		},
		{
			name: "content repurposer",
			code: "content-repurposer", category: CategoryContent,
			want: CostProfile{Credits: 1, ContentType: "social_post", TokenAllowance: 3000},
		},
		{
			name: "customer responder",
			code: "customer-responder", category: CategoryContent,
			want: CostProfile{Credits: 1, ContentType: "social_post", TokenAllowance: 3000},
		},
		{
			name: "ad copywriter",
			code: "ad-copywriter", category: CategoryContent,
			want: CostProfile{Credits: 2, ContentType: "ad_copy", TokenAllowance: 5000},
		},
		{
			name: "sales copywriter priced as ad copy",
			code: "sales-copywriter", category: CategoryContent,
			want: CostProfile{Credits: 2, ContentType: "ad_copy", TokenAllowance: 5000},
		},
		{
			name: "edm writer",
			code: "edm-writer", category: CategoryContent,
			want: CostProfile{Credits: 3, ContentType: "edm", TokenAllowance: 8000},
		},
		{
			name: "seo copywriter",
			code: "seo-copywriter", category: CategoryContent,
			want: CostProfile{Credits: 4, ContentType: "blog_seo", TokenAllowance: 10000},
		},
		{
			name: "strategy category wins over code",
			code: "social-writer", category: CategoryStrategy,
			want: CostProfile{Credits: 5, ContentType: "strategy", TokenAllowance: 12000},
		},
		{
			name: "unknown code falls back to social post",
			code: "not-a-real-agent", category: CategoryContent,
			want: CostProfile{Credits: 1, ContentType: "social_post", TokenAllowance: 3000},
		},
		{
			name:       "follow-up is flat priced regardless of agent",
			isFollowUp: true,
			code:       "seo-copywriter", category: CategoryStrategy,
			want: CostProfile{Credits: 1, ContentType: "followup", TokenAllowance: 3000},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got := Classify(tc.isFollowUp, tc.category, tc.code)
			if got != tc.want {
				t.Errorf("Classify(%v, %q, %q) = %+v, want %+v",
					tc.isFollowUp, tc.category, tc.code, got, tc.want)
			}
		})
	}
}

func TestClassify_Deterministic(t *testing.T) {
	first := Classify(false, CategoryContent, "edm-writer")
	second := Classify(false, CategoryContent, "edm-writer")
	if first != second {
		t.Errorf("Classify is not deterministic: %+v != %+v", first, second)
	}
}

func TestOverage(t *testing.T) {
	testCases := []struct {
		name      string
		total     int
		allowance int
		want      int
	}{
		{name: "under allowance", total: 2500, allowance: 3000, want: 0},
		{name: "exactly at allowance", total: 3000, allowance: 3000, want: 0},
		{name: "one token over", total: 3001, allowance: 3000, want: 1},
		{name: "exactly one block over", total: 4000, allowance: 3000, want: 1},
		{name: "one token into second block", total: 4001, allowance: 3000, want: 2},
		{name: "large overrun", total: 9500, allowance: 8000, want: 2},
		{name: "zero tokens", total: 0, allowance: 3000, want: 0},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Overage(tc.total, tc.allowance); got != tc.want {
				t.Errorf("Overage(%d, %d) = %d, want %d", tc.total, tc.allowance, got, tc.want)
			}
		})
	}
}

func TestMaxCarryOver(t *testing.T) {
	if got := MaxCarryOver(80); got != 160 {
		t.Errorf("MaxCarryOver(80) = %d, want 160", got)
	}
	if got := MaxCarryOver(0); got != 0 {
		t.Errorf("MaxCarryOver(0) = %d, want 0", got)
	}
}

func TestLookup(t *testing.T) {
	plan, ok := Lookup("basic")
	if !ok {
		t.Fatal("Lookup(basic) not found")
	}
	if plan.MonthlyCredits != 30 || plan.MaxBrands != 1 {
		t.Errorf("basic plan = %+v, want 30 credits / 1 brand", plan)
	}

	if _, ok := Lookup("enterprise"); ok {
		t.Error("Lookup(enterprise) = found, want not found")
	}

	if got := len(List()); got != 3 {
		t.Errorf("List() returned %d plans, want 3", got)
	}
}
