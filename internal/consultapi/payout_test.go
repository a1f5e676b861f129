package consultapi

import (
	"math/rand"
	"testing"
)

func TestComputePayoutNoReferrer(t *testing.T) {
	t.Parallel()
	plan, err := ComputePayout(20000, nil, DefaultConfig())
	if err != nil {
		t.Fatalf("ComputePayout: %v", err)
	}
	if got, want := plan.PlatformFeeCents, int64(3000); got != want {
		t.Errorf("platform fee = %d, want %d", got, want)
	}
	if got, want := plan.ProfessionalPayoutCents, int64(17000); got != want {
		t.Errorf("payout = %d, want %d", got, want)
	}
	if len(plan.Bonuses) != 0 {
		t.Errorf("bonuses = %v, want none", plan.Bonuses)
	}
}

func TestComputePayoutTwoLevelChain(t *testing.T) {
	t.Parallel()
	chain := []ChainEntry{
		{ReferrerId: 2, Level: 1},
		{ReferrerId: 1, Level: 2},
	}
	plan, err := ComputePayout(19000, chain, DefaultConfig())
	if err != nil {
		t.Fatalf("ComputePayout: %v", err)
	}
	if got, want := plan.PlatformFeeCents, int64(2850); got != want {
		t.Errorf("platform fee = %d, want %d", got, want)
	}
	if len(plan.Bonuses) != 2 {
		t.Fatalf("bonuses = %v, want 2 entries", plan.Bonuses)
	}
	if got, want := plan.Bonuses[0].BonusCents, int64(1900); got != want {
		t.Errorf("lvl 1 bonus = %d, want %d", got, want)
	}
	if got, want := plan.Bonuses[1].BonusCents, int64(190); got != want {
		t.Errorf("lvl 2 bonus = %d, want %d", got, want)
	}
	if got, want := plan.ProfessionalPayoutCents, int64(14060); got != want {
		t.Errorf("payout = %d, want %d", got, want)
	}
}

func TestComputePayoutBeyondSchedule(t *testing.T) {
	t.Parallel()
	chain := []ChainEntry{
		{ReferrerId: 4, Level: 1},
		{ReferrerId: 3, Level: 2},
		{ReferrerId: 2, Level: 3},
		{ReferrerId: 1, Level: 4},
	}
	plan, err := ComputePayout(10000, chain, DefaultConfig())
	if err != nil {
		t.Fatalf("ComputePayout: %v", err)
	}
	// Default schedule has two levels; deeper referrers earn nothing and get
	// no edge.
	if len(plan.Bonuses) != 2 {
		t.Fatalf("bonuses = %v, want 2 entries", plan.Bonuses)
	}
	for _, b := range plan.Bonuses {
		if b.BonusCents == 0 {
			t.Errorf("zero-amount bonus for referrer %d at lvl %d", b.ReferrerId, b.Level)
		}
	}
}

func TestComputePayoutConservation(t *testing.T) {
	t.Parallel()
	cfg := DefaultConfig()
	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 1000; i++ {
		rate := rng.Int63n(100000)
		chainLen := rng.Intn(5)
		chain := make([]ChainEntry, 0, chainLen)
		for lvl := 1; lvl <= chainLen; lvl++ {
			chain = append(chain, ChainEntry{ReferrerId: uint(100 + lvl), Level: lvl})
		}
		plan, err := ComputePayout(rate, chain, cfg)
		if err != nil {
			t.Fatalf("ComputePayout(%d, chain len %d): %v", rate, chainLen, err)
		}
		total := plan.ProfessionalPayoutCents + plan.PlatformFeeCents
		for _, b := range plan.Bonuses {
			total += b.BonusCents
		}
		if total != rate {
			t.Fatalf("plan for rate %d chain len %d sums to %d", rate, chainLen, total)
		}
	}
}

func TestComputePayoutNegativeRate(t *testing.T) {
	t.Parallel()
	if _, err := ComputePayout(-1, nil, DefaultConfig()); err == nil {
		t.Error("negative rate accepted")
	}
}

func TestRoundHalfUpShare(t *testing.T) {
	t.Parallel()
	tests := []struct {
		amount int64
		share  float64
		want   int64
	}{
		{20000, 0.15, 3000},
		{19000, 0.01, 190},
		{5, 0.1, 1},     // 0.5 rounds up
		{4, 0.1, 0},     // 0.4 rounds down
		{333, 0.15, 50}, // 49.95 rounds up
		{0, 0.15, 0},
	}
	for _, tt := range tests {
		if got := RoundHalfUpShare(tt.amount, tt.share); got != tt.want {
			t.Errorf("RoundHalfUpShare(%d, %v) = %d, want %d", tt.amount, tt.share, got, tt.want)
		}
	}
}

func TestConfigValidate(t *testing.T) {
	t.Parallel()
	if err := DefaultConfig().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*AppConfig)
	}{
		{"fee above one", func(c *AppConfig) { c.Settings.Fees.PlatformRate = 1.2 }},
		{"negative fee", func(c *AppConfig) { c.Settings.Fees.PlatformRate = -0.1 }},
		{"negative bonus", func(c *AppConfig) { c.Settings.Fees.OfferBonusCents = -1 }},
		{"negative depth", func(c *AppConfig) { c.Settings.Ref.MaxDepth = -1 }},
		{"negative share", func(c *AppConfig) { c.Settings.Ref.Schedule = []float64{-0.1} }},
		{"schedule plus fee above one", func(c *AppConfig) {
			c.Settings.Ref.Schedule = []float64{0.5, 0.4}
		}},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := DefaultConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("invalid config accepted")
			}
		})
	}
}
