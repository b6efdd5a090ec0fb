package pricing

import (
	"errors"
	"testing"
	"time"
)

func testParams() Params {
	p := DefaultParams()
	p.MinCost = 1
	p.FeeBps = 500
	return p
}

func mustCost(t *testing.T, p Params, tokens, rate int64) int64 {
	t.Helper()
	c, err := p.Cost(tokens, rate)
	if err != nil {
		t.Fatalf("Cost(%d, %d) returned error: %v", tokens, rate, err)
	}
	return c
}

func TestCostDeterminism(t *testing.T) {
	p := testParams()
	cases := [][2]int64{{0, 0}, {1, 1}, {999, 2000}, {1000, 2000}, {1001, 2000}, {1500, 2000}, {1_000_000, 7}}
	for _, c := range cases {
		first := mustCost(t, p, c[0], c[1])
		for i := 0; i < 10; i++ {
			if got := mustCost(t, p, c[0], c[1]); got != first {
				t.Fatalf("Cost(%d, %d) not deterministic: %d then %d", c[0], c[1], first, got)
			}
		}
	}
}

func TestCostCeilingRounding(t *testing.T) {
	p := testParams()

	if got := mustCost(t, p, 1000, 2000); got != 2000 {
		t.Errorf("cost(1000, 2000) = %d, want 2000", got)
	}
	if got := mustCost(t, p, 1, 2000); got != 2000 {
		t.Errorf("cost(1, 2000) = %d, want 2000", got)
	}
	if got := mustCost(t, p, 1001, 2000); got != 4000 {
		t.Errorf("cost(1001, 2000) = %d, want 4000", got)
	}
	// Scenario from the call path: 1500 tokens at 2000/1k is two blocks.
	if got := mustCost(t, p, 1500, 2000); got != 4000 {
		t.Errorf("cost(1500, 2000) = %d, want 4000", got)
	}
}

func TestCostMinimumFloor(t *testing.T) {
	p := testParams()
	p.MinCost = 10

	if got := mustCost(t, p, 0, 50_000); got != 10 {
		t.Errorf("cost(0, anyRate) = %d, want MinCost 10", got)
	}
	if got := mustCost(t, p, 1, 1); got != 10 {
		t.Errorf("cost(1, tinyRate) = %d, want MinCost 10", got)
	}
	if got := mustCost(t, p, 500, 0); got != 10 {
		t.Errorf("cost(500, 0) = %d, want MinCost 10", got)
	}
}

func TestCostMonotonicity(t *testing.T) {
	p := testParams()

	// Non-decreasing in tokens at fixed rate.
	prev := int64(-1)
	for tokens := int64(0); tokens <= 5000; tokens += 250 {
		c := mustCost(t, p, tokens, 1500)
		if c < prev {
			t.Fatalf("cost decreased at tokens=%d: %d < %d", tokens, c, prev)
		}
		prev = c
	}

	// Non-decreasing in rate at fixed tokens.
	prev = -1
	for rate := int64(0); rate <= 5000; rate += 100 {
		c := mustCost(t, p, 2500, rate)
		if c < prev {
			t.Fatalf("cost decreased at rate=%d: %d < %d", rate, c, prev)
		}
		prev = c
	}
}

func TestCostRejectsNegativeInputs(t *testing.T) {
	p := testParams()

	if _, err := p.Cost(-1, 100); !errors.Is(err, ErrNegativeTokens) {
		t.Errorf("expected ErrNegativeTokens, got %v", err)
	}
	if _, err := p.Cost(100, -1); !errors.Is(err, ErrNegativeRate) {
		t.Errorf("expected ErrNegativeRate, got %v", err)
	}
}

func TestCheckTokenLimit(t *testing.T) {
	p := testParams()
	p.MaxTokensPerCall = 1000

	if err := p.CheckTokenLimit(1000); err != nil {
		t.Errorf("expected 1000 tokens within limit, got %v", err)
	}

	err := p.CheckTokenLimit(1001)
	var limitErr *TokensExceedLimitError
	if !errors.As(err, &limitErr) {
		t.Fatalf("expected TokensExceedLimitError, got %v", err)
	}
	if limitErr.Tokens != 1001 || limitErr.Limit != 1000 {
		t.Errorf("error carries %d/%d, want 1001/1000", limitErr.Tokens, limitErr.Limit)
	}
}

func TestFeeSplit(t *testing.T) {
	p := testParams()

	fee, net := p.FeeSplit(10_000)
	if fee != 500 || net != 9_500 {
		t.Errorf("FeeSplit(10000) = (%d, %d), want (500, 9500)", fee, net)
	}

	// fee + net must reconstruct the gross for awkward amounts too.
	for _, gross := range []int64{1, 99, 101, 9_999, 123_457} {
		fee, net := p.FeeSplit(gross)
		if fee+net != gross {
			t.Errorf("FeeSplit(%d): fee %d + net %d != gross", gross, fee, net)
		}
		if fee < 0 || net < 0 {
			t.Errorf("FeeSplit(%d) produced a negative part: fee %d net %d", gross, fee, net)
		}
	}
}

func TestHoldMargin(t *testing.T) {
	p := testParams()
	p.MarginBps = 11_000

	if got := p.Hold(1000); got != 1100 {
		t.Errorf("Hold(1000) = %d, want 1100", got)
	}
	// Rounds up so the hold never undershoots the margin.
	if got := p.Hold(1); got != 2 {
		t.Errorf("Hold(1) = %d, want 2", got)
	}
	if got := p.Hold(0); got != 0 {
		t.Errorf("Hold(0) = %d, want 0", got)
	}
}

func TestClampQuoteValidity(t *testing.T) {
	p := testParams()

	if got := p.ClampQuoteValidity(0); got != p.QuoteValidityDefault {
		t.Errorf("zero validity should default to %v, got %v", p.QuoteValidityDefault, got)
	}
	if got := p.ClampQuoteValidity(time.Second); got != p.QuoteValidityMin {
		t.Errorf("sub-minimum validity should clamp to %v, got %v", p.QuoteValidityMin, got)
	}
	if got := p.ClampQuoteValidity(48 * time.Hour); got != p.QuoteValidityMax {
		t.Errorf("oversized validity should clamp to %v, got %v", p.QuoteValidityMax, got)
	}
	if got := p.ClampQuoteValidity(2 * time.Minute); got != 2*time.Minute {
		t.Errorf("in-range validity should pass through, got %v", got)
	}
}

func TestClampReservationTimeout(t *testing.T) {
	p := testParams()

	if got := p.ClampReservationTimeout(0); got != p.ReservationTimeoutDefault {
		t.Errorf("zero timeout should default to %v, got %v", p.ReservationTimeoutDefault, got)
	}
	if got := p.ClampReservationTimeout(2 * time.Hour); got != p.ReservationTimeoutMax {
		t.Errorf("oversized timeout should clamp to %v, got %v", p.ReservationTimeoutMax, got)
	}
}
