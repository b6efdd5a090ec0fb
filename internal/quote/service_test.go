package quote

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/agentrail/meterbank/internal/pricing"
	"github.com/agentrail/meterbank/internal/registry"
)

// fakeRepo is an in-memory Repository.
type fakeRepo struct {
	quotes  map[string]*Quote
	expired []string
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{quotes: make(map[string]*Quote)}
}

func (f *fakeRepo) Insert(_ context.Context, q *Quote) error {
	cp := *q
	f.quotes[q.ID] = &cp
	return nil
}

func (f *fakeRepo) GetByID(_ context.Context, id string) (*Quote, error) {
	q, ok := f.quotes[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *q
	return &cp, nil
}

func (f *fakeRepo) Cancel(_ context.Context, id string) (*Quote, error) {
	q, ok := f.quotes[id]
	if !ok {
		return nil, ErrNotFound
	}
	if q.Status != StatusActive {
		return nil, ErrNotActive
	}
	q.Status = StatusCancelled
	cp := *q
	return &cp, nil
}

func (f *fakeRepo) MarkExpired(_ context.Context, id string) error {
	f.expired = append(f.expired, id)
	if q, ok := f.quotes[id]; ok && q.Status == StatusActive {
		q.Status = StatusExpired
	}
	return nil
}

func (f *fakeRepo) ListActiveByCaller(_ context.Context, callerID string) ([]*Quote, error) {
	var out []*Quote
	for _, q := range f.quotes {
		if q.CallerID == callerID && q.Status == StatusActive {
			cp := *q
			out = append(out, &cp)
		}
	}
	return out, nil
}

// fakeRates resolves every lookup to a fixed rate.
type fakeRates struct {
	rate   int64
	toolID string
	err    error
	calls  int
}

func (f *fakeRates) ResolveRate(_ context.Context, _, _ string) (*registry.ResolvedRate, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	source := registry.RateSourceDefault
	if f.toolID != "" {
		source = registry.RateSourceTool
	}
	return &registry.ResolvedRate{RatePer1kTokens: f.rate, Source: source, ToolID: f.toolID}, nil
}

func newService(repo *fakeRepo, rates *fakeRates) *Service {
	return NewService(repo, rates, pricing.DefaultParams())
}

func TestIssueFreezesRateAndCost(t *testing.T) {
	repo := newFakeRepo()
	rates := &fakeRates{rate: 2000, toolID: "tool-1"}
	svc := newService(repo, rates)

	q, err := svc.Issue(context.Background(), IssueInput{
		CallerID:        "caller",
		CalleeID:        "callee",
		ToolName:        "summarize",
		EstimatedTokens: 1500,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if q.Cost != 4000 {
		t.Errorf("frozen cost = %d, want 4000", q.Cost)
	}
	if q.RatePer1k != 2000 {
		t.Errorf("frozen rate = %d, want 2000", q.RatePer1k)
	}
	if q.Status != StatusActive {
		t.Errorf("status = %q, want active", q.Status)
	}
	if q.ToolID == nil || *q.ToolID != "tool-1" {
		t.Errorf("tool id not captured: %v", q.ToolID)
	}

	// The live rate changing afterwards must not touch the stored quote.
	rates.rate = 9999
	got, err := svc.Get(context.Background(), q.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Cost != 4000 || got.RatePer1k != 2000 {
		t.Errorf("quote mutated after rate change: cost %d rate %d", got.Cost, got.RatePer1k)
	}
}

func TestIssueClampsValidity(t *testing.T) {
	repo := newFakeRepo()
	svc := newService(repo, &fakeRates{rate: 100})

	q, err := svc.Issue(context.Background(), IssueInput{
		CallerID: "c", CalleeID: "p", ToolName: "t",
		EstimatedTokens: 100,
		Validity:        time.Millisecond,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	window := q.ExpiresAt.Sub(q.IssuedAt)
	if window != pricing.DefaultParams().QuoteValidityMin {
		t.Errorf("validity = %v, want clamped to %v", window, pricing.DefaultParams().QuoteValidityMin)
	}
}

func TestIssueRejectsOversizedEstimate(t *testing.T) {
	svc := newService(newFakeRepo(), &fakeRates{rate: 100})

	_, err := svc.Issue(context.Background(), IssueInput{
		CallerID: "c", CalleeID: "p", ToolName: "t",
		EstimatedTokens: pricing.DefaultParams().MaxTokensPerCall + 1,
	})
	var limitErr *pricing.TokensExceedLimitError
	if !errors.As(err, &limitErr) {
		t.Fatalf("expected TokensExceedLimitError, got %v", err)
	}
}

func issueTestQuote(t *testing.T, svc *Service) *Quote {
	t.Helper()
	q, err := svc.Issue(context.Background(), IssueInput{
		CallerID: "caller", CalleeID: "callee", ToolName: "summarize",
		EstimatedTokens: 1000,
	})
	if err != nil {
		t.Fatalf("issuing quote: %v", err)
	}
	return q
}

func TestValidateHappyPath(t *testing.T) {
	repo := newFakeRepo()
	svc := newService(repo, &fakeRates{rate: 500})
	q := issueTestQuote(t, svc)

	got, err := svc.Validate(context.Background(), q.ID, "caller", "callee", "summarize", 800)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.ID != q.ID {
		t.Errorf("validated wrong quote: %s", got.ID)
	}
}

func TestValidateUnknownQuote(t *testing.T) {
	svc := newService(newFakeRepo(), &fakeRates{rate: 500})
	_, err := svc.Validate(context.Background(), "nope", "c", "p", "t", 1)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestValidateExpiredQuoteFlipsState(t *testing.T) {
	repo := newFakeRepo()
	svc := newService(repo, &fakeRates{rate: 500})
	q := issueTestQuote(t, svc)

	// Push expiry into the past, beyond the grace period.
	repo.quotes[q.ID].ExpiresAt = time.Now().Add(-time.Minute)

	_, err := svc.Validate(context.Background(), q.ID, "caller", "callee", "summarize", 100)
	if !errors.Is(err, ErrExpired) {
		t.Fatalf("expected ErrExpired, got %v", err)
	}
	if len(repo.expired) != 1 || repo.expired[0] != q.ID {
		t.Errorf("expected expiry flip for %s, got %v", q.ID, repo.expired)
	}
}

func TestValidateWithinGracePeriod(t *testing.T) {
	repo := newFakeRepo()
	svc := newService(repo, &fakeRates{rate: 500})
	q := issueTestQuote(t, svc)

	// Just past expiry but inside the grace window.
	repo.quotes[q.ID].ExpiresAt = time.Now().Add(-time.Second)

	if _, err := svc.Validate(context.Background(), q.ID, "caller", "callee", "summarize", 100); err != nil {
		t.Errorf("expected grace period to absorb latency, got %v", err)
	}
}

func TestValidateUsedQuote(t *testing.T) {
	repo := newFakeRepo()
	svc := newService(repo, &fakeRates{rate: 500})
	q := issueTestQuote(t, svc)
	repo.quotes[q.ID].Status = StatusUsed

	_, err := svc.Validate(context.Background(), q.ID, "caller", "callee", "summarize", 100)
	if !errors.Is(err, ErrAlreadyUsed) {
		t.Errorf("expected ErrAlreadyUsed, got %v", err)
	}
}

func TestValidateIdentityMismatch(t *testing.T) {
	repo := newFakeRepo()
	svc := newService(repo, &fakeRates{rate: 500})
	q := issueTestQuote(t, svc)

	cases := []struct {
		name                       string
		caller, callee, tool, want string
	}{
		{"caller", "other", "callee", "summarize", "caller"},
		{"callee", "caller", "other", "summarize", "callee"},
		{"tool", "caller", "callee", "other", "tool"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Validate(context.Background(), q.ID, tc.caller, tc.callee, tc.tool, 100)
			var mismatch *IdentityMismatchError
			if !errors.As(err, &mismatch) {
				t.Fatalf("expected IdentityMismatchError, got %v", err)
			}
			if mismatch.Field != tc.want {
				t.Errorf("mismatch field = %q, want %q", mismatch.Field, tc.want)
			}
		})
	}
}

func TestValidateTokenOverrun(t *testing.T) {
	repo := newFakeRepo()
	svc := newService(repo, &fakeRates{rate: 500})
	q := issueTestQuote(t, svc)

	_, err := svc.Validate(context.Background(), q.ID, "caller", "callee", "summarize", q.EstimatedTokens+1)
	var overrun *TokenOverrunError
	if !errors.As(err, &overrun) {
		t.Fatalf("expected TokenOverrunError, got %v", err)
	}
	if overrun.Actual != q.EstimatedTokens+1 || overrun.Estimated != q.EstimatedTokens {
		t.Errorf("overrun carries %d/%d, want %d/%d",
			overrun.Actual, overrun.Estimated, q.EstimatedTokens+1, q.EstimatedTokens)
	}

	// Consumption exactly at the estimate is honored.
	if _, err := svc.Validate(context.Background(), q.ID, "caller", "callee", "summarize", q.EstimatedTokens); err != nil {
		t.Errorf("tokens equal to estimate should validate, got %v", err)
	}
}

func TestCancelTwiceConflicts(t *testing.T) {
	repo := newFakeRepo()
	svc := newService(repo, &fakeRates{rate: 500})
	q := issueTestQuote(t, svc)

	if _, err := svc.Cancel(context.Background(), q.ID); err != nil {
		t.Fatalf("first cancel failed: %v", err)
	}
	if _, err := svc.Cancel(context.Background(), q.ID); !errors.Is(err, ErrNotActive) {
		t.Errorf("second cancel should conflict, got %v", err)
	}
}
