package promocode

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/backoffice/internal/domain/errs"
)

func ptr[T any](v T) *T { return &v }

func TestPromoCode_ValidateUsage(t *testing.T) {
	now := time.Date(2024, 7, 15, 12, 0, 0, 0, time.UTC)
	yesterday := now.Add(-24 * time.Hour)
	tomorrow := now.Add(24 * time.Hour)

	base := func() PromoCode {
		return PromoCode{
			Code:            "SUMMER2024",
			DiscountPercent: 20,
			TotalLimit:      10,
			PerUserLimit:    2,
			IsActive:        true,
		}
	}

	tests := []struct {
		name      string
		mutate    func(*PromoCode)
		userCount int
		wantErr   error
	}{
		{name: "eligible", mutate: func(*PromoCode) {}},
		{name: "inside window", mutate: func(c *PromoCode) { c.StartsAt, c.EndsAt = &yesterday, &tomorrow }},
		{name: "inactive", mutate: func(c *PromoCode) { c.IsActive = false }, wantErr: ErrInactiveCode},
		{name: "total limit reached", mutate: func(c *PromoCode) { c.UsedCount = c.TotalLimit }, wantErr: ErrTotalLimitExceeded},
		{name: "per-user limit reached", mutate: func(*PromoCode) {}, userCount: 2, wantErr: ErrPerUserLimitExceeded},
		{name: "not yet started", mutate: func(c *PromoCode) { c.StartsAt = &tomorrow }, wantErr: ErrNotYetStarted},
		{name: "ended yesterday", mutate: func(c *PromoCode) { c.EndsAt = &yesterday }, wantErr: ErrExpired},
		{
			name: "inactive wins over every other failure",
			mutate: func(c *PromoCode) {
				c.IsActive = false
				c.UsedCount = c.TotalLimit
				c.EndsAt = &yesterday
			},
			userCount: 5,
			wantErr:   ErrInactiveCode,
		},
		{
			name:      "total limit wins over per-user and window",
			mutate:    func(c *PromoCode) { c.UsedCount = c.TotalLimit; c.StartsAt = &tomorrow },
			userCount: 5,
			wantErr:   ErrTotalLimitExceeded,
		},
		{
			name:      "per-user wins over window",
			mutate:    func(c *PromoCode) { c.EndsAt = &yesterday },
			userCount: 2,
			wantErr:   ErrPerUserLimitExceeded,
		},
		{
			name:    "not started wins over expired",
			mutate:  func(c *PromoCode) { c.StartsAt, c.EndsAt = &tomorrow, &yesterday },
			wantErr: ErrNotYetStarted,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := base()
			tt.mutate(&c)
			before := c

			err := c.ValidateUsage(now, tt.userCount)
			if tt.wantErr == nil {
				require.NoError(t, err)
			} else {
				require.ErrorIs(t, err, tt.wantErr)
				require.ErrorIs(t, err, errs.ErrValidation)
			}
			assert.Equal(t, before, c, "validation must not mutate the code")
		})
	}
}

func TestPromoCode_ValidateUsageInactiveAlways(t *testing.T) {
	now := time.Now()
	for used := 0; used <= 3; used++ {
		for userCount := 0; userCount <= 3; userCount++ {
			c := PromoCode{TotalLimit: 2, PerUserLimit: 1, UsedCount: used}
			require.ErrorIs(t, c.ValidateUsage(now, userCount), ErrInactiveCode)
		}
	}
}

func TestPromoCode_CalculateDiscount(t *testing.T) {
	c := PromoCode{DiscountPercent: 20}

	got := c.CalculateDiscount(decimal.NewFromInt(100))
	assert.True(t, got.Equal(decimal.NewFromInt(20)), "got %s", got)
	assert.True(t, decimal.NewFromInt(100).Sub(got).Equal(decimal.NewFromInt(80)))

	for _, s := range []string{"0", "0.01", "19.99", "123.45", "1000000"} {
		a := decimal.RequireFromString(s)
		double := c.CalculateDiscount(a.Mul(decimal.NewFromInt(2)))
		assert.True(t, double.Equal(c.CalculateDiscount(a).Mul(decimal.NewFromInt(2))), "linearity for %s", s)
	}

	third := PromoCode{DiscountPercent: 33}
	assert.Equal(t, "3.3", third.CalculateDiscount(decimal.NewFromInt(10)).String())
	assert.Equal(t, "6.6", third.CalculateDiscount(decimal.RequireFromString("19.99")).Round(2).String())
}

func TestPromoCode_IncrementUsage(t *testing.T) {
	c := PromoCode{TotalLimit: 2}
	require.NoError(t, c.IncrementUsage())
	require.NoError(t, c.IncrementUsage())
	require.ErrorIs(t, c.IncrementUsage(), ErrTotalLimitExceeded)
	assert.Equal(t, 2, c.UsedCount)
}

func TestNew(t *testing.T) {
	now := time.Now()
	start := now
	end := now.Add(-time.Hour)

	tests := []struct {
		name    string
		params  Params
		wantErr bool
	}{
		{name: "valid", params: Params{Code: " summer2024 ", DiscountPercent: 20, TotalLimit: 100, PerUserLimit: 1}},
		{name: "empty code", params: Params{DiscountPercent: 20, TotalLimit: 1, PerUserLimit: 1}, wantErr: true},
		{name: "bad character", params: Params{Code: "SUM MER", DiscountPercent: 20, TotalLimit: 1, PerUserLimit: 1}, wantErr: true},
		{name: "zero percent", params: Params{Code: "A", TotalLimit: 1, PerUserLimit: 1}, wantErr: true},
		{name: "over 100 percent", params: Params{Code: "A", DiscountPercent: 101, TotalLimit: 1, PerUserLimit: 1}, wantErr: true},
		{name: "zero total limit", params: Params{Code: "A", DiscountPercent: 1, PerUserLimit: 1}, wantErr: true},
		{name: "zero per-user limit", params: Params{Code: "A", DiscountPercent: 1, TotalLimit: 1}, wantErr: true},
		{
			name:    "inverted window",
			params:  Params{Code: "A", DiscountPercent: 1, TotalLimit: 1, PerUserLimit: 1, StartsAt: &start, EndsAt: &end},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pc, err := New(tt.params, now)
			if tt.wantErr {
				require.ErrorIs(t, err, errs.ErrValidation)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "SUMMER2024", pc.Code)
			assert.Zero(t, pc.UsedCount)
			assert.NotEmpty(t, pc.ID)
		})
	}
}
