// Package rates holds the pure money math for client charges. No I/O.
package rates

import (
	"math"
	"strings"

	"github.com/carepayhq/carepay/internal/settings"
)

// FeeQuote is the processor gross-up for a target net amount.
type FeeQuote struct {
	TargetCents   int64
	FeeCents      int64
	AdjustedCents int64
}

// AdjustedTotal computes the processor fee so the platform nets exactly
// targetCents after the processor takes rate + fixed fee:
//
//	adjusted = (target + fixed) / (1 - rate)
//
// truncated to whole cents. rate is the domestic bps unless the card country
// differs from the configured domestic country.
func AdjustedTotal(targetCents int64, cardCountry string, b settings.Billing) FeeQuote {
	if targetCents <= 0 {
		return FeeQuote{TargetCents: targetCents}
	}
	bps := b.DomesticFeeBps
	country := strings.ToUpper(strings.TrimSpace(cardCountry))
	if country != "" && country != b.DomesticCountry {
		bps = b.InternationalFeeBps
	}
	if bps < 0 || bps >= 10000 {
		bps = b.DomesticFeeBps
	}

	adjusted := (targetCents + b.FixedFeeCents) * 10000 / (10000 - bps)
	return FeeQuote{
		TargetCents:   targetCents,
		FeeCents:      adjusted - targetCents,
		AdjustedCents: adjusted,
	}
}

// BookingTotal computes the pre-fee client charge for a booking:
// hoursPerDay x durationDays x hourly rate, with any referral discount
// applied per hour.
func BookingTotal(hoursPerDay float64, durationDays int, hourlyRateCents int64, discountCentsPerHour int64) int64 {
	if hoursPerDay <= 0 || durationDays <= 0 || hourlyRateCents <= 0 {
		return 0
	}
	rate := hourlyRateCents - discountCentsPerHour
	if rate < 0 {
		rate = 0
	}
	totalHours := hoursPerDay * float64(durationDays)
	return RoundCents(totalHours * float64(rate))
}

// HourlyAmount converts worked hours at a per-hour rate into cents.
func HourlyAmount(hours float64, rateCentsPerHour int64) int64 {
	if hours <= 0 || rateCentsPerHour <= 0 {
		return 0
	}
	return RoundCents(hours * float64(rateCentsPerHour))
}

// RoundCents rounds a fractional cent amount half away from zero.
func RoundCents(v float64) int64 {
	return int64(math.Round(v))
}
