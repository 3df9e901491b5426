package rates

import (
	"testing"

	"github.com/carepayhq/carepay/internal/settings"
	"github.com/stretchr/testify/assert"
)

func testBilling() settings.Billing {
	return settings.Billing{
		DomesticFeeBps:      290,
		InternationalFeeBps: 490,
		FixedFeeCents:       30,
		DomesticCountry:     "US",
	}
}

func TestAdjustedTotal(t *testing.T) {
	b := testBilling()

	t.Run("DomesticCard", func(t *testing.T) {
		q := AdjustedTotal(10000, "US", b)
		assert.Equal(t, int64(329), q.FeeCents)
		assert.Equal(t, int64(10329), q.AdjustedCents)
	})

	t.Run("InternationalCard", func(t *testing.T) {
		q := AdjustedTotal(10000, "FR", b)
		assert.Equal(t, int64(546), q.FeeCents)
		assert.Equal(t, int64(10546), q.AdjustedCents)
	})

	t.Run("UnknownCountryDefaultsDomestic", func(t *testing.T) {
		q := AdjustedTotal(10000, "", b)
		assert.Equal(t, int64(329), q.FeeCents)
	})

	t.Run("PlatformNetsTarget", func(t *testing.T) {
		for _, target := range []int64{500, 10000, 123456, 999999} {
			for _, country := range []string{"US", "GB", "FR"} {
				q := AdjustedTotal(target, country, b)
				bps := b.DomesticFeeBps
				if country != "US" {
					bps = b.InternationalFeeBps
				}
				// what the processor leaves behind, truncation may keep up
				// to one extra cent for the platform but never less
				net := q.AdjustedCents - (q.AdjustedCents*bps+9999)/10000 - b.FixedFeeCents
				assert.LessOrEqual(t, target-1, net, "country=%s target=%d", country, target)
			}
		}
	})

	t.Run("NonPositiveTarget", func(t *testing.T) {
		q := AdjustedTotal(0, "US", b)
		assert.Zero(t, q.FeeCents)
		assert.Zero(t, q.AdjustedCents)
	})
}

func TestBookingTotal(t *testing.T) {
	t.Run("NoDiscount", func(t *testing.T) {
		// 8h/day x 5 days x $40/h = $1600
		assert.Equal(t, int64(160000), BookingTotal(8, 5, 4000, 0))
	})

	t.Run("ReferralDiscountPerHour", func(t *testing.T) {
		// $2/h discount over 40h = $80 off
		assert.Equal(t, int64(152000), BookingTotal(8, 5, 4000, 200))
	})

	t.Run("DiscountExceedingRateClampsToZero", func(t *testing.T) {
		assert.Equal(t, int64(0), BookingTotal(8, 5, 100, 500))
	})

	t.Run("InvalidInputs", func(t *testing.T) {
		assert.Equal(t, int64(0), BookingTotal(0, 5, 4000, 0))
		assert.Equal(t, int64(0), BookingTotal(8, 0, 4000, 0))
		assert.Equal(t, int64(0), BookingTotal(8, 5, 0, 0))
	})
}

func TestHourlyAmount(t *testing.T) {
	assert.Equal(t, int64(28000), HourlyAmount(10, 2800))
	assert.Equal(t, int64(4200), HourlyAmount(1.5, 2800))
	assert.Equal(t, int64(0), HourlyAmount(0, 2800))
	assert.Equal(t, int64(0), HourlyAmount(-1, 2800))
}
