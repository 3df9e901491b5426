package capture

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
)

// DailyChargeKey derives the processor idempotency key for a capture
// attempt. It is deterministic over (booking, actor, calendar day), so
// request retries within the same day collapse into one processor charge.
func DailyChargeKey(bookingID snowflake.ID, actorID snowflake.ID, day time.Time) string {
	raw := fmt.Sprintf("charge:%d:%d:%s", bookingID, actorID, day.UTC().Format("2006-01-02"))
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}
