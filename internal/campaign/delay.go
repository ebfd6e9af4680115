package campaign

import "time"

// ComputeDelay returns how long the preparation job for the contact at the
// given zero-based index should wait before running. The base delay holds
// every contact until the campaign's scheduled time; on top of that each
// contact is spaced by the message interval, switching to the greater
// interval once the index reaches the longer-interval threshold. Contacts
// already past the threshold still carry the full pacing accumulated by the
// threshold's worth of regular intervals, so delays grow monotonically with
// the index.
func ComputeDelay(index int, scheduledAt, now time.Time, s Settings) time.Duration {
	base := scheduledAt.Sub(now)
	if base < 0 {
		base = 0
	}

	var spacing time.Duration
	if index >= s.LongerIntervalAfter {
		spacing = time.Duration(index-s.LongerIntervalAfter)*s.GreaterInterval +
			time.Duration(s.LongerIntervalAfter)*s.MessageInterval
	} else {
		spacing = time.Duration(index) * s.MessageInterval
	}

	return base + spacing
}
