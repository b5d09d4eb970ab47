package httpx

import "time"

// SetClock replaces the limiter's time source.
func (m *MemoryLimiter) SetClock(now func() time.Time) { m.now = now }
