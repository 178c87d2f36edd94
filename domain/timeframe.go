package domain

import (
	"fmt"
	"strconv"
)

// Timeframe is a candle interval label such as "1m", "15m" or "4h".
type Timeframe string

// ParseTimeframe validates a timeframe label.
func ParseTimeframe(s string) (Timeframe, error) {
	if len(s) < 2 {
		return "", fmt.Errorf("invalid timeframe %q", s)
	}

	value, err := strconv.Atoi(s[:len(s)-1])
	if err != nil || value <= 0 {
		return "", fmt.Errorf("invalid timeframe %q", s)
	}

	switch s[len(s)-1] {
	case 's', 'm', 'h':
		return Timeframe(s), nil
	default:
		return "", fmt.Errorf("invalid timeframe unit in %q", s)
	}
}

// Seconds returns the interval length. The receiver must have been produced
// by ParseTimeframe.
func (tf Timeframe) Seconds() int64 {
	s := string(tf)
	value, _ := strconv.ParseInt(s[:len(s)-1], 10, 64)

	switch s[len(s)-1] {
	case 'h':
		return value * 3600
	case 'm':
		return value * 60
	default:
		return value
	}
}

// Bucket floors a millisecond trade timestamp to the start of the candle it
// belongs to, in unix seconds.
func (tf Timeframe) Bucket(timestampMillis int64) int64 {
	step := tf.Seconds()
	sec := timestampMillis / 1000
	return sec / step * step
}

func (tf Timeframe) String() string {
	return string(tf)
}
