package domain

import "errors"

var (
	// ErrUnknownTimeframe signals a timeframe the engine was not configured with.
	ErrUnknownTimeframe = errors.New("unknown timeframe")
	// ErrNoData signals a valid timeframe for which nothing has been produced yet.
	ErrNoData = errors.New("no data for timeframe")
)
