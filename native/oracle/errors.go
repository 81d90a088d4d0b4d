package oracle

import "errors"

var (
	ErrUnknownAsset     = errors.New("oracle: unknown asset")
	ErrAssetExists      = errors.New("oracle: asset already registered")
	ErrZeroInterval     = errors.New("oracle: interval must be positive")
	ErrUnauthorized     = errors.New("oracle: caller not authorized")
	ErrInvalidPrice     = errors.New("oracle: price must be positive")
	ErrStaleTimestamp   = errors.New("oracle: timestamp not after previous update")
	ErrRoundNotFound    = errors.New("oracle: round not found")
	ErrPriceNotSet      = errors.New("oracle: price not set")
	ErrAssetPaused      = errors.New("oracle: asset price updates paused")
	ErrPriceDeviation   = errors.New("oracle: price deviation exceeds limit")
	ErrUnknownLevel     = errors.New("oracle: unknown level asset")
	ErrLevelNotSettable = errors.New("oracle: level asset does not accept prices")
)
