package lending

import (
	"errors"
	"fmt"

	nativecommon "github.com/BendDAO/bend-lending-protocol-sub001/native/common"
	"github.com/BendDAO/bend-lending-protocol-sub001/native/lending/wadray"
	"github.com/BendDAO/bend-lending-protocol-sub001/native/oracle"
)

var (
	ErrStaleConfiguration   = errors.New("lending: reserve not initialised")
	ErrReserveExists        = errors.New("lending: reserve already initialised")
	ErrNftNotConfigured     = errors.New("lending: nft collection not configured")
	ErrInvalidConfiguration = errors.New("lending: invalid configuration")
	ErrAssetInactive        = errors.New("lending: asset inactive")
	ErrAssetFrozen          = errors.New("lending: asset frozen")
	ErrBorrowingDisabled    = errors.New("lending: borrowing disabled")
	ErrUnauthorized         = errors.New("lending: caller not authorized")

	ErrLoanNotFound     = errors.New("lending: loan not found")
	ErrInvalidLoanState = errors.New("lending: invalid loan state")
	ErrTransferFailed   = errors.New("lending: token transfer failed")

	ErrInvalidAmount         = errors.New("lending: amount must be positive")
	ErrInsufficientLiquidity = errors.New("lending: insufficient liquidity")
	ErrInsufficientBalance   = errors.New("lending: insufficient balance")
	ErrHealthFactorTooLow    = errors.New("lending: health factor below 1")
	ErrHealthFactorTooHigh   = errors.New("lending: health factor not below 1")
	ErrBidTooLow             = errors.New("lending: bid too low")
	ErrRedeemWindowExpired   = errors.New("lending: redeem window expired")
	ErrAuctionNotExpired     = errors.New("lending: auction still running")
	ErrAuctionExpired        = errors.New("lending: auction already ended")
	ErrRedeemAmountTooLow    = errors.New("lending: redeem amount below threshold")

	ErrPriceStale = errors.New("lending: oracle price stale")

	ErrProtocolPaused     = fmt.Errorf("lending: protocol paused: %w", nativecommon.ErrModulePaused)
	ErrReentrantCall      = fmt.Errorf("lending: %w", nativecommon.ErrReentrantCall)
	ErrArithmeticOverflow = wadray.ErrArithmeticOverflow
)

// ErrorKind groups failures by how a caller is expected to react.
type ErrorKind string

const (
	// KindConfiguration covers unknown, inactive or frozen assets and
	// permission failures. Callers must fix their inputs.
	KindConfiguration ErrorKind = "configuration"
	// KindInvariant covers reentrancy, wrong loan state, pause and
	// arithmetic failures.
	KindInvariant ErrorKind = "invariant"
	// KindEconomic covers rejections a caller may retry with different
	// parameters.
	KindEconomic ErrorKind = "economic"
	// KindOracle covers stale or missing prices.
	KindOracle ErrorKind = "oracle"
	KindUnknown ErrorKind = "unknown"
)

var errorKinds = []struct {
	err  error
	kind ErrorKind
}{
	{ErrStaleConfiguration, KindConfiguration},
	{ErrReserveExists, KindConfiguration},
	{ErrNftNotConfigured, KindConfiguration},
	{ErrInvalidConfiguration, KindConfiguration},
	{ErrAssetInactive, KindConfiguration},
	{ErrAssetFrozen, KindConfiguration},
	{ErrBorrowingDisabled, KindConfiguration},
	{ErrUnauthorized, KindConfiguration},
	{ErrLoanNotFound, KindConfiguration},
	{oracle.ErrUnknownAsset, KindConfiguration},
	{oracle.ErrUnauthorized, KindConfiguration},

	{ErrInvalidLoanState, KindInvariant},
	{ErrProtocolPaused, KindInvariant},
	{ErrReentrantCall, KindInvariant},
	{ErrArithmeticOverflow, KindInvariant},
	{ErrTransferFailed, KindInvariant},

	{ErrInvalidAmount, KindEconomic},
	{ErrInsufficientLiquidity, KindEconomic},
	{ErrInsufficientBalance, KindEconomic},
	{ErrHealthFactorTooLow, KindEconomic},
	{ErrHealthFactorTooHigh, KindEconomic},
	{ErrBidTooLow, KindEconomic},
	{ErrRedeemWindowExpired, KindEconomic},
	{ErrAuctionNotExpired, KindEconomic},
	{ErrAuctionExpired, KindEconomic},
	{ErrRedeemAmountTooLow, KindEconomic},

	{ErrPriceStale, KindOracle},
	{oracle.ErrPriceNotSet, KindOracle},
	{oracle.ErrRoundNotFound, KindOracle},
	{oracle.ErrInvalidPrice, KindOracle},
}

// KindOf classifies err for off-chain tooling.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	for _, entry := range errorKinds {
		if errors.Is(err, entry.err) {
			return entry.kind
		}
	}
	return KindUnknown
}
