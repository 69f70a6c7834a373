package dex

import (
	"errors"

	"github.com/shizukutanaka/curvedex/internal/ledger"
)

// Market errors. Every one of them is raised before the operation writes
// anything.
var (
	// Validation errors
	ErrInvalidAccount = errors.New("invalid account")
	ErrInvalidAmount  = errors.New("invalid amount")

	// Economic errors
	ErrInsufficientBalance       = ledger.ErrInsufficientBalance
	ErrNoClaimableDividends      = errors.New("no claimable dividends")
	ErrZeroTokensResult          = errors.New("purchase yields zero tokens")
	ErrInsufficientSupplyForSale = errors.New("insufficient supply for sale")

	// Access errors
	ErrUnauthorized    = errors.New("caller is not an administrator")
	ErrRestrictedPhase = errors.New("transfers are disabled during the initial phase")

	// Setup errors
	ErrParamsMismatch = errors.New("stored market parameters differ from configuration")
)
