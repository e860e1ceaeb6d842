package trader

import (
	"errors"

	"github.com/songzhibin97/tradeflux/internal/risk"
)

var (
	// ErrInvalidArgument reports bad call parameters. Nothing was sent.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrTimeout reports an exceeded wait. The order may still be live.
	ErrTimeout = errors.New("timed out")
	// ErrClosed is returned once the trader has been closed.
	ErrClosed = errors.New("trader closed")
	// ErrNotConnected is returned before Connect.
	ErrNotConnected = errors.New("trader not connected")
	// ErrTransport wraps transport failures, including a dropped connection.
	ErrTransport = errors.New("transport error")

	ErrBelowMinimum      = risk.ErrBelowMinimum
	ErrInsufficientFunds = risk.ErrInsufficientFunds
)
