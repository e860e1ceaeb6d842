package risk

import (
	"context"
	"errors"
)

var (
	// ErrBelowMinimum is returned when the order notional is under the minimum order value.
	ErrBelowMinimum = errors.New("order below minimum value")
	// ErrInsufficientFunds is returned when the order amount exceeds what is available.
	ErrInsufficientFunds = errors.New("insufficient funds")
	// ErrAboveLimit is returned when the order notional exceeds the configured cap.
	ErrAboveLimit = errors.New("order above maximum value")
)

// DefaultMinOrderValue is the smallest order notional the exchange accepts, in USD.
const DefaultMinOrderValue = 35.0

// RiskManager validates sized orders before they are submitted
type RiskManager interface {
	// CheckOrder validates an order against the risk parameters and available funds
	CheckOrder(ctx context.Context, order *OrderCheck) (*RiskAssessment, error)

	// SetRiskParameters sets risk management parameters
	SetRiskParameters(ctx context.Context, params *RiskParameters) error

	// Parameters returns the current parameters
	Parameters() RiskParameters
}

// RiskParameters 风险参数配置
type RiskParameters struct {
	MinOrderValue float64 `json:"min_order_value" yaml:"min_order_value"`
	// MaxOrderValue caps a single order notional, 0 means no cap.
	MaxOrderValue float64 `json:"max_order_value" yaml:"max_order_value"`
}

// OrderCheck 待校验订单
type OrderCheck struct {
	Symbol string
	// Amount is signed, positive buys.
	Amount float64
	Price  float64
	// MaxAmount is the largest absolute amount the available balance allows.
	MaxAmount float64
	Market    bool
}

// RiskAssessment 风险评估结果
type RiskAssessment struct {
	IsAcceptable    bool     `json:"is_acceptable"`
	RiskFactors     []string `json:"risk_factors"`
	Recommendations []string `json:"recommendations"`
}
