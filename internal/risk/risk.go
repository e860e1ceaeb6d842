package risk

import (
	"context"
	"fmt"
	"math"
	"sync"
)

type BasicRiskManager struct {
	params   RiskParameters
	paramsMu sync.RWMutex
}

func NewBasicRiskManager(initialParams RiskParameters) *BasicRiskManager {
	if initialParams.MinOrderValue <= 0 {
		initialParams.MinOrderValue = DefaultMinOrderValue
	}
	return &BasicRiskManager{
		params: initialParams,
	}
}

func (rm *BasicRiskManager) CheckOrder(ctx context.Context, order *OrderCheck) (*RiskAssessment, error) {
	rm.paramsMu.RLock()
	params := rm.params
	rm.paramsMu.RUnlock()

	assessment := &RiskAssessment{
		IsAcceptable:    true,
		RiskFactors:     make([]string, 0),
		Recommendations: make([]string, 0),
	}

	if order.Price <= 0 {
		assessment.IsAcceptable = false
		return assessment, fmt.Errorf("invalid order price %.8f", order.Price)
	}

	amount := math.Abs(order.Amount)
	// 计算订单总值
	orderValue := amount * order.Price

	// 最小下单金额
	if amount < params.MinOrderValue/order.Price {
		assessment.IsAcceptable = false
		assessment.RiskFactors = append(assessment.RiskFactors, "Order value below exchange minimum")
		assessment.Recommendations = append(assessment.Recommendations,
			fmt.Sprintf("Increase order value to at least %.2f", params.MinOrderValue))
		return assessment, fmt.Errorf("%w: Trade value ($%.2f) is below minimum available trade value ($%.2f)",
			ErrBelowMinimum, orderValue, params.MinOrderValue)
	}

	// 可用余额
	if amount > order.MaxAmount {
		assessment.IsAcceptable = false
		assessment.RiskFactors = append(assessment.RiskFactors, "Order amount exceeds available balance")
		assessment.Recommendations = append(assessment.Recommendations,
			fmt.Sprintf("Reduce order amount below %.8f", order.MaxAmount))
		return assessment, fmt.Errorf("%w: Trade value ($%.2f) is above maximum available trade value ($%.2f)",
			ErrInsufficientFunds, orderValue, order.MaxAmount*order.Price)
	}

	if params.MaxOrderValue > 0 && orderValue > params.MaxOrderValue {
		assessment.IsAcceptable = false
		assessment.RiskFactors = append(assessment.RiskFactors, "Order value exceeds configured maximum")
		assessment.Recommendations = append(assessment.Recommendations,
			fmt.Sprintf("Reduce order value below %.2f", params.MaxOrderValue))
		return assessment, fmt.Errorf("%w: Trade value ($%.2f) is above configured maximum ($%.2f)",
			ErrAboveLimit, orderValue, params.MaxOrderValue)
	}

	// 检查市价单风险
	if order.Market {
		assessment.RiskFactors = append(assessment.RiskFactors,
			"Market order may result in slippage")
		assessment.Recommendations = append(assessment.Recommendations,
			"Consider using limit order for better price control")
	}

	return assessment, nil
}

func (rm *BasicRiskManager) SetRiskParameters(ctx context.Context, params *RiskParameters) error {
	if params.MinOrderValue <= 0 || params.MaxOrderValue < 0 {
		return fmt.Errorf("invalid risk parameters: min order value must be positive and max order value non-negative")
	}
	if params.MaxOrderValue > 0 && params.MaxOrderValue < params.MinOrderValue {
		return fmt.Errorf("invalid risk parameters: max order value %.2f below min order value %.2f",
			params.MaxOrderValue, params.MinOrderValue)
	}

	rm.paramsMu.Lock()
	rm.params = *params
	rm.paramsMu.Unlock()

	return nil
}

func (rm *BasicRiskManager) Parameters() RiskParameters {
	rm.paramsMu.RLock()
	defer rm.paramsMu.RUnlock()
	return rm.params
}
