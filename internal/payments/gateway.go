package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"

	domain "github.com/choocapi/ecommerce-backend/internal/domain"
)

// Outcome enumerates the normalised settlement states shared across gateways.
type Outcome string

const (
	// OutcomeSucceeded indicates the gateway confirmed the payment.
	OutcomeSucceeded Outcome = "succeeded"
	// OutcomeProcessing indicates the gateway is still settling the payment.
	OutcomeProcessing Outcome = "processing"
	// OutcomeFailed indicates the gateway reported a terminal failure.
	OutcomeFailed Outcome = "failed"
)

const (
	// CodeSuccess is the shared response code for an accepted request.
	CodeSuccess = "00"
	// CodeProviderError is returned when the upstream gateway is unreachable
	// or rejected the request outright.
	CodeProviderError = "99"
)

// ErrUnsupportedGateway is returned when the manager cannot locate a gateway.
var ErrUnsupportedGateway = errors.New("payments: unsupported gateway")

// CreateRequest captures the payload required to start a hosted payment.
type CreateRequest struct {
	OrderID     string
	Amount      int64
	Description string
	ClientIP    string
}

// CreateResult is the normalised response of a payment creation attempt.
// Provider outages surface as CodeProviderError rather than an error so the
// caller can relay a stable envelope to the client.
type CreateResult struct {
	Code    string
	Message string
	PayURL  string
	// Ref is the gateway-side transaction reference recorded against the
	// order for callback correlation.
	Ref string
}

// CallbackResult is the verified, normalised content of a gateway callback.
type CallbackResult struct {
	// Valid reports whether the callback signature checked out. The other
	// fields are meaningless when Valid is false.
	Valid   bool
	Outcome Outcome
	Ref     string
	Amount  int64
	// Code carries the raw provider response code for logging.
	Code    string
	Message string
}

// Gateway is the contract every payment provider adapter implements.
type Gateway interface {
	// Name returns the lowercase provider key, e.g. "vnpay".
	Name() string
	// Method returns the payment method this gateway settles.
	Method() domain.PaymentMethod
	// CreatePayment builds or requests a hosted payment URL for the order.
	CreatePayment(ctx context.Context, req CreateRequest) (CreateResult, error)
	// VerifyCallback authenticates and normalises a gateway callback. It
	// returns an error only for malformed input; a bad signature yields
	// Valid=false.
	VerifyCallback(ctx context.Context, params map[string]string) (CallbackResult, error)
}

// Manager coordinates gateway selection by provider key or payment method.
type Manager struct {
	gateways map[string]Gateway
}

// NewManager constructs a Manager over the supplied gateways.
func NewManager(gateways ...Gateway) (*Manager, error) {
	if len(gateways) == 0 {
		return nil, errors.New("payments: at least one gateway is required")
	}
	byName := make(map[string]Gateway, len(gateways))
	for _, gw := range gateways {
		if gw == nil {
			return nil, errors.New("payments: nil gateway registration")
		}
		key := strings.TrimSpace(strings.ToLower(gw.Name()))
		if key == "" {
			return nil, errors.New("payments: gateway with empty name")
		}
		if _, exists := byName[key]; exists {
			return nil, fmt.Errorf("payments: duplicate gateway registration for %q", key)
		}
		byName[key] = gw
	}
	return &Manager{gateways: byName}, nil
}

// Resolve returns the gateway registered under the given provider key.
func (m *Manager) Resolve(provider string) (Gateway, error) {
	if m == nil || len(m.gateways) == 0 {
		return nil, errors.New("payments: no gateways registered")
	}
	key := strings.TrimSpace(strings.ToLower(provider))
	gw, ok := m.gateways[key]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedGateway, provider)
	}
	return gw, nil
}

// ResolveMethod returns the gateway that settles the given payment method.
func (m *Manager) ResolveMethod(method domain.PaymentMethod) (Gateway, error) {
	if m == nil {
		return nil, errors.New("payments: manager is nil")
	}
	for _, gw := range m.gateways {
		if gw.Method() == method {
			return gw, nil
		}
	}
	return nil, fmt.Errorf("%w: method %q", ErrUnsupportedGateway, method)
}
