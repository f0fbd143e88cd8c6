package payments

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	domain "github.com/choocapi/ecommerce-backend/internal/domain"
)

const (
	momoRequestType = "captureWallet"
	momoLang        = "en"
)

// MomoConfig holds the partner credentials and endpoints for Momo.
type MomoConfig struct {
	PartnerCode string
	AccessKey   string
	SecretKey   string
	Endpoint    string
	RedirectURL string
	IPNURL      string
}

// MomoGateway creates wallet payments over the Momo REST API and verifies
// its IPN callbacks.
type MomoGateway struct {
	cfg    MomoConfig
	client *http.Client
	clock  func() time.Time
}

// MomoOption configures optional behaviour of the gateway.
type MomoOption func(*MomoGateway)

// WithMomoClock overrides the time source, mainly for tests.
func WithMomoClock(clock func() time.Time) MomoOption {
	return func(g *MomoGateway) {
		if clock != nil {
			g.clock = clock
		}
	}
}

// WithMomoHTTPClient overrides the HTTP client used for create calls.
func WithMomoHTTPClient(client *http.Client) MomoOption {
	return func(g *MomoGateway) {
		if client != nil {
			g.client = client
		}
	}
}

// NewMomoGateway validates the configuration and constructs the adapter.
func NewMomoGateway(cfg MomoConfig, opts ...MomoOption) (*MomoGateway, error) {
	if strings.TrimSpace(cfg.PartnerCode) == "" {
		return nil, errors.New("momo: partner code is required")
	}
	if strings.TrimSpace(cfg.AccessKey) == "" {
		return nil, errors.New("momo: access key is required")
	}
	if strings.TrimSpace(cfg.SecretKey) == "" {
		return nil, errors.New("momo: secret key is required")
	}
	if strings.TrimSpace(cfg.Endpoint) == "" {
		return nil, errors.New("momo: endpoint is required")
	}

	g := &MomoGateway{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
		clock:  time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

func (g *MomoGateway) Name() string { return "momo" }

func (g *MomoGateway) Method() domain.PaymentMethod { return domain.PaymentMethodMomo }

type momoCreateRequest struct {
	PartnerCode string `json:"partnerCode"`
	RequestID   string `json:"requestId"`
	Amount      int64  `json:"amount"`
	OrderID     string `json:"orderId"`
	OrderInfo   string `json:"orderInfo"`
	RedirectURL string `json:"redirectUrl"`
	IPNURL      string `json:"ipnUrl"`
	RequestType string `json:"requestType"`
	ExtraData   string `json:"extraData"`
	Lang        string `json:"lang"`
	Signature   string `json:"signature"`
}

type momoCreateResponse struct {
	ResultCode int    `json:"resultCode"`
	Message    string `json:"message"`
	PayURL     string `json:"payUrl"`
}

// CreatePayment posts a captureWallet request. Upstream failures degrade to
// CodeProviderError so the caller still gets a stable envelope.
func (g *MomoGateway) CreatePayment(ctx context.Context, req CreateRequest) (CreateResult, error) {
	if req.Amount <= 0 {
		return CreateResult{}, fmt.Errorf("momo: amount must be positive, got %d", req.Amount)
	}

	orderID := g.cfg.PartnerCode + strconv.FormatInt(g.clock().UnixMilli(), 10)
	requestID := orderID
	orderInfo := "Thanh toan don hang: " + req.OrderID
	extraData := ""

	rawSignature := "accessKey=" + g.cfg.AccessKey +
		"&amount=" + strconv.FormatInt(req.Amount, 10) +
		"&extraData=" + extraData +
		"&ipnUrl=" + g.cfg.IPNURL +
		"&orderId=" + orderID +
		"&orderInfo=" + orderInfo +
		"&partnerCode=" + g.cfg.PartnerCode +
		"&redirectUrl=" + g.cfg.RedirectURL +
		"&requestId=" + requestID +
		"&requestType=" + momoRequestType

	payload := momoCreateRequest{
		PartnerCode: g.cfg.PartnerCode,
		RequestID:   requestID,
		Amount:      req.Amount,
		OrderID:     orderID,
		OrderInfo:   orderInfo,
		RedirectURL: g.cfg.RedirectURL,
		IPNURL:      g.cfg.IPNURL,
		RequestType: momoRequestType,
		ExtraData:   extraData,
		Lang:        momoLang,
		Signature:   hmacSHA256Hex(g.cfg.SecretKey, rawSignature),
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return CreateResult{}, fmt.Errorf("momo: encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return CreateResult{}, fmt.Errorf("momo: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(httpReq)
	if err != nil {
		return CreateResult{Code: CodeProviderError, Message: "momo unreachable: " + err.Error()}, nil
	}
	defer resp.Body.Close()

	var decoded momoCreateResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return CreateResult{Code: CodeProviderError, Message: "momo response unreadable"}, nil
	}
	if decoded.ResultCode != 0 || decoded.PayURL == "" {
		return CreateResult{
			Code:    CodeProviderError,
			Message: fmt.Sprintf("momo rejected request: %d %s", decoded.ResultCode, decoded.Message),
			Ref:     orderID,
		}, nil
	}

	return CreateResult{
		Code:    CodeSuccess,
		Message: "success",
		PayURL:  decoded.PayURL,
		Ref:     orderID,
	}, nil
}

// VerifyCallback authenticates an IPN notification. Result code 0 means the
// payment settled; 9000 means the wallet authorised but settlement is still
// in flight.
func (g *MomoGateway) VerifyCallback(_ context.Context, params map[string]string) (CallbackResult, error) {
	provided := params["signature"]
	if provided == "" {
		return CallbackResult{}, errors.New("momo: missing signature")
	}
	ref := params["orderId"]
	if ref == "" {
		return CallbackResult{}, errors.New("momo: missing orderId")
	}

	rawSignature := "accessKey=" + g.cfg.AccessKey +
		"&amount=" + params["amount"] +
		"&extraData=" + params["extraData"] +
		"&message=" + params["message"] +
		"&orderId=" + params["orderId"] +
		"&orderInfo=" + params["orderInfo"] +
		"&orderType=" + params["orderType"] +
		"&partnerCode=" + params["partnerCode"] +
		"&payType=" + params["payType"] +
		"&requestId=" + params["requestId"] +
		"&responseTime=" + params["responseTime"] +
		"&resultCode=" + params["resultCode"] +
		"&transId=" + params["transId"]

	expected := hmacSHA256Hex(g.cfg.SecretKey, rawSignature)
	if !equalSignature(expected, strings.ToLower(provided)) {
		return CallbackResult{Valid: false}, nil
	}

	rawAmount := params["amount"]
	amount, err := strconv.ParseInt(rawAmount, 10, 64)
	if err != nil {
		return CallbackResult{}, fmt.Errorf("momo: invalid amount %q", rawAmount)
	}

	resultCode := params["resultCode"]
	var outcome Outcome
	switch resultCode {
	case "0":
		outcome = OutcomeSucceeded
	case "9000":
		outcome = OutcomeProcessing
	default:
		outcome = OutcomeFailed
	}

	return CallbackResult{
		Valid:   true,
		Outcome: outcome,
		Ref:     ref,
		Amount:  amount,
		Code:    resultCode,
		Message: params["message"],
	}, nil
}
