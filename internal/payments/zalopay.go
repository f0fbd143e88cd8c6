package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	domain "github.com/choocapi/ecommerce-backend/internal/domain"
)

const (
	zalopayAppUser    = "user123"
	zalopayItem       = "[{}]"
	zalopayEmbedData  = "{}"
	zalopayDateFormat = "060102"
)

// ZaloPayConfig holds the application credentials and endpoints for ZaloPay.
type ZaloPayConfig struct {
	AppID       string
	Key1        string
	Key2        string
	Endpoint    string
	CallbackURL string
}

// ZaloPayGateway creates orders over the ZaloPay REST API and verifies its
// redirect callbacks.
type ZaloPayGateway struct {
	cfg      ZaloPayConfig
	client   *http.Client
	clock    func() time.Time
	transRef func() string
}

// ZaloPayOption configures optional behaviour of the gateway.
type ZaloPayOption func(*ZaloPayGateway)

// WithZaloPayClock overrides the time source, mainly for tests.
func WithZaloPayClock(clock func() time.Time) ZaloPayOption {
	return func(g *ZaloPayGateway) {
		if clock != nil {
			g.clock = clock
		}
	}
}

// WithZaloPayHTTPClient overrides the HTTP client used for create calls.
func WithZaloPayHTTPClient(client *http.Client) ZaloPayOption {
	return func(g *ZaloPayGateway) {
		if client != nil {
			g.client = client
		}
	}
}

// WithZaloPayTransRef overrides the random suffix generator for app_trans_id.
func WithZaloPayTransRef(gen func() string) ZaloPayOption {
	return func(g *ZaloPayGateway) {
		if gen != nil {
			g.transRef = gen
		}
	}
}

// NewZaloPayGateway validates the configuration and constructs the adapter.
func NewZaloPayGateway(cfg ZaloPayConfig, opts ...ZaloPayOption) (*ZaloPayGateway, error) {
	if strings.TrimSpace(cfg.AppID) == "" {
		return nil, errors.New("zalopay: app id is required")
	}
	if strings.TrimSpace(cfg.Key1) == "" {
		return nil, errors.New("zalopay: key1 is required")
	}
	if strings.TrimSpace(cfg.Key2) == "" {
		return nil, errors.New("zalopay: key2 is required")
	}
	if strings.TrimSpace(cfg.Endpoint) == "" {
		return nil, errors.New("zalopay: endpoint is required")
	}

	g := &ZaloPayGateway{
		cfg:      cfg,
		client:   &http.Client{Timeout: 10 * time.Second},
		clock:    time.Now,
		transRef: func() string { return randomDigits(6) },
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

func (g *ZaloPayGateway) Name() string { return "zalopay" }

func (g *ZaloPayGateway) Method() domain.PaymentMethod { return domain.PaymentMethodZaloPay }

type zalopayCreateResponse struct {
	ReturnCode    int    `json:"return_code"`
	ReturnMessage string `json:"return_message"`
	OrderURL      string `json:"order_url"`
}

// CreatePayment posts an order creation request. The app_trans_id embeds the
// GMT+7 date because ZaloPay rejects references from another day.
func (g *ZaloPayGateway) CreatePayment(ctx context.Context, req CreateRequest) (CreateResult, error) {
	if req.Amount <= 0 {
		return CreateResult{}, fmt.Errorf("zalopay: amount must be positive, got %d", req.Amount)
	}

	now := g.clock()
	appTransID := now.In(gmt7).Format(zalopayDateFormat) + "_" + g.transRef()
	appTime := strconv.FormatInt(now.UnixMilli(), 10)
	amount := strconv.FormatInt(req.Amount, 10)
	description := strings.TrimSpace(req.Description)
	if description == "" {
		description = "Thanh toan don hang: " + req.OrderID
	}

	macData := g.cfg.AppID + "|" + appTransID + "|" + zalopayAppUser + "|" + amount + "|" + appTime + "|" + zalopayEmbedData + "|" + zalopayItem

	form := url.Values{}
	form.Set("app_id", g.cfg.AppID)
	form.Set("app_user", zalopayAppUser)
	form.Set("app_time", appTime)
	form.Set("amount", amount)
	form.Set("app_trans_id", appTransID)
	form.Set("embed_data", zalopayEmbedData)
	form.Set("item", zalopayItem)
	form.Set("bank_code", "")
	form.Set("description", description)
	form.Set("callback_url", g.cfg.CallbackURL)
	form.Set("mac", hmacSHA256Hex(g.cfg.Key1, macData))

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.cfg.Endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return CreateResult{}, fmt.Errorf("zalopay: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := g.client.Do(httpReq)
	if err != nil {
		return CreateResult{Code: CodeProviderError, Message: "zalopay unreachable: " + err.Error()}, nil
	}
	defer resp.Body.Close()

	var decoded zalopayCreateResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return CreateResult{Code: CodeProviderError, Message: "zalopay response unreadable"}, nil
	}
	if decoded.ReturnCode != 1 || decoded.OrderURL == "" {
		return CreateResult{
			Code:    CodeProviderError,
			Message: fmt.Sprintf("zalopay rejected request: %d %s", decoded.ReturnCode, decoded.ReturnMessage),
			Ref:     appTransID,
		}, nil
	}

	return CreateResult{
		Code:    CodeSuccess,
		Message: "success",
		PayURL:  decoded.OrderURL,
		Ref:     appTransID,
	}, nil
}

// VerifyCallback authenticates the redirect parameters with the key2
// checksum. Status 1 means settled, -1 means the wallet is still processing.
func (g *ZaloPayGateway) VerifyCallback(_ context.Context, params map[string]string) (CallbackResult, error) {
	provided := params["checksum"]
	if provided == "" {
		return CallbackResult{}, errors.New("zalopay: missing checksum")
	}
	ref := params["apptransid"]
	if ref == "" {
		return CallbackResult{}, errors.New("zalopay: missing apptransid")
	}

	checksumData := params["appid"] + "|" + params["apptransid"] + "|" + params["pmcid"] + "|" +
		params["bankcode"] + "|" + params["amount"] + "|" + params["discountamount"] + "|" + params["status"]
	expected := hmacSHA256Hex(g.cfg.Key2, checksumData)
	if !equalSignature(expected, strings.ToLower(provided)) {
		return CallbackResult{Valid: false}, nil
	}

	rawAmount := params["amount"]
	amount, err := strconv.ParseInt(rawAmount, 10, 64)
	if err != nil {
		return CallbackResult{}, fmt.Errorf("zalopay: invalid amount %q", rawAmount)
	}

	status := params["status"]
	var outcome Outcome
	switch status {
	case "1":
		outcome = OutcomeSucceeded
	case "-1":
		outcome = OutcomeProcessing
	default:
		outcome = OutcomeFailed
	}

	return CallbackResult{
		Valid:   true,
		Outcome: outcome,
		Ref:     ref,
		Amount:  amount,
		Code:    status,
	}, nil
}
