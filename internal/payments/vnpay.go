package payments

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	domain "github.com/choocapi/ecommerce-backend/internal/domain"
)

const (
	vnpayVersion    = "2.1.0"
	vnpayCommand    = "pay"
	vnpayCurrCode   = "VND"
	vnpayOrderType  = "other"
	vnpayLocale     = "vn"
	vnpayDateFormat = "20060102150405"
	vnpayExpiry     = 15 * time.Minute
)

// gmt7 is the timezone VNPay and ZaloPay expect timestamps in.
var gmt7 = time.FixedZone("GMT+7", 7*60*60)

// VNPayConfig holds the merchant credentials and endpoints for VNPay.
type VNPayConfig struct {
	TmnCode    string
	HashSecret string
	PayURL     string
	ReturnURL  string
}

// VNPayGateway builds signed hosted-payment URLs and verifies VNPay callbacks.
type VNPayGateway struct {
	cfg    VNPayConfig
	clock  func() time.Time
	txnRef func() string
}

// VNPayOption configures optional behaviour of the gateway.
type VNPayOption func(*VNPayGateway)

// WithVNPayClock overrides the time source, mainly for tests.
func WithVNPayClock(clock func() time.Time) VNPayOption {
	return func(g *VNPayGateway) {
		if clock != nil {
			g.clock = clock
		}
	}
}

// WithVNPayTxnRef overrides the transaction reference generator.
func WithVNPayTxnRef(gen func() string) VNPayOption {
	return func(g *VNPayGateway) {
		if gen != nil {
			g.txnRef = gen
		}
	}
}

// NewVNPayGateway validates the configuration and constructs the adapter.
func NewVNPayGateway(cfg VNPayConfig, opts ...VNPayOption) (*VNPayGateway, error) {
	if strings.TrimSpace(cfg.TmnCode) == "" {
		return nil, errors.New("vnpay: tmn code is required")
	}
	if strings.TrimSpace(cfg.HashSecret) == "" {
		return nil, errors.New("vnpay: hash secret is required")
	}
	if strings.TrimSpace(cfg.PayURL) == "" {
		return nil, errors.New("vnpay: pay url is required")
	}

	g := &VNPayGateway{
		cfg:    cfg,
		clock:  time.Now,
		txnRef: func() string { return randomDigits(8) },
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

func (g *VNPayGateway) Name() string { return "vnpay" }

func (g *VNPayGateway) Method() domain.PaymentMethod { return domain.PaymentMethodVNPay }

// CreatePayment assembles the signed redirect URL. VNPay hosts the payment
// page, so no upstream call happens here and creation cannot hit an outage.
func (g *VNPayGateway) CreatePayment(_ context.Context, req CreateRequest) (CreateResult, error) {
	if req.Amount <= 0 {
		return CreateResult{}, fmt.Errorf("vnpay: amount must be positive, got %d", req.Amount)
	}

	txnRef := g.txnRef()
	now := g.clock().In(gmt7)
	orderInfo := strings.TrimSpace(req.Description)
	if orderInfo == "" {
		orderInfo = "Thanh toan don hang: " + req.OrderID
	}

	params := map[string]string{
		"vnp_Version":    vnpayVersion,
		"vnp_Command":    vnpayCommand,
		"vnp_TmnCode":    g.cfg.TmnCode,
		"vnp_Amount":     strconv.FormatInt(req.Amount*100, 10),
		"vnp_CurrCode":   vnpayCurrCode,
		"vnp_TxnRef":     txnRef,
		"vnp_OrderInfo":  orderInfo,
		"vnp_OrderType":  vnpayOrderType,
		"vnp_Locale":     vnpayLocale,
		"vnp_ReturnUrl":  g.cfg.ReturnURL,
		"vnp_IpAddr":     req.ClientIP,
		"vnp_CreateDate": now.Format(vnpayDateFormat),
		"vnp_ExpireDate": now.Add(vnpayExpiry).Format(vnpayDateFormat),
	}

	query := g.signedQuery(params)
	return CreateResult{
		Code:    CodeSuccess,
		Message: "success",
		PayURL:  g.cfg.PayURL + "?" + query,
		Ref:     txnRef,
	}, nil
}

// VerifyCallback authenticates the return/IPN parameters. Payment succeeded
// only when both the response code and the transaction status are "00".
func (g *VNPayGateway) VerifyCallback(_ context.Context, params map[string]string) (CallbackResult, error) {
	provided := params["vnp_SecureHash"]
	if provided == "" {
		return CallbackResult{}, errors.New("vnpay: missing vnp_SecureHash")
	}
	ref := params["vnp_TxnRef"]
	if ref == "" {
		return CallbackResult{}, errors.New("vnpay: missing vnp_TxnRef")
	}

	fields := make(map[string]string, len(params))
	for k, v := range params {
		if k == "vnp_SecureHash" || k == "vnp_SecureHashType" {
			continue
		}
		fields[k] = v
	}
	expected := hmacSHA512Hex(g.cfg.HashSecret, vnpayHashData(fields))
	if !equalSignature(expected, strings.ToLower(provided)) {
		return CallbackResult{Valid: false}, nil
	}

	rawAmount := params["vnp_Amount"]
	amount, err := strconv.ParseInt(rawAmount, 10, 64)
	if err != nil {
		return CallbackResult{}, fmt.Errorf("vnpay: invalid vnp_Amount %q", rawAmount)
	}

	responseCode := params["vnp_ResponseCode"]
	transactionStatus := params["vnp_TransactionStatus"]
	outcome := OutcomeFailed
	if responseCode == "00" && transactionStatus == "00" {
		outcome = OutcomeSucceeded
	}

	return CallbackResult{
		Valid:   true,
		Outcome: outcome,
		Ref:     ref,
		Amount:  amount / 100,
		Code:    responseCode,
		Message: params["vnp_OrderInfo"],
	}, nil
}

// signedQuery builds the URL-encoded query string with the vnp_SecureHash
// parameter appended.
func (g *VNPayGateway) signedQuery(params map[string]string) string {
	hashData := vnpayHashData(params)
	secureHash := hmacSHA512Hex(g.cfg.HashSecret, hashData)

	keys := sortedNonEmptyKeys(params)
	var query strings.Builder
	for i, k := range keys {
		if i > 0 {
			query.WriteByte('&')
		}
		query.WriteString(url.QueryEscape(k))
		query.WriteByte('=')
		query.WriteString(url.QueryEscape(params[k]))
	}
	query.WriteString("&vnp_SecureHash=")
	query.WriteString(secureHash)
	return query.String()
}

// vnpayHashData concatenates "name=encodedValue" pairs sorted by field name.
// Field names stay raw while values are URL-encoded, matching what the
// gateway signs on its side.
func vnpayHashData(params map[string]string) string {
	keys := sortedNonEmptyKeys(params)
	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(params[k]))
	}
	return b.String()
}

func sortedNonEmptyKeys(params map[string]string) []string {
	keys := make([]string, 0, len(params))
	for k, v := range params {
		if v == "" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func randomDigits(n int) string {
	var b strings.Builder
	for i := 0; i < n; i++ {
		b.WriteByte(byte('0' + rand.Intn(10)))
	}
	return b.String()
}
