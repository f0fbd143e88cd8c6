package payments

import (
	"context"
	"net/url"
	"strings"
	"testing"
	"time"
)

func testVNPayGateway(t *testing.T, opts ...VNPayOption) *VNPayGateway {
	t.Helper()
	gw, err := NewVNPayGateway(VNPayConfig{
		TmnCode:    "TESTTMN1",
		HashSecret: "SECRETSECRETSECRET",
		PayURL:     "https://sandbox.vnpayment.vn/paymentv2/vpcpay.html",
		ReturnURL:  "https://shop.example/payments/vnpay/return",
	}, opts...)
	if err != nil {
		t.Fatalf("NewVNPayGateway returned error: %v", err)
	}
	return gw
}

func TestVNPayCreatePaymentBuildsSignedURL(t *testing.T) {
	now := time.Date(2025, 9, 1, 3, 30, 0, 0, time.UTC)
	gw := testVNPayGateway(t,
		WithVNPayClock(func() time.Time { return now }),
		WithVNPayTxnRef(func() string { return "12345678" }),
	)

	result, err := gw.CreatePayment(context.Background(), CreateRequest{
		OrderID:  "ord_1",
		Amount:   250000,
		ClientIP: "203.0.113.7",
	})
	if err != nil {
		t.Fatalf("CreatePayment returned error: %v", err)
	}
	if result.Code != CodeSuccess {
		t.Fatalf("expected code %s, got %s", CodeSuccess, result.Code)
	}
	if result.Ref != "12345678" {
		t.Fatalf("unexpected ref %s", result.Ref)
	}

	parsed, err := url.Parse(result.PayURL)
	if err != nil {
		t.Fatalf("pay url unparseable: %v", err)
	}
	query := parsed.Query()

	if got := query.Get("vnp_Amount"); got != "25000000" {
		t.Fatalf("expected amount scaled by 100, got %s", got)
	}
	// 03:30 UTC is 10:30 in GMT+7.
	if got := query.Get("vnp_CreateDate"); got != "20250901103000" {
		t.Fatalf("unexpected create date %s", got)
	}
	if got := query.Get("vnp_ExpireDate"); got != "20250901104500" {
		t.Fatalf("expected expiry 15 minutes out, got %s", got)
	}
	if got := query.Get("vnp_TmnCode"); got != "TESTTMN1" {
		t.Fatalf("unexpected tmn code %s", got)
	}
	if got := query.Get("vnp_IpAddr"); got != "203.0.113.7" {
		t.Fatalf("unexpected ip %s", got)
	}

	// The signature must cover every parameter except the hash itself.
	fields := make(map[string]string, len(query))
	for k := range query {
		if k == "vnp_SecureHash" {
			continue
		}
		fields[k] = query.Get(k)
	}
	expected := hmacSHA512Hex("SECRETSECRETSECRET", vnpayHashData(fields))
	if got := query.Get("vnp_SecureHash"); got != expected {
		t.Fatalf("signature mismatch: got %s want %s", got, expected)
	}
}

func TestVNPayHashDataSortsAndEncodes(t *testing.T) {
	data := vnpayHashData(map[string]string{
		"vnp_OrderInfo": "Thanh toan don hang: ord_1",
		"vnp_Amount":    "100",
		"vnp_Empty":     "",
	})
	if !strings.HasPrefix(data, "vnp_Amount=100&vnp_OrderInfo=") {
		t.Fatalf("expected sorted fields, got %s", data)
	}
	if strings.Contains(data, "vnp_Empty") {
		t.Fatalf("empty fields must be skipped: %s", data)
	}
	if !strings.Contains(data, "Thanh+toan+don+hang%3A+ord_1") {
		t.Fatalf("expected query-escaped value, got %s", data)
	}
}

func vnpaySignCallback(secret string, params map[string]string) map[string]string {
	signed := make(map[string]string, len(params)+1)
	for k, v := range params {
		signed[k] = v
	}
	signed["vnp_SecureHash"] = hmacSHA512Hex(secret, vnpayHashData(params))
	return signed
}

func TestVNPayVerifyCallbackAcceptsSignedSuccess(t *testing.T) {
	gw := testVNPayGateway(t)
	params := vnpaySignCallback("SECRETSECRETSECRET", map[string]string{
		"vnp_TxnRef":            "12345678",
		"vnp_Amount":            "25000000",
		"vnp_ResponseCode":      "00",
		"vnp_TransactionStatus": "00",
		"vnp_TmnCode":           "TESTTMN1",
	})

	result, err := gw.VerifyCallback(context.Background(), params)
	if err != nil {
		t.Fatalf("VerifyCallback returned error: %v", err)
	}
	if !result.Valid {
		t.Fatalf("expected valid signature")
	}
	if result.Outcome != OutcomeSucceeded {
		t.Fatalf("expected succeeded, got %s", result.Outcome)
	}
	if result.Amount != 250000 {
		t.Fatalf("expected amount scaled down, got %d", result.Amount)
	}
	if result.Ref != "12345678" {
		t.Fatalf("unexpected ref %s", result.Ref)
	}
}

func TestVNPayVerifyCallbackRequiresBothStatusCodes(t *testing.T) {
	gw := testVNPayGateway(t)
	params := vnpaySignCallback("SECRETSECRETSECRET", map[string]string{
		"vnp_TxnRef":            "12345678",
		"vnp_Amount":            "25000000",
		"vnp_ResponseCode":      "00",
		"vnp_TransactionStatus": "02",
	})

	result, err := gw.VerifyCallback(context.Background(), params)
	if err != nil {
		t.Fatalf("VerifyCallback returned error: %v", err)
	}
	if result.Outcome != OutcomeFailed {
		t.Fatalf("expected failed when transaction status is not 00, got %s", result.Outcome)
	}
}

func TestVNPayVerifyCallbackRejectsTamperedAmount(t *testing.T) {
	gw := testVNPayGateway(t)
	params := vnpaySignCallback("SECRETSECRETSECRET", map[string]string{
		"vnp_TxnRef":            "12345678",
		"vnp_Amount":            "25000000",
		"vnp_ResponseCode":      "00",
		"vnp_TransactionStatus": "00",
	})
	params["vnp_Amount"] = "100"

	result, err := gw.VerifyCallback(context.Background(), params)
	if err != nil {
		t.Fatalf("VerifyCallback returned error: %v", err)
	}
	if result.Valid {
		t.Fatalf("tampered payload must fail verification")
	}
}

func TestVNPayVerifyCallbackIgnoresHashTypeField(t *testing.T) {
	gw := testVNPayGateway(t)
	params := vnpaySignCallback("SECRETSECRETSECRET", map[string]string{
		"vnp_TxnRef":            "12345678",
		"vnp_Amount":            "100",
		"vnp_ResponseCode":      "24",
		"vnp_TransactionStatus": "02",
	})
	params["vnp_SecureHashType"] = "HMACSHA512"

	result, err := gw.VerifyCallback(context.Background(), params)
	if err != nil {
		t.Fatalf("VerifyCallback returned error: %v", err)
	}
	if !result.Valid {
		t.Fatalf("vnp_SecureHashType must be excluded from the signature")
	}
}
