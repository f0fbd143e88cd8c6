package payments

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"
)

func testZaloPayConfig(endpoint string) ZaloPayConfig {
	return ZaloPayConfig{
		AppID:       "2553",
		Key1:        "key1secret",
		Key2:        "key2secret",
		Endpoint:    endpoint,
		CallbackURL: "https://shop.example/payments/zalopay/callback",
	}
}

func TestZaloPayCreatePaymentSignsWithKey1(t *testing.T) {
	now := time.Date(2025, 9, 1, 3, 0, 0, 0, time.UTC)
	var captured url.Values
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Errorf("form unparseable: %v", err)
		}
		captured = r.PostForm
		json.NewEncoder(w).Encode(zalopayCreateResponse{ReturnCode: 1, OrderURL: "https://qr.zalopay.vn/abc"})
	}))
	defer server.Close()

	gw, err := NewZaloPayGateway(testZaloPayConfig(server.URL),
		WithZaloPayClock(func() time.Time { return now }),
		WithZaloPayTransRef(func() string { return "654321" }),
		WithZaloPayHTTPClient(server.Client()),
	)
	if err != nil {
		t.Fatalf("NewZaloPayGateway returned error: %v", err)
	}

	result, err := gw.CreatePayment(context.Background(), CreateRequest{OrderID: "ord_1", Amount: 120000})
	if err != nil {
		t.Fatalf("CreatePayment returned error: %v", err)
	}
	if result.Code != CodeSuccess {
		t.Fatalf("expected success, got %s (%s)", result.Code, result.Message)
	}
	if result.PayURL != "https://qr.zalopay.vn/abc" {
		t.Fatalf("unexpected pay url %s", result.PayURL)
	}

	// 03:00 UTC on 2025-09-01 is still 2025-09-01 in GMT+7.
	wantTransID := "250901_654321"
	if got := captured.Get("app_trans_id"); got != wantTransID {
		t.Fatalf("unexpected app_trans_id %s", got)
	}
	if result.Ref != wantTransID {
		t.Fatalf("unexpected ref %s", result.Ref)
	}
	if got := captured.Get("app_user"); got != "user123" {
		t.Fatalf("unexpected app_user %s", got)
	}
	if got := captured.Get("item"); got != "[{}]" {
		t.Fatalf("unexpected item %s", got)
	}
	if got := captured.Get("bank_code"); got != "" {
		t.Fatalf("expected empty bank_code, got %s", got)
	}

	macData := "2553|" + wantTransID + "|user123|120000|1756695600000|{}|[{}]"
	if want := hmacSHA256Hex("key1secret", macData); captured.Get("mac") != want {
		t.Fatalf("mac mismatch: got %s want %s", captured.Get("mac"), want)
	}
}

func TestZaloPayCreatePaymentDegradesWhenProviderDown(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {}))
	endpoint := server.URL
	server.Close()

	gw, err := NewZaloPayGateway(testZaloPayConfig(endpoint))
	if err != nil {
		t.Fatalf("NewZaloPayGateway returned error: %v", err)
	}

	result, err := gw.CreatePayment(context.Background(), CreateRequest{OrderID: "ord_1", Amount: 1000})
	if err != nil {
		t.Fatalf("outage must not surface as an error, got %v", err)
	}
	if result.Code != CodeProviderError {
		t.Fatalf("expected %s, got %s", CodeProviderError, result.Code)
	}
}

func zalopaySignRedirect(cfg ZaloPayConfig, params map[string]string) map[string]string {
	data := params["appid"] + "|" + params["apptransid"] + "|" + params["pmcid"] + "|" +
		params["bankcode"] + "|" + params["amount"] + "|" + params["discountamount"] + "|" + params["status"]
	signed := make(map[string]string, len(params)+1)
	for k, v := range params {
		signed[k] = v
	}
	signed["checksum"] = hmacSHA256Hex(cfg.Key2, data)
	return signed
}

func TestZaloPayVerifyCallbackOutcomes(t *testing.T) {
	cfg := testZaloPayConfig("https://zalopay.example")
	gw, err := NewZaloPayGateway(cfg)
	if err != nil {
		t.Fatalf("NewZaloPayGateway returned error: %v", err)
	}

	cases := []struct {
		status string
		want   Outcome
	}{
		{status: "1", want: OutcomeSucceeded},
		{status: "-1", want: OutcomeProcessing},
		{status: "-49", want: OutcomeFailed},
	}

	for _, tc := range cases {
		t.Run(tc.status, func(t *testing.T) {
			params := zalopaySignRedirect(cfg, map[string]string{
				"appid":          "2553",
				"apptransid":     "250901_654321",
				"pmcid":          "38",
				"bankcode":       "",
				"amount":         "120000",
				"discountamount": "0",
				"status":         tc.status,
			})

			result, err := gw.VerifyCallback(context.Background(), params)
			if err != nil {
				t.Fatalf("VerifyCallback returned error: %v", err)
			}
			if !result.Valid {
				t.Fatalf("expected valid checksum")
			}
			if result.Outcome != tc.want {
				t.Fatalf("expected %s, got %s", tc.want, result.Outcome)
			}
			if result.Ref != "250901_654321" {
				t.Fatalf("unexpected ref %s", result.Ref)
			}
			if result.Amount != 120000 {
				t.Fatalf("unexpected amount %d", result.Amount)
			}
		})
	}
}

func TestZaloPayVerifyCallbackRejectsTamperedStatus(t *testing.T) {
	cfg := testZaloPayConfig("https://zalopay.example")
	gw, err := NewZaloPayGateway(cfg)
	if err != nil {
		t.Fatalf("NewZaloPayGateway returned error: %v", err)
	}

	params := zalopaySignRedirect(cfg, map[string]string{
		"appid":      "2553",
		"apptransid": "250901_654321",
		"amount":     "120000",
		"status":     "-49",
	})
	params["status"] = "1"

	result, err := gw.VerifyCallback(context.Background(), params)
	if err != nil {
		t.Fatalf("VerifyCallback returned error: %v", err)
	}
	if result.Valid {
		t.Fatalf("tampered payload must fail verification")
	}
}
