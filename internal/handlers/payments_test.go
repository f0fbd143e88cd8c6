package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/choocapi/ecommerce-backend/internal/domain"
	"github.com/choocapi/ecommerce-backend/internal/payments"
	pfirestore "github.com/choocapi/ecommerce-backend/internal/platform/firestore"
	"github.com/choocapi/ecommerce-backend/internal/repositories"
)

func vnpayRefNotFoundErr() error {
	return pfirestore.WrapError("orders.findByGatewayRef", status.Error(codes.NotFound, "no order for ref"))
}

type stubPaymentOrderStore struct {
	findFn         func(ctx context.Context, orderID string) (domain.Order, error)
	setRefFn       func(ctx context.Context, orderID string, method domain.PaymentMethod, ref string) error
	findByRefFn    func(ctx context.Context, method domain.PaymentMethod, ref string) (domain.Order, error)
	applyOutcomeFn func(ctx context.Context, req repositories.PaymentOutcomeRequest) (repositories.PaymentOutcomeResult, error)
}

func (s *stubPaymentOrderStore) Insert(context.Context, domain.Order) error { return nil }
func (s *stubPaymentOrderStore) Update(context.Context, domain.Order) error { return nil }
func (s *stubPaymentOrderStore) Delete(context.Context, string) error       { return nil }

func (s *stubPaymentOrderStore) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	if s.findFn != nil {
		return s.findFn(ctx, orderID)
	}
	return domain.Order{}, nil
}

func (s *stubPaymentOrderStore) List(context.Context, repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	return domain.CursorPage[domain.Order]{}, nil
}

func (s *stubPaymentOrderStore) SetGatewayRef(ctx context.Context, orderID string, method domain.PaymentMethod, ref string) error {
	if s.setRefFn != nil {
		return s.setRefFn(ctx, orderID, method, ref)
	}
	return nil
}

func (s *stubPaymentOrderStore) FindByGatewayRef(ctx context.Context, method domain.PaymentMethod, ref string) (domain.Order, error) {
	if s.findByRefFn != nil {
		return s.findByRefFn(ctx, method, ref)
	}
	return domain.Order{}, nil
}

func (s *stubPaymentOrderStore) ApplyPaymentOutcome(ctx context.Context, req repositories.PaymentOutcomeRequest) (repositories.PaymentOutcomeResult, error) {
	if s.applyOutcomeFn != nil {
		return s.applyOutcomeFn(ctx, req)
	}
	return repositories.PaymentOutcomeResult{}, nil
}

var _ repositories.OrderRepository = (*stubPaymentOrderStore)(nil)

type fakePaymentGateway struct {
	name     string
	method   domain.PaymentMethod
	createFn func(ctx context.Context, req payments.CreateRequest) (payments.CreateResult, error)
	verifyFn func(ctx context.Context, params map[string]string) (payments.CallbackResult, error)
}

func (g *fakePaymentGateway) Name() string                 { return g.name }
func (g *fakePaymentGateway) Method() domain.PaymentMethod { return g.method }

func (g *fakePaymentGateway) CreatePayment(ctx context.Context, req payments.CreateRequest) (payments.CreateResult, error) {
	if g.createFn != nil {
		return g.createFn(ctx, req)
	}
	return payments.CreateResult{Code: payments.CodeSuccess}, nil
}

func (g *fakePaymentGateway) VerifyCallback(ctx context.Context, params map[string]string) (payments.CallbackResult, error) {
	if g.verifyFn != nil {
		return g.verifyFn(ctx, params)
	}
	return payments.CallbackResult{}, nil
}

func newPaymentTestRouter(t *testing.T, store repositories.OrderRepository, gateways []payments.Gateway, opts ...PaymentHandlerOption) chi.Router {
	t.Helper()
	manager, err := payments.NewManager(gateways...)
	if err != nil {
		t.Fatalf("failed to build gateway manager: %v", err)
	}
	reconciler, err := payments.NewReconciler(payments.ReconcilerDeps{
		Orders:   store,
		Gateways: manager,
	})
	if err != nil {
		t.Fatalf("failed to build reconciler: %v", err)
	}
	h := NewPaymentHandlers(reconciler, opts...)
	r := chi.NewRouter()
	r.Use(IdentityMiddleware())
	r.Route("/payments", h.Routes)
	r.Route("/callbacks", h.CallbackRoutes)
	return r
}

func pendingVNPayOrder() domain.Order {
	return domain.Order{
		ID:            "ord_1",
		UserID:        "user-1",
		Status:        domain.OrderStatusPending,
		PaymentMethod: domain.PaymentMethodVNPay,
		PaymentStatus: domain.PaymentStatusPending,
		TotalAmount:   250000,
	}
}

func TestPaymentHandlersInitiateReturnsPayURL(t *testing.T) {
	var recordedRef string
	store := &stubPaymentOrderStore{
		findFn: func(_ context.Context, orderID string) (domain.Order, error) {
			if orderID != "ord_1" {
				t.Fatalf("unexpected order lookup %q", orderID)
			}
			return pendingVNPayOrder(), nil
		},
		setRefFn: func(_ context.Context, orderID string, method domain.PaymentMethod, ref string) error {
			recordedRef = ref
			return nil
		},
	}
	gw := &fakePaymentGateway{
		name:   "vnpay",
		method: domain.PaymentMethodVNPay,
		createFn: func(_ context.Context, req payments.CreateRequest) (payments.CreateResult, error) {
			if req.Amount != 250000 {
				t.Fatalf("expected amount 250000, got %d", req.Amount)
			}
			return payments.CreateResult{
				Code:   payments.CodeSuccess,
				PayURL: "https://pay.example/redirect",
				Ref:    "12345678",
			}, nil
		},
	}

	req := httptest.NewRequest(http.MethodPost, "/payments/vnpay", strings.NewReader(`{"order_id": "ord_1"}`))
	req.Header.Set("X-User-Id", "user-1")
	rr := httptest.NewRecorder()

	newPaymentTestRouter(t, store, []payments.Gateway{gw}).ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if recordedRef != "12345678" {
		t.Fatalf("expected gateway ref recorded, got %q", recordedRef)
	}

	var resp initiatePaymentResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if resp.PayURL != "https://pay.example/redirect" {
		t.Fatalf("unexpected pay url: %q", resp.PayURL)
	}
}

func TestPaymentHandlersInitiateRequiresIdentity(t *testing.T) {
	gw := &fakePaymentGateway{name: "vnpay", method: domain.PaymentMethodVNPay}
	req := httptest.NewRequest(http.MethodPost, "/payments/vnpay", strings.NewReader(`{"order_id": "ord_1"}`))
	rr := httptest.NewRecorder()

	newPaymentTestRouter(t, &stubPaymentOrderStore{}, []payments.Gateway{gw}).ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", rr.Code)
	}
}

func TestPaymentHandlersInitiateDegradesOnProviderError(t *testing.T) {
	refRecorded := false
	store := &stubPaymentOrderStore{
		findFn: func(_ context.Context, _ string) (domain.Order, error) {
			return pendingVNPayOrder(), nil
		},
		setRefFn: func(_ context.Context, _ string, _ domain.PaymentMethod, _ string) error {
			refRecorded = true
			return nil
		},
	}
	gw := &fakePaymentGateway{
		name:   "vnpay",
		method: domain.PaymentMethodVNPay,
		createFn: func(_ context.Context, _ payments.CreateRequest) (payments.CreateResult, error) {
			return payments.CreateResult{Code: payments.CodeProviderError, Message: "provider unreachable"}, nil
		},
	}

	req := httptest.NewRequest(http.MethodPost, "/payments/vnpay", strings.NewReader(`{"order_id": "ord_1"}`))
	req.Header.Set("X-User-Id", "user-1")
	rr := httptest.NewRecorder()

	newPaymentTestRouter(t, store, []payments.Gateway{gw}).ServeHTTP(rr, req)

	if rr.Code != http.StatusBadGateway {
		t.Fatalf("expected status 502, got %d: %s", rr.Code, rr.Body.String())
	}
	if refRecorded {
		t.Fatal("expected no gateway ref recorded on provider error")
	}
}

func TestPaymentHandlersInitiateRateLimited(t *testing.T) {
	store := &stubPaymentOrderStore{
		findFn: func(_ context.Context, _ string) (domain.Order, error) {
			return pendingVNPayOrder(), nil
		},
	}
	gw := &fakePaymentGateway{
		name:   "vnpay",
		method: domain.PaymentMethodVNPay,
		createFn: func(_ context.Context, _ payments.CreateRequest) (payments.CreateResult, error) {
			return payments.CreateResult{Code: payments.CodeSuccess, PayURL: "https://pay.example", Ref: "r1"}, nil
		},
	}
	limiter := newSimpleRateLimiter(1, time.Minute, nil)
	router := newPaymentTestRouter(t, store, []payments.Gateway{gw}, WithPaymentRateLimiter(limiter))

	for i, want := range []int{http.StatusOK, http.StatusTooManyRequests} {
		req := httptest.NewRequest(http.MethodPost, "/payments/vnpay", strings.NewReader(`{"order_id": "ord_1"}`))
		req.Header.Set("X-User-Id", "user-1")
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)
		if rr.Code != want {
			t.Fatalf("request %d: expected status %d, got %d", i, want, rr.Code)
		}
	}
}

func TestPaymentHandlersVNPayIPNAcksInvalidSignature(t *testing.T) {
	gw := &fakePaymentGateway{
		name:   "vnpay",
		method: domain.PaymentMethodVNPay,
		verifyFn: func(_ context.Context, _ map[string]string) (payments.CallbackResult, error) {
			return payments.CallbackResult{Valid: false}, nil
		},
	}

	req := httptest.NewRequest(http.MethodGet, "/callbacks/vnpay/ipn?vnp_TxnRef=123&vnp_SecureHash=bad", nil)
	rr := httptest.NewRecorder()

	newPaymentTestRouter(t, &stubPaymentOrderStore{}, []payments.Gateway{gw}).ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}

	var ack map[string]string
	if err := json.Unmarshal(rr.Body.Bytes(), &ack); err != nil {
		t.Fatalf("failed to parse ack: %v", err)
	}
	if ack["RspCode"] != "97" {
		t.Fatalf("expected RspCode 97, got %q", ack["RspCode"])
	}
}

func TestPaymentHandlersVNPayIPNAcksReplay(t *testing.T) {
	gw := &fakePaymentGateway{
		name:   "vnpay",
		method: domain.PaymentMethodVNPay,
		verifyFn: func(_ context.Context, _ map[string]string) (payments.CallbackResult, error) {
			return payments.CallbackResult{
				Valid:   true,
				Outcome: payments.OutcomeSucceeded,
				Ref:     "12345678",
				Amount:  250000,
			}, nil
		},
	}
	store := &stubPaymentOrderStore{
		findByRefFn: func(_ context.Context, _ domain.PaymentMethod, _ string) (domain.Order, error) {
			order := pendingVNPayOrder()
			order.PaymentStatus = domain.PaymentStatusPaid
			order.Status = domain.OrderStatusProcessing
			return order, nil
		},
		applyOutcomeFn: func(_ context.Context, _ repositories.PaymentOutcomeRequest) (repositories.PaymentOutcomeResult, error) {
			order := pendingVNPayOrder()
			order.PaymentStatus = domain.PaymentStatusPaid
			order.Status = domain.OrderStatusProcessing
			return repositories.PaymentOutcomeResult{Order: order, AlreadyPaid: true}, nil
		},
	}

	req := httptest.NewRequest(http.MethodGet, "/callbacks/vnpay/ipn?vnp_TxnRef=12345678", nil)
	rr := httptest.NewRecorder()

	newPaymentTestRouter(t, store, []payments.Gateway{gw}).ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}

	var ack map[string]string
	if err := json.Unmarshal(rr.Body.Bytes(), &ack); err != nil {
		t.Fatalf("failed to parse ack: %v", err)
	}
	if ack["RspCode"] != "02" {
		t.Fatalf("expected RspCode 02 for replay, got %q", ack["RspCode"])
	}
}

func TestPaymentHandlersMomoIPNRepliesNoContent(t *testing.T) {
	var seenParams map[string]string
	gw := &fakePaymentGateway{
		name:   "momo",
		method: domain.PaymentMethodMomo,
		verifyFn: func(_ context.Context, params map[string]string) (payments.CallbackResult, error) {
			seenParams = params
			return payments.CallbackResult{
				Valid:   true,
				Outcome: payments.OutcomeSucceeded,
				Ref:     "MOMO1756695600000",
				Amount:  250000,
			}, nil
		},
	}
	store := &stubPaymentOrderStore{
		findByRefFn: func(_ context.Context, method domain.PaymentMethod, ref string) (domain.Order, error) {
			order := pendingVNPayOrder()
			order.PaymentMethod = domain.PaymentMethodMomo
			return order, nil
		},
		applyOutcomeFn: func(_ context.Context, req repositories.PaymentOutcomeRequest) (repositories.PaymentOutcomeResult, error) {
			order := pendingVNPayOrder()
			order.PaymentMethod = domain.PaymentMethodMomo
			order.PaymentStatus = domain.PaymentStatusPaid
			order.Status = domain.OrderStatusProcessing
			return repositories.PaymentOutcomeResult{Order: order}, nil
		},
	}

	body := `{"orderId": "MOMO1756695600000", "amount": 250000, "resultCode": 0, "signature": "abc"}`
	req := httptest.NewRequest(http.MethodPost, "/callbacks/momo/ipn", strings.NewReader(body))
	rr := httptest.NewRecorder()

	newPaymentTestRouter(t, store, []payments.Gateway{gw}).ServeHTTP(rr, req)

	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected status 204, got %d: %s", rr.Code, rr.Body.String())
	}
	if seenParams["amount"] != "250000" {
		t.Fatalf("expected numeric amount flattened to string, got %q", seenParams["amount"])
	}
	if seenParams["resultCode"] != "0" {
		t.Fatalf("expected resultCode 0, got %q", seenParams["resultCode"])
	}
}

func TestPaymentHandlersZaloPayReturnReportsOutcome(t *testing.T) {
	gw := &fakePaymentGateway{
		name:   "zalopay",
		method: domain.PaymentMethodZaloPay,
		verifyFn: func(_ context.Context, params map[string]string) (payments.CallbackResult, error) {
			return payments.CallbackResult{
				Valid:   true,
				Outcome: payments.OutcomeSucceeded,
				Ref:     params["apptransid"],
				Amount:  250000,
			}, nil
		},
	}
	store := &stubPaymentOrderStore{
		findByRefFn: func(_ context.Context, _ domain.PaymentMethod, _ string) (domain.Order, error) {
			order := pendingVNPayOrder()
			order.PaymentMethod = domain.PaymentMethodZaloPay
			return order, nil
		},
		applyOutcomeFn: func(_ context.Context, _ repositories.PaymentOutcomeRequest) (repositories.PaymentOutcomeResult, error) {
			order := pendingVNPayOrder()
			order.PaymentMethod = domain.PaymentMethodZaloPay
			order.PaymentStatus = domain.PaymentStatusPaid
			order.Status = domain.OrderStatusProcessing
			return repositories.PaymentOutcomeResult{Order: order}, nil
		},
	}

	req := httptest.NewRequest(http.MethodGet, "/callbacks/zalopay/return?apptransid=250901_654321&status=1&checksum=abc", nil)
	rr := httptest.NewRecorder()

	newPaymentTestRouter(t, store, []payments.Gateway{gw}).ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}

	var resp callbackResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if resp.Outcome != string(payments.OutcomeSucceeded) {
		t.Fatalf("expected succeeded outcome, got %q", resp.Outcome)
	}
	if resp.PaymentStatus != string(domain.PaymentStatusPaid) {
		t.Fatalf("expected payment status PAID, got %q", resp.PaymentStatus)
	}
}

func TestPaymentHandlersCallbackUnknownReference(t *testing.T) {
	gw := &fakePaymentGateway{
		name:   "vnpay",
		method: domain.PaymentMethodVNPay,
		verifyFn: func(_ context.Context, _ map[string]string) (payments.CallbackResult, error) {
			return payments.CallbackResult{Valid: true, Outcome: payments.OutcomeSucceeded, Ref: "999", Amount: 100}, nil
		},
	}
	store := &stubPaymentOrderStore{
		findByRefFn: func(_ context.Context, _ domain.PaymentMethod, _ string) (domain.Order, error) {
			return domain.Order{}, vnpayRefNotFoundErr()
		},
	}

	req := httptest.NewRequest(http.MethodGet, "/callbacks/vnpay/return?vnp_TxnRef=999", nil)
	rr := httptest.NewRecorder()

	newPaymentTestRouter(t, store, []payments.Gateway{gw}).ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d: %s", rr.Code, rr.Body.String())
	}
	if !strings.Contains(rr.Body.String(), "unknown_reference") {
		t.Fatalf("expected unknown_reference code, got %s", rr.Body.String())
	}
}
