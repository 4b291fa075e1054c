package orders

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/rentiva/rentiva-backend/api/middleware"
	internalorders "github.com/rentiva/rentiva-backend/internal/orders"
	pkgAuth "github.com/rentiva/rentiva-backend/pkg/auth"
	"github.com/rentiva/rentiva-backend/pkg/db/models"
	"github.com/rentiva/rentiva-backend/pkg/enums"
	pkgerrors "github.com/rentiva/rentiva-backend/pkg/errors"
)

type stubService struct {
	createInput *internalorders.CreateOrderInput
	calcInput   *internalorders.CalculatorOrderInput
	cancelledID uuid.UUID
	createErr   error
}

func (s *stubService) Create(ctx context.Context, actor pkgAuth.Actor, input internalorders.CreateOrderInput) (*models.Order, error) {
	if s.createErr != nil {
		return nil, s.createErr
	}
	s.createInput = &input
	return &models.Order{ID: uuid.New(), UserID: actor.UserID, Status: enums.OrderStatusPending}, nil
}

func (s *stubService) CreateFromCalculator(ctx context.Context, actor pkgAuth.Actor, input internalorders.CalculatorOrderInput) (*models.Order, error) {
	s.calcInput = &input
	return &models.Order{ID: uuid.New(), UserID: actor.UserID, Status: enums.OrderStatusPending}, nil
}

func (s *stubService) Get(ctx context.Context, actor pkgAuth.Actor, orderID uuid.UUID) (*models.Order, error) {
	return &models.Order{ID: orderID, UserID: actor.UserID}, nil
}

func (s *stubService) List(ctx context.Context, actor pkgAuth.Actor, params internalorders.ListParams) (*internalorders.ListResult, error) {
	return &internalorders.ListResult{}, nil
}

func (s *stubService) Cancel(ctx context.Context, actor pkgAuth.Actor, orderID uuid.UUID) (*models.Order, error) {
	s.cancelledID = orderID
	return &models.Order{ID: orderID, Status: enums.OrderStatusCancelled}, nil
}

func (s *stubService) UpdateStatus(ctx context.Context, actor pkgAuth.Actor, orderID uuid.UUID, next enums.OrderStatus) (*models.Order, error) {
	return &models.Order{ID: orderID, Status: next}, nil
}

func (s *stubService) MarkReturned(ctx context.Context, actor pkgAuth.Actor, orderID uuid.UUID) (*models.Order, error) {
	return &models.Order{ID: orderID, Status: enums.OrderStatusCompleted}, nil
}

func (s *stubService) AdminEdit(ctx context.Context, actor pkgAuth.Actor, orderID uuid.UUID, input internalorders.AdminEditInput) (*models.Order, error) {
	return &models.Order{ID: orderID}, nil
}

func authedRequest(method, target, body string) *http.Request {
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	actor := pkgAuth.Actor{UserID: uuid.New(), Role: enums.UserRoleCustomer}
	return req.WithContext(middleware.WithActor(req.Context(), actor))
}

func TestCreateParsesPayload(t *testing.T) {
	svc := &stubService{}
	productID := uuid.New()
	body := `{
		"items": [{"product_id":"` + productID.String() + `","quantity":2,"start_date":"2026-07-01","end_date":"2026-07-05"}],
		"discount": "10.50",
		"notes": "  leave at gate  "
	}`

	rec := httptest.NewRecorder()
	Create(svc, nil)(rec, authedRequest(http.MethodPost, "/api/v1/orders", body))

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	if svc.createInput == nil {
		t.Fatal("service was not called")
	}
	if len(svc.createInput.Items) != 1 || svc.createInput.Items[0].ProductID != productID {
		t.Fatalf("unexpected items: %+v", svc.createInput.Items)
	}
	if !svc.createInput.Discount.Equal(decimalFromString(t, "10.50")) {
		t.Fatalf("expected discount 10.50, got %s", svc.createInput.Discount)
	}
	if svc.createInput.Notes == nil || *svc.createInput.Notes != "leave at gate" {
		t.Fatalf("expected trimmed notes, got %v", svc.createInput.Notes)
	}
}

func TestCreateRejectsEmptyItems(t *testing.T) {
	svc := &stubService{}

	rec := httptest.NewRecorder()
	Create(svc, nil)(rec, authedRequest(http.MethodPost, "/api/v1/orders", `{"items":[]}`))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if svc.createInput != nil {
		t.Fatal("service must not be called on invalid payload")
	}
}

func TestCreateRejectsBadDate(t *testing.T) {
	svc := &stubService{}
	body := `{"items":[{"product_id":"` + uuid.NewString() + `","quantity":1,"start_date":"yesterday","end_date":"2026-07-05"}]}`

	rec := httptest.NewRecorder()
	Create(svc, nil)(rec, authedRequest(http.MethodPost, "/api/v1/orders", body))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestCreateSurfacesServiceErrors(t *testing.T) {
	svc := &stubService{createErr: pkgerrors.New(pkgerrors.CodeValidation, "no rentable items resolved")}
	body := `{"items":[{"product_id":"` + uuid.NewString() + `","quantity":1,"start_date":"2026-07-01","end_date":"2026-07-02"}]}`

	rec := httptest.NewRecorder()
	Create(svc, nil)(rec, authedRequest(http.MethodPost, "/api/v1/orders", body))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	var envelope struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	if envelope.Error.Code != string(pkgerrors.CodeValidation) {
		t.Fatalf("unexpected error code %s", envelope.Error.Code)
	}
}

func TestCreateFromCalculatorRequiresReference(t *testing.T) {
	svc := &stubService{}
	body := `{"items":[{"product_id":"` + uuid.NewString() + `","quantity":1,"start_date":"2026-07-01","end_date":"2026-07-02"}]}`

	rec := httptest.NewRecorder()
	CreateFromCalculator(svc, nil)(rec, authedRequest(http.MethodPost, "/api/v1/orders/calculator", body))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without payment reference, got %d", rec.Code)
	}
	if svc.calcInput != nil {
		t.Fatal("service must not be called without a payment reference")
	}
}

func TestCancelReadsRouteParam(t *testing.T) {
	svc := &stubService{}
	orderID := uuid.New()

	req := authedRequest(http.MethodPost, "/api/v1/orders/"+orderID.String()+"/cancel", "")
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("orderId", orderID.String())
	req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))

	rec := httptest.NewRecorder()
	Cancel(svc, nil)(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if svc.cancelledID != orderID {
		t.Fatalf("expected cancel of %s, got %s", orderID, svc.cancelledID)
	}
}

func decimalFromString(t *testing.T, value string) decimal.Decimal {
	t.Helper()
	parsed, err := decimal.NewFromString(value)
	if err != nil {
		t.Fatalf("parse decimal %q: %v", value, err)
	}
	return parsed
}
