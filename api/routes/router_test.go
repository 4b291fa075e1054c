package routes

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/rentiva/rentiva-backend/internal/installments"
	"github.com/rentiva/rentiva-backend/internal/notifier"
	"github.com/rentiva/rentiva-backend/internal/orders"
	pkgAuth "github.com/rentiva/rentiva-backend/pkg/auth"
	"github.com/rentiva/rentiva-backend/pkg/config"
	"github.com/rentiva/rentiva-backend/pkg/db/models"
	"github.com/rentiva/rentiva-backend/pkg/enums"
	"github.com/rentiva/rentiva-backend/pkg/logger"
	"github.com/rentiva/rentiva-backend/pkg/types"
)

type stubPinger struct{}

func (stubPinger) Ping(context.Context) error {
	return nil
}

type stubOrdersService struct{}

func (stubOrdersService) Create(ctx context.Context, actor pkgAuth.Actor, input orders.CreateOrderInput) (*models.Order, error) {
	return &models.Order{ID: uuid.New(), UserID: actor.UserID}, nil
}

func (stubOrdersService) CreateFromCalculator(ctx context.Context, actor pkgAuth.Actor, input orders.CalculatorOrderInput) (*models.Order, error) {
	return &models.Order{ID: uuid.New(), UserID: actor.UserID}, nil
}

func (stubOrdersService) Get(ctx context.Context, actor pkgAuth.Actor, orderID uuid.UUID) (*models.Order, error) {
	return &models.Order{ID: orderID, UserID: actor.UserID}, nil
}

func (stubOrdersService) List(ctx context.Context, actor pkgAuth.Actor, params orders.ListParams) (*orders.ListResult, error) {
	return &orders.ListResult{}, nil
}

func (stubOrdersService) Cancel(ctx context.Context, actor pkgAuth.Actor, orderID uuid.UUID) (*models.Order, error) {
	return &models.Order{ID: orderID, Status: enums.OrderStatusCancelled}, nil
}

func (stubOrdersService) UpdateStatus(ctx context.Context, actor pkgAuth.Actor, orderID uuid.UUID, next enums.OrderStatus) (*models.Order, error) {
	return &models.Order{ID: orderID, Status: next}, nil
}

func (stubOrdersService) MarkReturned(ctx context.Context, actor pkgAuth.Actor, orderID uuid.UUID) (*models.Order, error) {
	return &models.Order{ID: orderID, Status: enums.OrderStatusCompleted}, nil
}

func (stubOrdersService) AdminEdit(ctx context.Context, actor pkgAuth.Actor, orderID uuid.UUID, input orders.AdminEditInput) (*models.Order, error) {
	return &models.Order{ID: orderID}, nil
}

type stubInstallmentsService struct{}

func (stubInstallmentsService) GeneratePlan(ctx context.Context, orderID uuid.UUID) error {
	return nil
}

func (stubInstallmentsService) ConfirmByNumber(ctx context.Context, orderID uuid.UUID, installmentNumber int, paymentRef string) error {
	return nil
}

func (stubInstallmentsService) ListForOrder(ctx context.Context, actor pkgAuth.Actor, orderID uuid.UUID) ([]models.PaymentInstallment, error) {
	return nil, nil
}

func (stubInstallmentsService) Summary(ctx context.Context, actor pkgAuth.Actor, orderID uuid.UUID) (*installments.PlanSummary, error) {
	return &installments.PlanSummary{}, nil
}

func (stubInstallmentsService) NextPending(ctx context.Context, actor pkgAuth.Actor, orderID uuid.UUID) (*models.PaymentInstallment, error) {
	return nil, nil
}

func (stubInstallmentsService) RequestPaymentIntent(ctx context.Context, actor pkgAuth.Actor, installmentID uuid.UUID) (*installments.IntentResult, error) {
	return &installments.IntentResult{InstallmentID: installmentID}, nil
}

func (stubInstallmentsService) ConfirmPayment(ctx context.Context, actor pkgAuth.Actor, installmentID uuid.UUID, intentID, chargeID string) (*models.PaymentInstallment, error) {
	return &models.PaymentInstallment{ID: installmentID}, nil
}

type stubDepositsService struct{}

func (stubDepositsService) Capture(ctx context.Context, actor pkgAuth.Actor, orderID uuid.UUID, notes *string) (*models.Order, error) {
	return &models.Order{ID: orderID, DepositStatus: enums.DepositStatusCaptured}, nil
}

func (stubDepositsService) Release(ctx context.Context, actor pkgAuth.Actor, orderID uuid.UUID, retained decimal.Decimal, notes *string) (*models.Order, error) {
	return &models.Order{ID: orderID, DepositStatus: enums.DepositStatusReleased}, nil
}

type stubNotifierService struct{}

func (stubNotifierService) Notify(ctx context.Context, targets []uuid.UUID, kind enums.NotificationType, title, message string, metadata types.JSONMap) error {
	return nil
}

func (stubNotifierService) NotifyAdmins(ctx context.Context, kind enums.NotificationType, title, message string, metadata types.JSONMap) error {
	return nil
}

func (stubNotifierService) List(ctx context.Context, params notifier.ListParams) (*notifier.ListResult, error) {
	return &notifier.ListResult{}, nil
}

func (stubNotifierService) MarkRead(ctx context.Context, userID, notificationID uuid.UUID) error {
	return nil
}

func (stubNotifierService) MarkAllRead(ctx context.Context, userID uuid.UUID) (int64, error) {
	return 0, nil
}

func testConfig() *config.Config {
	return &config.Config{
		App: config.AppConfig{Env: "test", Port: "0"},
		JWT: config.JWTConfig{
			Secret:            "secret",
			Issuer:            "issuer",
			ExpirationMinutes: 60,
		},
	}
}

func newTestRouter(cfg *config.Config) http.Handler {
	logg := logger.New(logger.Options{ServiceName: "test-routing", Level: logger.ParseLevel("debug"), Output: io.Discard})
	return NewRouter(
		cfg,
		logg,
		stubPinger{},
		stubPinger{},
		stubOrdersService{},
		stubInstallmentsService{},
		stubDepositsService{},
		stubNotifierService{},
	)
}

func buildToken(t *testing.T, cfg *config.Config, role enums.UserRole) string {
	t.Helper()
	token, err := pkgAuth.MintAccessToken(cfg.JWT, time.Now(), pkgAuth.AccessTokenPayload{
		UserID: uuid.New(),
		Role:   role,
		JTI:    uuid.NewString(),
	})
	if err != nil {
		t.Fatalf("mint token: %v", err)
	}
	return token
}

func TestHealthEndpointsArePublic(t *testing.T) {
	router := newTestRouter(testConfig())

	for _, path := range []string{"/health/live", "/health/ready"} {
		resp := httptest.NewRecorder()
		router.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, path, nil))
		if resp.Code != http.StatusOK {
			t.Fatalf("expected 200 for %s got %d", path, resp.Code)
		}
	}
}

func TestOrdersGroupRejectsMissingJWT(t *testing.T) {
	router := newTestRouter(testConfig())
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/api/v1/orders", nil))
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token got %d", resp.Code)
	}
}

func TestOrdersGroupSucceedsWithJWT(t *testing.T) {
	cfg := testConfig()
	router := newTestRouter(cfg)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/orders", nil)
	req.Header.Set("Authorization", "Bearer "+buildToken(t, cfg, enums.UserRoleCustomer))
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 for order list got %d", resp.Code)
	}
}

func TestAdminGroupRequiresAdminRole(t *testing.T) {
	cfg := testConfig()
	router := newTestRouter(cfg)
	path := "/api/admin/v1/orders/" + uuid.NewString() + "/return"

	customer := httptest.NewRequest(http.MethodPost, path, nil)
	customer.Header.Set("Authorization", "Bearer "+buildToken(t, cfg, enums.UserRoleCustomer))
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, customer)
	if resp.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for customer got %d", resp.Code)
	}

	admin := httptest.NewRequest(http.MethodPost, path, nil)
	admin.Header.Set("Authorization", "Bearer "+buildToken(t, cfg, enums.UserRoleAdmin))
	resp = httptest.NewRecorder()
	router.ServeHTTP(resp, admin)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 for admin return got %d", resp.Code)
	}
}

func TestInstallmentRoutesRequireAuth(t *testing.T) {
	cfg := testConfig()
	router := newTestRouter(cfg)
	path := "/api/v1/orders/" + uuid.NewString() + "/installments"

	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, path, nil))
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token got %d", resp.Code)
	}

	req := httptest.NewRequest(http.MethodGet, path, nil)
	req.Header.Set("Authorization", "Bearer "+buildToken(t, cfg, enums.UserRoleCustomer))
	resp = httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 for installment list got %d", resp.Code)
	}
}

func TestNotificationRoutes(t *testing.T) {
	cfg := testConfig()
	router := newTestRouter(cfg)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/notifications", nil)
	req.Header.Set("Authorization", "Bearer "+buildToken(t, cfg, enums.UserRoleCustomer))
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 for notification list got %d", resp.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/api/v1/notifications/read-all", nil)
	req.Header.Set("Authorization", "Bearer "+buildToken(t, cfg, enums.UserRoleCustomer))
	resp = httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 for read-all got %d", resp.Code)
	}
}
