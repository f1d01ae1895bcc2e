package repository

import (
	"fmt"
	"testing"
	"time"

	"github.com/buymall/buypay/internal/constants"
	"github.com/buymall/buypay/internal/models"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

func setupPaymentAttemptRepositoryTest(t *testing.T) (*GormPaymentAttemptRepository, *gorm.DB) {
	t.Helper()
	dsn := fmt.Sprintf("file:payment_attempt_repo_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite failed: %v", err)
	}
	if err := models.AutoMigrate(db); err != nil {
		t.Fatalf("auto migrate failed: %v", err)
	}
	return NewPaymentAttemptRepository(db), db
}

func newAttempt(orderRef, tradeNo string, expiresAt time.Time) *models.PaymentAttempt {
	return &models.PaymentAttempt{
		OrderRef:        orderRef,
		MerchantTradeNo: tradeNo,
		Provider:        constants.PaymentProviderECPay,
		Environment:     constants.EnvironmentSandbox,
		MerchantID:      "2000132",
		ChoosePayment:   "Credit",
		TotalAmount:     1200,
		ItemName:        "測試商品 x1",
		TradeDesc:       "BUY商城訂單",
		Status:          constants.PaymentStatusInitiated,
		CheckMacValue:   "ABC",
		SignedFields:    models.FieldList{{Key: "MerchantID", Value: "2000132"}, {Key: "MerchantTradeNo", Value: tradeNo}},
		ExpiresAt:       expiresAt,
	}
}

func TestPaymentAttemptRepositoryCreateAndGet(t *testing.T) {
	repo, _ := setupPaymentAttemptRepositoryTest(t)
	now := time.Now().UTC().Truncate(time.Second)

	attempt := newAttempt("ORD001", "BUY20250820143015AB1", now.Add(15*time.Minute))
	if err := repo.Create(attempt); err != nil {
		t.Fatalf("create attempt failed: %v", err)
	}
	got, err := repo.GetByTradeNo("BUY20250820143015AB1")
	if err != nil {
		t.Fatalf("get by trade no failed: %v", err)
	}
	if got == nil || got.ID != attempt.ID {
		t.Fatalf("unexpected attempt: %+v", got)
	}
	if got.SignedFields.Get("MerchantTradeNo") != "BUY20250820143015AB1" {
		t.Fatalf("signed fields not persisted: %+v", got.SignedFields)
	}
	missing, err := repo.GetByTradeNo("NOPE")
	if err != nil || missing != nil {
		t.Fatalf("missing trade no should return nil, nil: %+v %v", missing, err)
	}
	if byID, err := repo.GetByID(attempt.ID); err != nil || byID == nil {
		t.Fatalf("get by id failed: %+v %v", byID, err)
	}
	if byID, err := repo.GetByID(attempt.ID + 100); err != nil || byID != nil {
		t.Fatalf("missing id should return nil, nil: %+v %v", byID, err)
	}
}

func TestPaymentAttemptRepositoryRejectsDuplicateTradeNo(t *testing.T) {
	repo, _ := setupPaymentAttemptRepositoryTest(t)
	expires := time.Now().Add(time.Minute)
	if err := repo.Create(newAttempt("ORD001", "BUY20250820143015DUP", expires)); err != nil {
		t.Fatalf("create first attempt failed: %v", err)
	}
	err := repo.Create(newAttempt("ORD002", "BUY20250820143015DUP", expires))
	if err == nil || !IsUniqueViolation(err) {
		t.Fatalf("expected unique violation, got %v", err)
	}
}

func TestPaymentAttemptRepositoryLatestByOrderRef(t *testing.T) {
	repo, _ := setupPaymentAttemptRepositoryTest(t)
	expires := time.Now().Add(time.Minute)
	first := newAttempt("ORD001", "BUY202508201430150A1", expires)
	second := newAttempt("ORD001", "BUY202508201430150A2", expires)
	other := newAttempt("ORD002", "BUY202508201430150A3", expires)
	for _, a := range []*models.PaymentAttempt{first, second, other} {
		if err := repo.Create(a); err != nil {
			t.Fatalf("create attempt failed: %v", err)
		}
	}
	latest, err := repo.GetLatestByOrderRef("ORD001")
	if err != nil {
		t.Fatalf("get latest failed: %v", err)
	}
	if latest == nil || latest.ID != second.ID {
		t.Fatalf("expected latest attempt %d, got %+v", second.ID, latest)
	}

	items, total, err := repo.List(PaymentAttemptListFilter{OrderRef: "ORD001", Page: 1, PageSize: 1})
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if total != 2 || len(items) != 1 || items[0].ID != second.ID {
		t.Fatalf("unexpected list result: total=%d items=%d", total, len(items))
	}
}

func TestPaymentAttemptRepositoryTransitionStatus(t *testing.T) {
	repo, _ := setupPaymentAttemptRepositoryTest(t)
	attempt := newAttempt("ORD001", "BUY20250820143015TR1", time.Now().Add(time.Minute))
	if err := repo.Create(attempt); err != nil {
		t.Fatalf("create attempt failed: %v", err)
	}
	ok, err := repo.TransitionStatus(attempt.ID, []string{constants.PaymentStatusInitiated}, map[string]interface{}{
		"status": constants.PaymentStatusSuccess,
	})
	if err != nil || !ok {
		t.Fatalf("transition from initiated should succeed: ok=%v err=%v", ok, err)
	}
	ok, err = repo.TransitionStatus(attempt.ID, []string{constants.PaymentStatusInitiated}, map[string]interface{}{
		"status": constants.PaymentStatusExpired,
	})
	if err != nil || ok {
		t.Fatalf("second transition should not match: ok=%v err=%v", ok, err)
	}
	got, _ := repo.GetByID(attempt.ID)
	if got.Status != constants.PaymentStatusSuccess {
		t.Fatalf("status should stay success, got %s", got.Status)
	}
}

func TestPaymentAttemptRepositoryListOverdue(t *testing.T) {
	repo, _ := setupPaymentAttemptRepositoryTest(t)
	now := time.Now().UTC().Truncate(time.Second)
	overdue := newAttempt("ORD001", "BUY20250820143015OV1", now.Add(-time.Minute))
	fresh := newAttempt("ORD002", "BUY20250820143015OV2", now.Add(time.Hour))
	paid := newAttempt("ORD003", "BUY20250820143015OV3", now.Add(-time.Hour))
	paid.Status = constants.PaymentStatusSuccess
	for _, a := range []*models.PaymentAttempt{overdue, fresh, paid} {
		if err := repo.Create(a); err != nil {
			t.Fatalf("create attempt failed: %v", err)
		}
	}
	items, err := repo.ListOverdue(now, 10)
	if err != nil {
		t.Fatalf("list overdue failed: %v", err)
	}
	if len(items) != 1 || items[0].ID != overdue.ID {
		t.Fatalf("unexpected overdue items: %+v", items)
	}
}
