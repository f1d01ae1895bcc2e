package repository

import (
	"errors"
	"strings"
	"time"

	"github.com/buymall/buypay/internal/constants"
	"github.com/buymall/buypay/internal/models"

	"gorm.io/gorm"
)

// PaymentAttemptRepository 支付尝试数据访问接口
type PaymentAttemptRepository interface {
	Create(attempt *models.PaymentAttempt) error
	Update(attempt *models.PaymentAttempt) error
	TransitionStatus(id uint, from []string, updates map[string]interface{}) (bool, error)
	GetByID(id uint) (*models.PaymentAttempt, error)
	GetByTradeNo(merchantTradeNo string) (*models.PaymentAttempt, error)
	GetLatestByOrderRef(orderRef string) (*models.PaymentAttempt, error)
	ListOverdue(now time.Time, limit int) ([]models.PaymentAttempt, error)
	List(filter PaymentAttemptListFilter) ([]models.PaymentAttempt, int64, error)
	WithTx(tx *gorm.DB) PaymentAttemptRepository
}

// GormPaymentAttemptRepository GORM 实现
type GormPaymentAttemptRepository struct {
	db *gorm.DB
}

// NewPaymentAttemptRepository 创建支付尝试仓库
func NewPaymentAttemptRepository(db *gorm.DB) *GormPaymentAttemptRepository {
	return &GormPaymentAttemptRepository{db: db}
}

// WithTx 绑定事务
func (r *GormPaymentAttemptRepository) WithTx(tx *gorm.DB) PaymentAttemptRepository {
	if tx == nil {
		return r
	}
	return &GormPaymentAttemptRepository{db: tx}
}

// Create 创建支付尝试
func (r *GormPaymentAttemptRepository) Create(attempt *models.PaymentAttempt) error {
	return r.db.Create(attempt).Error
}

// Update 更新支付尝试
func (r *GormPaymentAttemptRepository) Update(attempt *models.PaymentAttempt) error {
	return r.db.Save(attempt).Error
}

// TransitionStatus 仅当当前状态属于 from 时才更新，返回是否命中
func (r *GormPaymentAttemptRepository) TransitionStatus(id uint, from []string, updates map[string]interface{}) (bool, error) {
	if id == 0 || len(updates) == 0 {
		return false, nil
	}
	query := r.db.Model(&models.PaymentAttempt{}).Where("id = ?", id)
	if len(from) > 0 {
		query = query.Where("status IN ?", from)
	}
	result := query.Updates(updates)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// GetByID 根据 ID 获取支付尝试
func (r *GormPaymentAttemptRepository) GetByID(id uint) (*models.PaymentAttempt, error) {
	var attempt models.PaymentAttempt
	if err := r.db.First(&attempt, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &attempt, nil
}

// GetByTradeNo 根据商店交易编号获取支付尝试
func (r *GormPaymentAttemptRepository) GetByTradeNo(merchantTradeNo string) (*models.PaymentAttempt, error) {
	merchantTradeNo = strings.TrimSpace(merchantTradeNo)
	if merchantTradeNo == "" {
		return nil, nil
	}
	var attempt models.PaymentAttempt
	result := r.db.Where("merchant_trade_no = ?", merchantTradeNo).Limit(1).Find(&attempt)
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		return nil, nil
	}
	return &attempt, nil
}

// GetLatestByOrderRef 获取订单最新一次支付尝试
func (r *GormPaymentAttemptRepository) GetLatestByOrderRef(orderRef string) (*models.PaymentAttempt, error) {
	orderRef = strings.TrimSpace(orderRef)
	if orderRef == "" {
		return nil, nil
	}
	var attempt models.PaymentAttempt
	result := r.db.Where("order_ref = ?", orderRef).Order("id desc").Limit(1).Find(&attempt)
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		return nil, nil
	}
	return &attempt, nil
}

// ListOverdue 获取已过付款期限仍为 initiated 的尝试
func (r *GormPaymentAttemptRepository) ListOverdue(now time.Time, limit int) ([]models.PaymentAttempt, error) {
	if limit <= 0 {
		limit = 100
	}
	var attempts []models.PaymentAttempt
	err := r.db.Where("status = ? AND expires_at <= ?", constants.PaymentStatusInitiated, now).
		Order("expires_at asc").
		Limit(limit).
		Find(&attempts).Error
	if err != nil {
		return nil, err
	}
	return attempts, nil
}

// List 分页查询支付尝试
func (r *GormPaymentAttemptRepository) List(filter PaymentAttemptListFilter) ([]models.PaymentAttempt, int64, error) {
	query := r.db.Model(&models.PaymentAttempt{})
	if orderRef := strings.TrimSpace(filter.OrderRef); orderRef != "" {
		query = query.Where("order_ref = ?", orderRef)
	}
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}
	if filter.Provider != "" {
		query = query.Where("provider = ?", filter.Provider)
	}
	if filter.CreatedFrom != nil {
		query = query.Where("created_at >= ?", *filter.CreatedFrom)
	}
	if filter.CreatedTo != nil {
		query = query.Where("created_at <= ?", *filter.CreatedTo)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	query = applyPagination(query, filter.Page, filter.PageSize)

	var attempts []models.PaymentAttempt
	if err := query.Order("id desc").Find(&attempts).Error; err != nil {
		return nil, 0, err
	}
	return attempts, total, nil
}
