package repository

import (
	"strings"

	"github.com/buymall/buypay/internal/models"

	"gorm.io/gorm"
)

// CallbackLogRepository 回调记录数据访问接口
type CallbackLogRepository interface {
	Create(log *models.CallbackLog) error
	List(filter CallbackLogListFilter) ([]models.CallbackLog, int64, error)
	WithTx(tx *gorm.DB) CallbackLogRepository
}

// GormCallbackLogRepository GORM 实现
type GormCallbackLogRepository struct {
	db *gorm.DB
}

// NewCallbackLogRepository 创建回调记录仓库
func NewCallbackLogRepository(db *gorm.DB) *GormCallbackLogRepository {
	return &GormCallbackLogRepository{db: db}
}

// WithTx 绑定事务
func (r *GormCallbackLogRepository) WithTx(tx *gorm.DB) CallbackLogRepository {
	if tx == nil {
		return r
	}
	return &GormCallbackLogRepository{db: tx}
}

// Create 写入回调记录
func (r *GormCallbackLogRepository) Create(log *models.CallbackLog) error {
	return r.db.Create(log).Error
}

// List 分页查询回调记录；GatewayTradeNo 从回调原文中按 TradeNo 检索
func (r *GormCallbackLogRepository) List(filter CallbackLogListFilter) ([]models.CallbackLog, int64, error) {
	query := r.db.Model(&models.CallbackLog{})
	if tradeNo := strings.TrimSpace(filter.MerchantTradeNo); tradeNo != "" {
		query = query.Where("merchant_trade_no = ?", tradeNo)
	}
	if gatewayNo := strings.TrimSpace(filter.GatewayTradeNo); gatewayNo != "" {
		query = query.Where(jsonTextExpr(r.db, "payload", "TradeNo")+" = ?", gatewayNo)
	}
	if filter.Source != "" {
		query = query.Where("source = ?", filter.Source)
	}
	if filter.Verified != nil {
		query = query.Where("verified = ?", *filter.Verified)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	query = applyPagination(query, filter.Page, filter.PageSize)

	var logs []models.CallbackLog
	if err := query.Order("id desc").Find(&logs).Error; err != nil {
		return nil, 0, err
	}
	return logs, total, nil
}
