package repository

import "time"

// PaymentAttemptListFilter 查询支付尝试列表的过滤条件
type PaymentAttemptListFilter struct {
	Page        int
	PageSize    int
	OrderRef    string
	Status      string
	Provider    string
	CreatedFrom *time.Time
	CreatedTo   *time.Time
}

// CallbackLogListFilter 查询回调记录的过滤条件
type CallbackLogListFilter struct {
	Page            int
	PageSize        int
	MerchantTradeNo string
	GatewayTradeNo  string
	Source          string
	Verified        *bool
}
