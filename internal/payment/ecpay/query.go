package ecpay

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/buymall/buypay/internal/constants"

	"github.com/go-resty/resty/v2"
)

// DefaultQueryTimeout 查询订单默认超时
const DefaultQueryTimeout = 10 * time.Second

// TradeInfo 查询订单结果
type TradeInfo struct {
	MerchantTradeNo string
	TradeNo         string
	TradeStatus     string
	TradeAmt        int64
	PaymentDate     string
	PaymentType     string
	Raw             Params
}

// Paid 是否已付款
func (i *TradeInfo) Paid() bool {
	return i.TradeStatus == constants.ECPayTradeStatusPaid
}

// QueryClient 绿界 QueryTradeInfo 客户端
type QueryClient struct {
	signer *Signer
	http   *resty.Client
}

// NewQueryClient 创建查询客户端
func NewQueryClient(signer *Signer, timeout time.Duration) *QueryClient {
	if timeout <= 0 {
		timeout = DefaultQueryTimeout
	}
	r := resty.New().
		SetTimeout(timeout).
		SetRetryCount(2).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(3 * time.Second)
	return &QueryClient{signer: signer, http: r}
}

// QueryTradeInfo 查询交易状态，并以相同算法校验回应的检查码
func (c *QueryClient) QueryTradeInfo(ctx context.Context, merchantTradeNo string) (*TradeInfo, error) {
	merchantTradeNo = strings.TrimSpace(merchantTradeNo)
	if merchantTradeNo == "" {
		return nil, fmt.Errorf("%w: merchant trade no is required", ErrParamInvalid)
	}
	cfg := c.signer.Config()
	params := Params{
		FieldMerchantID:      cfg.MerchantID,
		FieldMerchantTradeNo: merchantTradeNo,
		FieldTimeStamp:       strconv.FormatInt(c.signer.Now().Unix(), 10),
	}
	signed, err := c.signer.SignParams(params)
	if err != nil {
		return nil, err
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetFormData(signed).
		Post(cfg.QueryURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRequestFailed, err)
	}
	if resp.StatusCode() < 200 || resp.StatusCode() >= 300 {
		return nil, fmt.Errorf("%w: http status %d", ErrRequestFailed, resp.StatusCode())
	}
	return c.parseTradeInfo(resp.String())
}

func (c *QueryClient) parseTradeInfo(body string) (*TradeInfo, error) {
	values, err := url.ParseQuery(strings.TrimSpace(body))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrResponseInvalid, err)
	}
	params := ParamsFromForm(values)
	if !c.signer.VerifyCallback(params) {
		return nil, fmt.Errorf("%w: query response", ErrChecksumMismatch)
	}
	info := &TradeInfo{
		MerchantTradeNo: strings.TrimSpace(params[FieldMerchantTradeNo]),
		TradeNo:         strings.TrimSpace(params[FieldTradeNo]),
		TradeStatus:     strings.TrimSpace(params[FieldTradeStatus]),
		PaymentDate:     strings.TrimSpace(params[FieldPaymentDate]),
		PaymentType:     strings.TrimSpace(params[FieldPaymentType]),
		Raw:             params,
	}
	if raw := strings.TrimSpace(params[FieldTradeAmt]); raw != "" {
		amount, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid TradeAmt", ErrResponseInvalid)
		}
		info.TradeAmt = amount
	}
	return info, nil
}
