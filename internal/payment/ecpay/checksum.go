package ecpay

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"
)

// 绿界栏位名称（大小写需与绿界 API 完全一致）
const (
	FieldMerchantID        = "MerchantID"
	FieldMerchantTradeNo   = "MerchantTradeNo"
	FieldMerchantTradeDate = "MerchantTradeDate"
	FieldPaymentType       = "PaymentType"
	FieldTotalAmount       = "TotalAmount"
	FieldTradeDesc         = "TradeDesc"
	FieldItemName          = "ItemName"
	FieldReturnURL         = "ReturnURL"
	FieldChoosePayment     = "ChoosePayment"
	FieldClientBackURL     = "ClientBackURL"
	FieldOrderResultURL    = "OrderResultURL"
	FieldPaymentInfoURL    = "PaymentInfoURL"
	FieldNeedExtraPaidInfo = "NeedExtraPaidInfo"
	FieldIgnorePayment     = "IgnorePayment"
	FieldPlatformID        = "PlatformID"
	FieldCustomField1      = "CustomField1"
	FieldCustomField2      = "CustomField2"
	FieldCustomField3      = "CustomField3"
	FieldCustomField4      = "CustomField4"
	FieldEncryptType       = "EncryptType"
	FieldCheckMacValue     = "CheckMacValue"

	FieldRtnCode      = "RtnCode"
	FieldRtnMsg       = "RtnMsg"
	FieldTradeNo      = "TradeNo"
	FieldTradeAmt     = "TradeAmt"
	FieldPaymentDate  = "PaymentDate"
	FieldTradeDate    = "TradeDate"
	FieldSimulatePaid = "SimulatePaid"
	FieldChargeFee    = "PaymentTypeChargeFee"
	FieldTradeStatus  = "TradeStatus"
	FieldTimeStamp    = "TimeStamp"
	FieldStoreID      = "StoreID"
	FieldExpireDate   = "ExpireDate"
)

// Params 参与检查码计算的平面参数集
type Params map[string]string

// Field 有序栏位
type Field struct {
	Key   string
	Value string
}

// Clone 复制参数集
func (p Params) Clone() Params {
	out := make(Params, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// ParamsFromFields 由有序栏位构建参数集，后出现的同名栏位覆盖前者
func ParamsFromFields(fields []Field) Params {
	out := make(Params, len(fields))
	for _, f := range fields {
		out[f.Key] = f.Value
	}
	return out
}

// ParamsFromForm 取表单每个 key 的第一个值
func ParamsFromForm(form map[string][]string) Params {
	out := make(Params, len(form))
	for key, values := range form {
		if len(values) == 0 {
			out[key] = ""
			continue
		}
		out[key] = values[0]
	}
	return out
}

// NormalizeParams 将松散类型的参数转换为字符串参数集。
// nil 视为未提供并跳过；字符串、整数、布尔直接转换；其他类型返回 ErrParamInvalid。
func NormalizeParams(raw map[string]interface{}) (Params, error) {
	out := make(Params, len(raw))
	for key, value := range raw {
		if value == nil {
			continue
		}
		var text string
		switch v := value.(type) {
		case string:
			text = v
		case int:
			text = strconv.Itoa(v)
		case int32:
			text = strconv.FormatInt(int64(v), 10)
		case int64:
			text = strconv.FormatInt(v, 10)
		case uint:
			text = strconv.FormatUint(uint64(v), 10)
		case uint32:
			text = strconv.FormatUint(uint64(v), 10)
		case uint64:
			text = strconv.FormatUint(v, 10)
		case bool:
			text = strconv.FormatBool(v)
		default:
			return nil, fmt.Errorf("%w: field %s has unsupported type %T", ErrParamInvalid, key, value)
		}
		out[key] = text
	}
	return out, nil
}

// ComputeChecksum 计算 CheckMacValue。
//
// 排序（区分大小写）→ 跳过空值拼接 k=v → 前后加 HashKey/HashIV →
// 固定表百分号编码 → 转小写 → SHA256 → 十六进制大写。
func ComputeChecksum(params Params, hashKey, hashIV string) (string, error) {
	raw, err := BuildRawString(params, hashKey, hashIV)
	if err != nil {
		return "", err
	}
	lowered := strings.ToLower(encodeComponent(raw))
	sum := sha256.Sum256([]byte(lowered))
	return strings.ToUpper(hex.EncodeToString(sum[:])), nil
}

// BuildRawString 组合编码前的原始字符串
func BuildRawString(params Params, hashKey, hashIV string) (string, error) {
	query, err := buildQueryString(params)
	if err != nil {
		return "", err
	}
	if !utf8.ValidString(hashKey) || !utf8.ValidString(hashIV) {
		return "", fmt.Errorf("%w: hash secrets are not valid utf-8", ErrParamInvalid)
	}
	return "HashKey=" + hashKey + "&" + query + "&HashIV=" + hashIV, nil
}

func buildQueryString(params Params) (string, error) {
	keys := make([]string, 0, len(params))
	for k, v := range params {
		if k == FieldCheckMacValue || v == "" {
			continue
		}
		if !utf8.ValidString(k) || !utf8.ValidString(v) {
			return "", fmt.Errorf("%w: field %q is not valid utf-8", ErrParamInvalid, k)
		}
		keys = append(keys, k)
	}
	// sort.Strings 按字节序比较，即 ASCII 大小写敏感排序
	sort.Strings(keys)
	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, k+"="+params[k])
	}
	return strings.Join(pairs, "&"), nil
}

const upperHex = "0123456789ABCDEF"

// encodeComponent 等同 encodeURIComponent 后再套用绿界替换表：
// %20→+，! ' ( ) * ~ 均转为百分号形式。
// 结果上只有 A-Z a-z 0-9 - _ . 保持原样。
func encodeComponent(s string) string {
	var b strings.Builder
	b.Grow(len(s) * 3)
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case 'A' <= c && c <= 'Z', 'a' <= c && c <= 'z', '0' <= c && c <= '9':
			b.WriteByte(c)
		case c == '-' || c == '_' || c == '.':
			b.WriteByte(c)
		case c == ' ':
			b.WriteByte('+')
		default:
			b.WriteByte('%')
			b.WriteByte(upperHex[c>>4])
			b.WriteByte(upperHex[c&0x0F])
		}
	}
	return b.String()
}

// encodeURIComponent 与浏览器同名函数一致，用于拼接 GET 跳转地址
func encodeURIComponent(s string) string {
	var b strings.Builder
	b.Grow(len(s) * 3)
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case 'A' <= c && c <= 'Z', 'a' <= c && c <= 'z', '0' <= c && c <= '9':
			b.WriteByte(c)
		case strings.IndexByte("-_.!~*'()", c) >= 0:
			b.WriteByte(c)
		default:
			b.WriteByte('%')
			b.WriteByte(upperHex[c>>4])
			b.WriteByte(upperHex[c&0x0F])
		}
	}
	return b.String()
}
