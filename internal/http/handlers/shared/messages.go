package shared

// 前台使用繁体中文提示
var messages = map[string]string{
	"error.bad_request":                "請求參數錯誤",
	"error.not_found":                  "資源不存在",
	"error.too_many_requests":          "請求過於頻繁，請稍後再試",
	"error.internal":                   "系統忙碌中，請稍後再試",
	"error.auth_header_missing":        "缺少授權標頭",
	"error.auth_header_invalid":        "授權標頭格式錯誤",
	"error.token_invalid":              "授權憑證無效或已過期",
	"error.payment_invalid":            "付款資料不正確",
	"error.payment_amount_invalid":     "付款金額必須大於 0",
	"error.payment_not_found":          "查無此筆交易",
	"error.payment_not_payable":        "交易已結束或已逾期，請重新建立付款",
	"error.payment_create_failed":      "建立付款失敗",
	"error.payment_fetch_failed":       "查詢交易失敗",
	"error.payment_request_tampered":   "交易資料校驗失敗",
	"error.payment_trade_no_exhausted": "交易編號產生失敗，請稍後再試",
	"error.payment_checksum_mismatch":  "檢查碼驗證失敗",
	"error.payment_amount_mismatch":    "付款金額不符",
	"error.payment_merchant_mismatch":  "商店代號不符",
	"error.payment_update_failed":      "更新交易狀態失敗",
	"error.payment_mock_disabled":      "未開啟模擬付款",
	"error.qrcode_failed":              "產生 QR Code 失敗",
	"success.payment_method_fallback":  "所選付款方式目前不支援，已改用其他付款方式",
}

// Message 返回 key 对应的提示文字，未登记的 key 原样返回
func Message(key string) string {
	if msg, ok := messages[key]; ok {
		return msg
	}
	return key
}
