package ecpay

import (
	"bytes"
	"html/template"
	"net/url"
	"strings"
)

// Values 转为 url.Values（表单提交用）
func (r *OutboundRequest) Values() url.Values {
	values := make(url.Values, len(r.Fields))
	for _, f := range r.Fields {
		values.Set(f.Key, f.Value)
	}
	return values
}

// Params 转为参数集
func (r *OutboundRequest) Params() Params {
	return ParamsFromFields(r.Fields)
}

// Field 读取栏位值
func (r *OutboundRequest) Field(key string) string {
	for _, f := range r.Fields {
		if f.Key == key {
			return f.Value
		}
	}
	return ""
}

// RedirectURL 以 GET 方式拼接跳转地址，栏位顺序保持不变
func (r *OutboundRequest) RedirectURL() string {
	if len(r.Fields) == 0 {
		return r.URL
	}
	parts := make([]string, 0, len(r.Fields))
	for _, f := range r.Fields {
		parts = append(parts, f.Key+"="+encodeURIComponent(f.Value))
	}
	sep := "?"
	if strings.Contains(r.URL, "?") {
		sep = "&"
	}
	return r.URL + sep + strings.Join(parts, "&")
}

var autoSubmitTemplate = template.Must(template.New("ecpay_form").Parse(`<!DOCTYPE html>
<html lang="zh-TW">
<head>
<meta charset="UTF-8">
<meta name="viewport" content="width=device-width, initial-scale=1.0">
<title>綠界ECPay付款</title>
<style>
body{font-family:Arial,sans-serif;display:flex;justify-content:center;align-items:center;min-height:100vh;margin:0;background:#f5f5f5}
.box{text-align:center;padding:2rem;background:#fff;border-radius:8px;box-shadow:0 2px 10px rgba(0,0,0,.1)}
.spinner{border:4px solid #f3f3f3;border-top:4px solid #00a0e9;border-radius:50%;width:40px;height:40px;animation:spin 1s linear infinite;margin:20px auto}
@keyframes spin{0%{transform:rotate(0deg)}100%{transform:rotate(360deg)}}
button{background:#00a0e9;color:#fff;border:none;padding:12px 24px;border-radius:4px;font-size:16px;cursor:pointer}
</style>
</head>
<body>
<div class="box">
<h2>正在跳轉至綠界付款頁面</h2>
<div class="spinner"></div>
<p>訂單編號：{{.TradeNo}}</p>
<p>付款金額：NT$ {{.Amount}}</p>
<form id="ecpay-form" method="post" action="{{.Action}}">
{{- range .Fields}}
<input type="hidden" name="{{.Key}}" value="{{.Value}}">
{{- end}}
<button type="submit">前往付款</button>
</form>
</div>
<script>setTimeout(function(){document.getElementById('ecpay-form').submit();},1000);</script>
</body>
</html>
`))

// RenderForm 渲染自动提交的付款页面；栏位值经 HTML 转义，不影响绿界收到的原文
func (r *OutboundRequest) RenderForm() (string, error) {
	var buf bytes.Buffer
	data := struct {
		Action  string
		TradeNo string
		Amount  string
		Fields  []Field
	}{
		Action:  r.URL,
		TradeNo: r.Field(FieldMerchantTradeNo),
		Amount:  r.Field(FieldTotalAmount),
		Fields:  r.Fields,
	}
	if err := autoSubmitTemplate.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}
