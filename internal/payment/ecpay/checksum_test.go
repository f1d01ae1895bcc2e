package ecpay

import (
	"errors"
	"strings"
	"testing"
)

const (
	testHashKey = "5294y06JbISpM5x9"
	testHashIV  = "v77hoKGq4kWxNNIS"

	publishedHashKey = "pwFHCqoQZGmho4w6"
	publishedHashIV  = "EkRm7iFT261dpevs"
)

func sampleCheckoutParams() Params {
	return Params{
		"ChoosePayment":     "ALL",
		"EncryptType":       "1",
		"ItemName":          "Apple iphone 15",
		"MerchantID":        "3002607",
		"MerchantTradeDate": "2023/03/12 15:30:23",
		"MerchantTradeNo":   "ecpay20230312153023",
		"PaymentType":       "aio",
		"ReturnURL":         "https://www.ecpay.com.tw/receive.php",
		"TotalAmount":       "30000",
		"TradeDesc":         "促銷方案",
	}
}

func storefrontCheckoutParams() Params {
	return Params{
		"MerchantID":        "2000132",
		"MerchantTradeNo":   "BUY20250820143015AB12",
		"MerchantTradeDate": "2025/08/20 14:30:15",
		"PaymentType":       "aio",
		"TotalAmount":       "15680",
		"TradeDesc":         "BUY商城訂單",
		"ItemName":          "無線藍牙耳機 x1#智能手錶 (黑) x1",
		"ReturnURL":         "https://shop.example.com/api/v1/payments/ecpay/notify",
		"ChoosePayment":     "Credit",
		"ClientBackURL":     "https://shop.example.com/orders/ORD001",
		"EncryptType":       "1",
		"CustomField1":      "it's *100%* ~ok!",
	}
}

func paidCallbackParams() Params {
	return Params{
		"MerchantID":           "2000132",
		"MerchantTradeNo":      "BUY20250820143015AB12",
		"RtnCode":              "1",
		"RtnMsg":               "交易成功",
		"TradeNo":              "2508201430155678",
		"TradeAmt":             "15680",
		"PaymentDate":          "2025/08/20 14:32:01",
		"PaymentType":          "Credit_CreditCard",
		"PaymentTypeChargeFee": "376",
		"TradeDate":            "2025/08/20 14:30:15",
		"SimulatePaid":         "0",
		"CustomField1":         "",
		"CustomField2":         "",
		"CustomField3":         "",
		"CustomField4":         "",
		"StoreID":              "",
	}
}

func mustChecksum(t *testing.T, params Params) string {
	t.Helper()
	got, err := ComputeChecksum(params, testHashKey, testHashIV)
	if err != nil {
		t.Fatalf("compute checksum failed: %v", err)
	}
	return got
}

func TestComputeChecksumKnownVectors(t *testing.T) {
	cases := []struct {
		name    string
		params  Params
		hashKey string
		hashIV  string
		want    string
	}{
		// 绿界文件公开的检查码范例（测试商店 3002607）
		{"ecpay_published_sample", sampleCheckoutParams(), publishedHashKey, publishedHashIV, "6C51C9E6888DE861FD62FB1DD17029FC742634498FD813DC43D4243B5685B840"},
		{"sample_with_sandbox_key", sampleCheckoutParams(), testHashKey, testHashIV, "5E6BDC52B6C932984C0920B592F73042F47E6BC002427016A172E27668A5D710"},
		{"storefront_checkout", storefrontCheckoutParams(), testHashKey, testHashIV, "29821BFF253A598E4E689209C06D4346F6DEED64E622CAA2A38957E20940F520"},
		{"paid_callback", paidCallbackParams(), testHashKey, testHashIV, "AB54A35A6AF61A2271E00DF0979323E113EFF3ECCC1553F0D46E3C782EFF5B08"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ComputeChecksum(tc.params, tc.hashKey, tc.hashIV)
			if err != nil {
				t.Fatalf("compute checksum failed: %v", err)
			}
			if got != tc.want {
				t.Fatalf("checksum mismatch: got %s want %s", got, tc.want)
			}
		})
	}
}

func TestComputeChecksumDeterministic(t *testing.T) {
	params := storefrontCheckoutParams()
	first := mustChecksum(t, params)
	for i := 0; i < 20; i++ {
		if got := mustChecksum(t, params); got != first {
			t.Fatalf("checksum changed between calls: %s vs %s", got, first)
		}
	}
	if len(first) != 64 || strings.ToUpper(first) != first {
		t.Fatalf("checksum should be 64 upper hex chars, got %s", first)
	}
}

func TestComputeChecksumIgnoresExistingChecksumField(t *testing.T) {
	params := sampleCheckoutParams()
	want := mustChecksum(t, params)
	params[FieldCheckMacValue] = "DEADBEEF"
	if got := mustChecksum(t, params); got != want {
		t.Fatalf("existing CheckMacValue should be ignored: got %s want %s", got, want)
	}
}

func TestComputeChecksumOrderIndependent(t *testing.T) {
	forward := []Field{
		{Key: "MerchantID", Value: "2000132"},
		{Key: "MerchantTradeNo", Value: "BUY20250820143015AB1"},
		{Key: "TotalAmount", Value: "100"},
		{Key: "ItemName", Value: "測試商品"},
		{Key: "aLower", Value: "x"},
		{Key: "Zeta", Value: "y"},
	}
	reversed := make([]Field, len(forward))
	for i, f := range forward {
		reversed[len(forward)-1-i] = f
	}
	a := mustChecksum(t, ParamsFromFields(forward))
	b := mustChecksum(t, ParamsFromFields(reversed))
	if a != b {
		t.Fatalf("checksum should not depend on caller order: %s vs %s", a, b)
	}
}

func TestBuildRawStringSortsCaseSensitive(t *testing.T) {
	raw, err := BuildRawString(Params{"b": "2", "B": "1", "a": "3", "A": "4"}, "K", "V")
	if err != nil {
		t.Fatalf("build raw string failed: %v", err)
	}
	want := "HashKey=K&A=4&B=1&a=3&b=2&HashIV=V"
	if raw != want {
		t.Fatalf("raw string mismatch: got %s want %s", raw, want)
	}
}

func TestComputeChecksumExcludesEmptyValues(t *testing.T) {
	base := sampleCheckoutParams()
	want := mustChecksum(t, base)

	withEmpty := base.Clone()
	withEmpty["CustomField1"] = ""
	withEmpty["ClientBackURL"] = ""
	if got := mustChecksum(t, withEmpty); got != want {
		t.Fatalf("empty fields should be excluded: got %s want %s", got, want)
	}

	raw := map[string]interface{}{}
	for k, v := range base {
		raw[k] = v
	}
	raw["CustomField2"] = nil
	normalized, err := NormalizeParams(raw)
	if err != nil {
		t.Fatalf("normalize params failed: %v", err)
	}
	if got := mustChecksum(t, normalized); got != want {
		t.Fatalf("nil fields should be excluded: got %s want %s", got, want)
	}
}

func TestComputeChecksumSensitiveToEveryField(t *testing.T) {
	base := storefrontCheckoutParams()
	want := mustChecksum(t, base)
	for key, value := range base {
		mutated := base.Clone()
		runes := []rune(value)
		last := len(runes) - 1
		if runes[last] == '0' {
			runes[last] = '1'
		} else {
			runes[last] = '0'
		}
		mutated[key] = string(runes)
		if got := mustChecksum(t, mutated); got == want {
			t.Fatalf("mutating %s did not change checksum", key)
		}
	}
}

func TestComputeChecksumSensitiveToMultibyteValues(t *testing.T) {
	base := storefrontCheckoutParams()
	want := mustChecksum(t, base)
	for _, key := range []string{FieldTradeDesc, FieldItemName} {
		mutated := base.Clone()
		runes := []rune(mutated[key])
		runes[0] = '買'
		mutated[key] = string(runes)
		if got := mustChecksum(t, mutated); got == want {
			t.Fatalf("mutating multibyte %s did not change checksum", key)
		}
	}
}

func TestComputeChecksumRejectsInvalidUTF8(t *testing.T) {
	_, err := ComputeChecksum(Params{"ItemName": "bad\xff"}, testHashKey, testHashIV)
	if !errors.Is(err, ErrParamInvalid) {
		t.Fatalf("expected ErrParamInvalid, got %v", err)
	}
}

func TestNormalizeParams(t *testing.T) {
	got, err := NormalizeParams(map[string]interface{}{
		"TotalAmount": 15680,
		"Big":         int64(9007199254740993),
		"Flag":        true,
		"Name":        "x",
		"Skip":        nil,
	})
	if err != nil {
		t.Fatalf("normalize failed: %v", err)
	}
	if got["TotalAmount"] != "15680" || got["Big"] != "9007199254740993" || got["Flag"] != "true" || got["Name"] != "x" {
		t.Fatalf("unexpected normalized params: %#v", got)
	}
	if _, ok := got["Skip"]; ok {
		t.Fatalf("nil value should be skipped")
	}

	for _, bad := range []interface{}{1.5, []string{"a"}, map[string]string{}, struct{}{}} {
		if _, err := NormalizeParams(map[string]interface{}{"X": bad}); !errors.Is(err, ErrParamInvalid) {
			t.Fatalf("value %#v should be rejected, got %v", bad, err)
		}
	}
}

func TestEncodeComponentTable(t *testing.T) {
	cases := map[string]string{
		"AZaz09-_.":     "AZaz09-_.",
		"a b":           "a+b",
		"!'()*~":        "%21%27%28%29%2A%7E",
		"=&/:?#%+":      "%3D%26%2F%3A%3F%23%25%2B",
		"商":             "%E5%95%86",
		"https://x.tw/": "https%3A%2F%2Fx.tw%2F",
	}
	for in, want := range cases {
		if got := encodeComponent(in); got != want {
			t.Fatalf("encodeComponent(%q) = %q want %q", in, got, want)
		}
	}
}

func TestEncodeURIComponentKeepsMarks(t *testing.T) {
	if got := encodeURIComponent("a b!'()*~-_."); got != "a%20b!'()*~-_." {
		t.Fatalf("unexpected encodeURIComponent: %s", got)
	}
}
