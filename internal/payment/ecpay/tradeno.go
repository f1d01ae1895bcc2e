package ecpay

import (
	"crypto/rand"
	"io"
	"time"
)

const (
	tradeDateLayout    = "2006/01/02 15:04:05"
	tradeStampLayout   = "20060102150405"
	tradeSuffixLength  = 4
	tradeSuffixCharset = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"
)

// FormatTradeDate 格式化为 yyyy/MM/dd HH:mm:ss，使用 t 自带的时区，不做转换
func FormatTradeDate(t time.Time) string {
	return t.Format(tradeDateLayout)
}

// ParseTradeDate 解析绿界时间字段，按 loc 解释
func ParseTradeDate(value string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.Local
	}
	return time.ParseInLocation(tradeDateLayout, value, loc)
}

// GenerateTradeNumber 生成商店交易编号：前缀 + yyyyMMddHHmmss + 4 位大写英数，截断至 20 字元。
// 唯一性仅为高概率，不做冲突检测；rnd 为 nil 时使用 crypto/rand。
func GenerateTradeNumber(prefix string, now time.Time, rnd io.Reader) string {
	if rnd == nil {
		rnd = rand.Reader
	}
	tradeNo := prefix + now.Format(tradeStampLayout) + randomSuffix(rnd)
	if len(tradeNo) > MaxTradeNoLength {
		tradeNo = tradeNo[:MaxTradeNoLength]
	}
	return tradeNo
}

func randomSuffix(rnd io.Reader) string {
	buf := make([]byte, tradeSuffixLength)
	if _, err := io.ReadFull(rnd, buf); err != nil {
		// 随机源不可用时退回纳秒时间
		nanos := time.Now().UnixNano()
		for i := range buf {
			buf[i] = byte(nanos >> (8 * i))
		}
	}
	out := make([]byte, tradeSuffixLength)
	for i, b := range buf {
		out[i] = tradeSuffixCharset[int(b)%len(tradeSuffixCharset)]
	}
	return string(out)
}
