package wallet

import (
	"strings"

	"github.com/shopspring/decimal"
)

// minorUnitExponents 通貨ごとの補助単位の桁数（未登録は2）
var minorUnitExponents = map[string]int32{
	"JPY": 0,
	"KRW": 0,
	"VND": 0,
	"BHD": 3,
	"KWD": 3,
}

// FormatAmount 最小通貨単位の整数を表示用の文字列にする（例: 1050 USD -> "10.50 USD"）
func FormatAmount(amount int64, currency string) string {
	currency = strings.ToUpper(currency)
	exp, ok := minorUnitExponents[currency]
	if !ok {
		exp = 2
	}
	s := decimal.New(amount, -exp).StringFixed(exp)
	if currency == "" {
		return s
	}
	return s + " " + currency
}
