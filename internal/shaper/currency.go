package shaper

import (
	"math"
	"strconv"
	"strings"

	"github.com/you/gnasty-alerts/internal/core"
)

// zeroDecimal lists ISO 4217 currencies without minor units.
var zeroDecimal = map[string]bool{
	"BIF": true, "CLP": true, "DJF": true, "GNF": true, "ISK": true,
	"JPY": true, "KMF": true, "KRW": true, "PYG": true, "RWF": true,
	"UGX": true, "VND": true, "VUV": true, "XAF": true, "XOF": true,
	"XPF": true,
}

// platformCurrency is assumed when a platform's virtual-currency amount
// arrives without a currency.
var platformCurrency = map[core.Platform]string{
	core.PlatformTikTok: "coins",
	core.PlatformTwitch: "bits",
}

// IsZeroDecimal reports whether currency has no minor unit. TikTok coins
// count as zero-decimal.
func IsZeroDecimal(currency string) bool {
	c := strings.ToUpper(strings.TrimSpace(currency))
	return zeroDecimal[c] || c == "COINS"
}

// FormatAmount renders whole amounts without decimals and everything else
// with two.
func FormatAmount(amount float64) string {
	if amount == math.Trunc(amount) && math.Abs(amount) < 1e15 {
		return strconv.FormatInt(int64(amount), 10)
	}
	return strconv.FormatFloat(amount, 'f', 2, 64)
}

func validAmount(amount float64, currency string) bool {
	if math.IsNaN(amount) || math.IsInf(amount, 0) || amount < 0 {
		return false
	}
	if amount > 0 && strings.TrimSpace(currency) == "" {
		return false
	}
	if IsZeroDecimal(currency) && amount != math.Trunc(amount) {
		return false
	}
	return true
}
