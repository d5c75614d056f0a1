package normalize

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/you/gnasty-alerts/internal/core"
	"github.com/you/gnasty-alerts/internal/ytlive"
)

// purchaseAmountRe accepts an optional currency symbol or code followed by
// an amount with optional thousands separators and at most two decimals.
var purchaseAmountRe = regexp.MustCompile(`^([^\d\s.,-]*)\s*(\d{1,3}(?:,\d{3})+|\d+)(?:\.(\d{1,2}))?\s*([A-Z]{3})?$`)

var isoCodeRe = regexp.MustCompile(`^[A-Z]{3}$`)

var currencySymbols = map[string]string{
	"$":   "USD",
	"US$": "USD",
	"€":   "EUR",
	"£":   "GBP",
	"¥":   "JPY",
	"￥":   "JPY",
	"₩":   "KRW",
	"₹":   "INR",
	"₱":   "PHP",
	"₫":   "VND",
	"₪":   "ILS",
	"₺":   "TRY",
	"₽":   "RUB",
	"R$":  "BRL",
	"CA$": "CAD",
	"A$":  "AUD",
	"NZ$": "NZD",
	"MX$": "MXN",
	"HK$": "HKD",
	"NT$": "TWD",
	"CHF": "CHF",
	"kr":  "SEK",
	"zł":  "PLN",
}

// ParsePurchaseAmount splits a display amount such as "$10.00" or "¥1,500"
// into a number and an ISO currency code.
func ParsePurchaseAmount(s string) (float64, string, error) {
	s = strings.TrimSpace(strings.ReplaceAll(s, "\u00a0", " "))
	m := purchaseAmountRe.FindStringSubmatch(s)
	if m == nil {
		return 0, "", core.ErrInvalidAmount
	}
	symbol, whole, frac, suffix := m[1], strings.ReplaceAll(m[2], ",", ""), m[3], m[4]

	currency := suffix
	if symbol != "" {
		code, ok := currencySymbols[symbol]
		if !ok {
			if isoCodeRe.MatchString(symbol) {
				code = symbol
			} else {
				return 0, "", core.ErrInvalidAmount
			}
		}
		if currency != "" && currency != code {
			return 0, "", core.ErrInvalidAmount
		}
		currency = code
	}
	if currency == "" {
		return 0, "", core.ErrInvalidAmount
	}

	raw := whole
	if frac != "" {
		raw += "." + frac
	}
	amount, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, "", core.ErrInvalidAmount
	}
	return amount, currency, nil
}

// YouTube normalises live chat items of the form
// {"item": {"type": ...}, "authorDetails": {...}}.
type YouTube struct{}

func NewYouTube() *YouTube { return &YouTube{} }

func (*YouTube) Platform() core.Platform { return core.PlatformYouTube }

// Expand splits InnerTube get_live_chat responses into single items.
func (*YouTube) Expand(raw map[string]any) []map[string]any {
	if !ytlive.IsInnerTube(raw) {
		return []map[string]any{raw}
	}
	items, _ := ytlive.ExtractItems(raw)
	return items
}

func (y *YouTube) Normalise(raw map[string]any) core.RawIntent {
	p := y.Platform()
	item := digMap(raw, "item")
	if item == nil {
		return fail(p, raw, "youtube: missing item")
	}
	author := digMap(raw, "authorDetails")
	if author == nil {
		author = digMap(raw, "author")
	}
	if author == nil {
		return fail(p, raw, "youtube: missing authorDetails")
	}

	in := core.RawIntent{Platform: p}
	in.ID = str(item, "id")
	in.UserID = str(author, "channelId", "id")
	in.Username = str(author, "displayName", "name")
	if in.Username == "" {
		return fail(p, raw, "youtube: missing author displayName")
	}
	in.DisplayName = in.Username
	in.Message = str(item, "message", "displayMessage")
	stamp(&in, item["timestamp"])
	in.Raw = raw

	switch typ := str(item, "type"); typ {
	case ytlive.TypeText:
		in.Kind = core.KindChat
	case ytlive.TypeMembership:
		in.Kind = core.KindMember
		if n, ok := integer(item, "months"); ok {
			in.Months = n
		}
		in.Tier = str(item, "tier", "level")
	case ytlive.TypePaidMessage, ytlive.TypePaidSticker:
		in.Kind = core.KindGift
		amount, currency, err := ParsePurchaseAmount(str(item, "purchase_amount"))
		if err != nil {
			return fail(p, raw, "youtube: purchase_amount %q: %v", str(item, "purchase_amount"), err)
		}
		in.Amount, in.Currency = amount, currency
		in.GiftCount = 1
		in.GiftType = "Super Chat"
		if typ == ytlive.TypePaidSticker {
			in.GiftType = "Super Sticker"
			in.StickerID = str(item, "stickerId", "sticker_id")
		}
	case ytlive.TypeGiftPurchase, "LiveChatGiftMembership":
		in.Kind = core.KindGiftMember
		in.GiftType = "membership"
		in.GiftCount = 1
		if n, ok := integer(item, "giftCount", "count"); ok && n > 0 {
			in.GiftCount = n
		}
		in.Tier = str(item, "tier", "level")
	default:
		return fail(p, raw, "youtube: unsupported item type %q", typ)
	}
	return in
}
