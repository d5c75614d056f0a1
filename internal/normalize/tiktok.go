package normalize

import (
	"math"
	"strings"

	"github.com/you/gnasty-alerts/internal/core"
)

// TikTok normalises WebcastGiftMessage-style events. Gift amounts are in
// diamonds (coins) and must be whole numbers.
type TikTok struct{}

func NewTikTok() *TikTok { return &TikTok{} }

func (*TikTok) Platform() core.Platform { return core.PlatformTikTok }

func (s *TikTok) Normalise(raw map[string]any) core.RawIntent {
	p := s.Platform()
	kind, ok := tiktokKind(raw)
	if !ok {
		return fail(p, raw, "tiktok: cannot determine event type")
	}

	in := core.RawIntent{Platform: p, Kind: kind}
	user := digMap(raw, "user")
	if user == nil {
		user = raw
	}
	in.UserID = str(user, "userId", "id")
	in.Username = str(user, "uniqueId", "username")
	in.DisplayName = str(user, "nickname")
	if in.Username == "" {
		in.Username = in.DisplayName
	}
	if in.Username == "" {
		return fail(p, raw, "tiktok: missing user uniqueId")
	}
	in.ID = str(raw, "msgId", "id")
	in.Message = str(raw, "comment", "message")
	stamp(&in, raw["createTime"])
	if in.CreatedAt == 0 {
		stamp(&in, raw["timestamp"])
	}
	in.Raw = raw

	switch kind {
	case core.KindGift:
		if err := tiktokGift(&in, raw); err != "" {
			return fail(p, raw, "tiktok: %s", err)
		}
	case core.KindEnvelope:
		coins, _ := num(raw, "coins", "diamondCount")
		if coins < 0 || coins != math.Trunc(coins) {
			return fail(p, raw, "tiktok: envelope coins %v is not a whole number", coins)
		}
		in.Amount = coins
		in.Currency = "coins"
		in.GiftType = "Treasure Chest"
		in.GiftCount = 1
	case core.KindMember:
		if n, ok := integer(raw, "subMonth", "months"); ok {
			in.Months = n
		}
	}
	return in
}

func tiktokKind(raw map[string]any) (core.Kind, bool) {
	switch strings.ToLower(str(raw, "type", "event")) {
	case "gift":
		return core.KindGift, true
	case "chat", "comment":
		return core.KindChat, true
	case "follow":
		return core.KindFollow, true
	case "subscribe", "member":
		return core.KindMember, true
	case "envelope":
		return core.KindEnvelope, true
	case "social":
		if strings.Contains(strings.ToLower(str(raw, "displayType", "label")), "follow") {
			return core.KindFollow, true
		}
		return "", false
	case "":
	default:
		if k, ok := intentKind(raw, "type"); ok {
			return k, true
		}
		return "", false
	}
	if digMap(raw, "gift") != nil || digMap(raw, "giftDetails") != nil || raw["giftId"] != nil {
		return core.KindGift, true
	}
	if _, ok := raw["comment"]; ok {
		return core.KindChat, true
	}
	return "", false
}

// tiktokGift fills the gift fields. The unit value comes from
// gift.diamondCount or giftDetails.diamondCount and the count from the first
// of gift.repeatCount, repeatCount, or 1.
func tiktokGift(in *core.RawIntent, raw map[string]any) string {
	gift := digMap(raw, "gift")
	details := digMap(raw, "giftDetails")

	var (
		unit float64
		ok   bool
	)
	if gift != nil {
		unit, ok = num(gift, "diamondCount", "diamond_count")
	}
	if !ok && details != nil {
		unit, ok = num(details, "diamondCount", "diamond_count")
	}
	if !ok {
		unit, ok = num(raw, "diamondCount")
	}
	if !ok {
		return "gift without diamondCount"
	}
	if unit < 0 || unit != math.Trunc(unit) {
		return "diamondCount is not a whole number"
	}

	count := 0
	if gift != nil {
		count, _ = integer(gift, "repeatCount")
	}
	if count <= 0 {
		count, _ = integer(raw, "repeatCount")
	}
	if count <= 0 {
		count = 1
	}

	in.GiftCount = count
	in.Amount = unit * float64(count)
	in.Currency = "coins"
	in.GiftType = giftName(gift, details, raw)
	if in.GiftType == "" {
		in.GiftType = "gift"
	}
	for _, m := range []map[string]any{gift, details, raw} {
		if m == nil {
			continue
		}
		if n, ok := integer(m, "giftType"); ok {
			in.ComboType = n
			break
		}
	}
	if f, ok := num(raw, "amount"); ok && f > 0 && boolean(raw, "isAggregated") {
		in.Amount = f
	}
	in.IsAggregated = boolean(raw, "isAggregated")
	return ""
}

func giftName(gift, details, raw map[string]any) string {
	if gift != nil {
		if nested := digMap(gift, "giftName"); nested != nil {
			if n := str(nested, "giftName"); n != "" {
				return n
			}
		}
		if n := str(gift, "giftName", "name"); n != "" {
			return n
		}
	}
	if details != nil {
		if n := str(details, "giftName", "name"); n != "" {
			return n
		}
	}
	if n := str(raw, "giftName"); n != "" {
		return n
	}
	if n, ok := raw["giftType"].(string); ok {
		return n
	}
	return ""
}
