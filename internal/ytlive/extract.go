package ytlive

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"

	"github.com/you/gnasty-alerts/internal/core"
)

// Item types produced by ExtractItems, matching the "item.type" values the
// YouTube normaliser understands.
const (
	TypeText         = "LiveChatTextMessage"
	TypePaidMessage  = "LiveChatPaidMessage"
	TypePaidSticker  = "LiveChatPaidSticker"
	TypeMembership   = "LiveChatMembershipItem"
	TypeGiftPurchase = "LiveChatSponsorshipsGiftPurchaseAnnouncement"
)

var rendererTypes = map[string]string{
	"liveChatTextMessageRenderer": TypeText,
	"liveChatPaidMessageRenderer": TypePaidMessage,
	"liveChatPaidStickerRenderer": TypePaidSticker,
	"liveChatMembershipItemRenderer": TypeMembership,
	"liveChatSponsorshipsGiftPurchaseAnnouncementRenderer": TypeGiftPurchase,
}

var firstNumberRe = regexp.MustCompile(`\d[\d,]*`)

// Summary counts what one InnerTube response contained.
type Summary struct {
	Actions int
	Items   int
	Skipped int
}

// IsInnerTube reports whether payload looks like a get_live_chat response
// rather than a single item.
func IsInnerTube(payload map[string]any) bool {
	if _, ok := payload["item"]; ok {
		return false
	}
	if _, ok := payload["actions"].([]any); ok {
		return true
	}
	if _, ok := payload["onResponseReceivedActions"].([]any); ok {
		return true
	}
	return digMap(payload, "continuationContents", "liveChatContinuation") != nil
}

// ExtractItems flattens an InnerTube live chat response into one payload per
// chat item, shaped as {"item": {...}, "authorDetails": {...}}.
func ExtractItems(payload map[string]any) ([]map[string]any, Summary) {
	var (
		out     []map[string]any
		summary Summary
	)
	for _, action := range gatherActions(payload) {
		summary.Actions++
		renderers := actionRenderers(action)
		if len(renderers) == 0 {
			summary.Skipped++
			continue
		}
		for _, r := range renderers {
			item, ok := buildItem(r.kind, r.body)
			if !ok {
				summary.Skipped++
				continue
			}
			out = append(out, item)
			summary.Items++
		}
	}
	return out, summary
}

type typedRenderer struct {
	kind string
	body map[string]any
}

func actionRenderers(action map[string]any) []typedRenderer {
	var out []typedRenderer
	pick := func(container map[string]any) {
		if container == nil {
			return
		}
		for key, kind := range rendererTypes {
			if body, ok := container[key].(map[string]any); ok {
				out = append(out, typedRenderer{kind: kind, body: body})
			}
		}
	}
	pick(digMap(action, "addChatItemAction", "item"))
	if appendAction := digMap(action, "appendContinuationItemsAction"); appendAction != nil {
		if items, ok := appendAction["continuationItems"].([]any); ok {
			for _, it := range items {
				m, ok := it.(map[string]any)
				if !ok {
					continue
				}
				pick(m)
				pick(digMap(m, "addChatItemAction", "item"))
			}
		}
	}
	return out
}

func gatherActions(payload map[string]any) []map[string]any {
	var out []map[string]any
	collect := func(arr []any) {
		for _, item := range arr {
			if m, ok := item.(map[string]any); ok {
				out = append(out, m)
			}
		}
	}
	if arr, ok := payload["actions"].([]any); ok {
		collect(arr)
	}
	if arr, ok := payload["onResponseReceivedActions"].([]any); ok {
		collect(arr)
	}
	if lc := digMap(payload, "continuationContents", "liveChatContinuation"); lc != nil {
		if arr, ok := lc["actions"].([]any); ok {
			collect(arr)
		}
	}
	return out
}

func buildItem(kind string, r map[string]any) (map[string]any, bool) {
	item := map[string]any{
		"type": kind,
		"id":   stringField(r, "id"),
	}
	if usec := usecField(r, "timestampUsec"); usec > 0 {
		item["timestamp"] = core.ISOTime(usec / 1000)
	}
	author := authorDetails(r)

	switch kind {
	case TypeText:
		msg := textField(r, "message")
		if msg == "" {
			return nil, false
		}
		item["message"] = msg
	case TypePaidMessage:
		item["purchase_amount"] = textField(r, "purchaseAmountText")
		if msg := textField(r, "message"); msg != "" {
			item["message"] = msg
		}
	case TypePaidSticker:
		item["purchase_amount"] = textField(r, "purchaseAmountText")
		if label := stickerLabel(r); label != "" {
			item["stickerId"] = label
		}
	case TypeMembership:
		header := textField(r, "headerPrimaryText")
		if header == "" {
			header = textField(r, "headerSubtext")
		}
		if n := firstNumber(header); n > 0 && strings.Contains(strings.ToLower(header), "month") {
			item["months"] = n
		}
		if msg := textField(r, "message"); msg != "" {
			item["message"] = msg
		}
	case TypeGiftPurchase:
		header := digMap(r, "header", "liveChatSponsorshipsHeaderRenderer")
		if header == nil {
			return nil, false
		}
		item["giftCount"] = max(firstNumber(textField(header, "primaryText")), 1)
		headerAuthor := authorDetails(header)
		if headerAuthor["channelId"] == "" {
			headerAuthor["channelId"] = stringField(r, "authorExternalChannelId")
		}
		author = headerAuthor
	}

	if author["displayName"] == "" {
		return nil, false
	}
	return map[string]any{"item": item, "authorDetails": author}, true
}

func authorDetails(r map[string]any) map[string]any {
	badges, owner := parseBadges(r)
	details := map[string]any{
		"channelId":   stringField(r, "authorExternalChannelId"),
		"displayName": textField(r, "authorName"),
		"isChatOwner": owner,
	}
	if len(badges) > 0 {
		details["badges"] = badges
	}
	return details
}

// parseBadges returns badge labels and whether one of them is the owner
// badge.
func parseBadges(r map[string]any) ([]string, bool) {
	var (
		out   []string
		owner bool
	)
	add := func(label, icon string) {
		if icon == "OWNER" {
			owner = true
			if label == "" {
				label = "Owner"
			}
		}
		if label != "" {
			out = append(out, label)
		}
	}
	if arr, ok := r["authorBadges"].([]any); ok {
		for _, b := range arr {
			m, _ := b.(map[string]any)
			br := digMap(m, "liveChatAuthorBadgeRenderer")
			if br == nil {
				continue
			}
			label := stringField(br, "tooltip")
			if label == "" {
				if acc := digMap(br, "accessibility", "accessibilityData"); acc != nil {
					label = stringField(acc, "label")
				}
			}
			icon := ""
			if ic := digMap(br, "icon"); ic != nil {
				icon = stringField(ic, "iconType")
			}
			add(label, icon)
		}
	}
	if arr, ok := r["authorBadgesWithMetadata"].([]any); ok {
		for _, b := range arr {
			m, _ := b.(map[string]any)
			br := digMap(m, "metadataBadgeRenderer")
			if br == nil {
				continue
			}
			icon := ""
			if ic := digMap(br, "icon"); ic != nil {
				icon = stringField(ic, "iconType")
			}
			add(stringField(br, "label"), icon)
		}
	}
	return out, owner
}

func stickerLabel(r map[string]any) string {
	if id := stringField(r, "stickerId"); id != "" {
		return id
	}
	if acc := digMap(r, "sticker", "accessibility", "accessibilityData"); acc != nil {
		return stringField(acc, "label")
	}
	return ""
}

func firstNumber(s string) int {
	m := firstNumberRe.FindString(s)
	if m == "" {
		return 0
	}
	n, err := strconv.Atoi(strings.ReplaceAll(m, ",", ""))
	if err != nil {
		return 0
	}
	return n
}

func stringField(m map[string]any, key string) string {
	if s, ok := m[key].(string); ok {
		return s
	}
	return ""
}

func textField(m map[string]any, key string) string {
	if nested, ok := m[key].(map[string]any); ok {
		if s, ok := nested["simpleText"].(string); ok {
			return s
		}
	}
	return runsField(m, key)
}

// runsField joins text runs. Standard emoji runs contribute their code
// points; custom emoji fall back to their first shortcut.
func runsField(m map[string]any, key string) string {
	nested, ok := m[key].(map[string]any)
	if !ok {
		return ""
	}
	runs, ok := nested["runs"].([]any)
	if !ok {
		return ""
	}
	var b strings.Builder
	for _, run := range runs {
		part, ok := run.(map[string]any)
		if !ok {
			continue
		}
		if text, ok := part["text"].(string); ok {
			b.WriteString(text)
			continue
		}
		emoji, ok := part["emoji"].(map[string]any)
		if !ok {
			continue
		}
		custom, _ := emoji["isCustomEmoji"].(bool)
		if id := stringField(emoji, "emojiId"); id != "" && !custom {
			b.WriteString(id)
			continue
		}
		if shortcuts, ok := emoji["shortcuts"].([]any); ok && len(shortcuts) > 0 {
			if s, ok := shortcuts[0].(string); ok {
				b.WriteString(s)
			}
		}
	}
	return b.String()
}

func usecField(m map[string]any, key string) int64 {
	switch v := m[key].(type) {
	case string:
		n, err := strconv.ParseInt(v, 10, 64)
		if err == nil {
			return n
		}
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return n
		}
	case float64:
		return int64(v)
	}
	return 0
}

func digMap(m map[string]any, keys ...string) map[string]any {
	current := m
	for _, key := range keys {
		next, ok := current[key].(map[string]any)
		if !ok {
			return nil
		}
		current = next
	}
	return current
}
