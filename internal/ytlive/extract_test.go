package ytlive

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func addChat(key string, renderer map[string]any) map[string]any {
	return map[string]any{
		"addChatItemAction": map[string]any{
			"item": map[string]any{key: renderer},
		},
	}
}

func TestExtractItemsMapsRenderers(t *testing.T) {
	payload := map[string]any{
		"continuationContents": map[string]any{
			"liveChatContinuation": map[string]any{
				"actions": []any{
					addChat("liveChatTextMessageRenderer", map[string]any{
						"id":                      "chat-1",
						"timestampUsec":           "1700000000000000",
						"authorExternalChannelId": "UC1",
						"authorName":              map[string]any{"simpleText": "Ünïcødé"},
						"message": map[string]any{"runs": []any{
							map[string]any{"text": "hi "},
							map[string]any{"emoji": map[string]any{"emojiId": "🎉"}},
							map[string]any{"emoji": map[string]any{"emojiId": "UCx/abc", "isCustomEmoji": true, "shortcuts": []any{":party:"}}},
						}},
						"authorBadges": []any{map[string]any{
							"liveChatAuthorBadgeRenderer": map[string]any{
								"icon": map[string]any{"iconType": "OWNER"},
							},
						}},
					}),
					addChat("liveChatPaidMessageRenderer", map[string]any{
						"id":                 "paid-1",
						"authorName":         map[string]any{"simpleText": "ChatHero"},
						"purchaseAmountText": map[string]any{"simpleText": "$10.00"},
					}),
					addChat("liveChatPaidStickerRenderer", map[string]any{
						"id":                 "sticker-1",
						"authorName":         map[string]any{"simpleText": "Stick"},
						"purchaseAmountText": map[string]any{"simpleText": "¥500"},
						"sticker": map[string]any{"accessibility": map[string]any{
							"accessibilityData": map[string]any{"label": "cat waving"},
						}},
					}),
					addChat("liveChatMembershipItemRenderer", map[string]any{
						"id":                "member-1",
						"authorName":        map[string]any{"simpleText": "Loyal"},
						"headerPrimaryText": map[string]any{"runs": []any{map[string]any{"text": "Member for 12 months"}}},
					}),
					addChat("liveChatSponsorshipsGiftPurchaseAnnouncementRenderer", map[string]any{
						"id":                      "gift-1",
						"authorExternalChannelId": "UCgift",
						"header": map[string]any{"liveChatSponsorshipsHeaderRenderer": map[string]any{
							"authorName":  map[string]any{"simpleText": "Generous"},
							"primaryText": map[string]any{"runs": []any{map[string]any{"text": "Gifted 5 memberships"}}},
						}},
					}),
					map[string]any{"showLiveChatActionPanelAction": map[string]any{}},
				},
			},
		},
	}

	require.True(t, IsInnerTube(payload))
	items, summary := ExtractItems(payload)
	require.Len(t, items, 5)
	assert.Equal(t, Summary{Actions: 6, Items: 5, Skipped: 1}, summary)

	text := items[0]["item"].(map[string]any)
	author := items[0]["authorDetails"].(map[string]any)
	assert.Equal(t, TypeText, text["type"])
	assert.Equal(t, "hi 🎉:party:", text["message"])
	assert.Equal(t, "2023-11-14T22:13:20.000Z", text["timestamp"])
	assert.Equal(t, "Ünïcødé", author["displayName"])
	assert.Equal(t, "UC1", author["channelId"])
	assert.Equal(t, true, author["isChatOwner"])
	assert.Equal(t, []string{"Owner"}, author["badges"])

	paid := items[1]["item"].(map[string]any)
	assert.Equal(t, TypePaidMessage, paid["type"])
	assert.Equal(t, "$10.00", paid["purchase_amount"])

	sticker := items[2]["item"].(map[string]any)
	assert.Equal(t, TypePaidSticker, sticker["type"])
	assert.Equal(t, "cat waving", sticker["stickerId"])

	member := items[3]["item"].(map[string]any)
	assert.Equal(t, 12, member["months"])

	gift := items[4]["item"].(map[string]any)
	assert.Equal(t, TypeGiftPurchase, gift["type"])
	assert.Equal(t, 5, gift["giftCount"])
	assert.Equal(t, "UCgift", items[4]["authorDetails"].(map[string]any)["channelId"])
}

func TestExtractItemsAppendContinuation(t *testing.T) {
	payload := map[string]any{
		"onResponseReceivedActions": []any{
			map[string]any{"appendContinuationItemsAction": map[string]any{
				"continuationItems": []any{
					map[string]any{"liveChatTextMessageRenderer": map[string]any{
						"authorName": map[string]any{"simpleText": "A"},
						"message":    map[string]any{"simpleText": "first"},
					}},
					addChat("liveChatTextMessageRenderer", map[string]any{
						"authorName": map[string]any{"simpleText": "B"},
						"message":    map[string]any{"simpleText": "second"},
					}),
					map[string]any{"liveChatTextMessageRenderer": map[string]any{
						"authorName": map[string]any{"simpleText": "C"},
					}},
				},
			}},
		},
	}
	items, summary := ExtractItems(payload)
	require.Len(t, items, 2)
	assert.Equal(t, 1, summary.Skipped)
	assert.Equal(t, "second", items[1]["item"].(map[string]any)["message"])
}

func TestIsInnerTube(t *testing.T) {
	assert.False(t, IsInnerTube(map[string]any{"item": map[string]any{}}))
	assert.False(t, IsInnerTube(map[string]any{"foo": 1}))
	assert.True(t, IsInnerTube(map[string]any{"actions": []any{}}))
}
