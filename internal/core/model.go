package core

import (
	"fmt"
	"math"
	"strings"
)

// Platform identifies the upstream streaming platform of an event.
type Platform string

const (
	PlatformYouTube Platform = "V"
	PlatformTwitch  Platform = "T"
	PlatformTikTok  Platform = "S"
)

// Platforms lists every supported platform in a stable order.
var Platforms = []Platform{PlatformYouTube, PlatformTwitch, PlatformTikTok}

// ParsePlatform accepts the single-letter code or the platform name.
func ParsePlatform(raw string) (Platform, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "v", "youtube", "yt":
		return PlatformYouTube, true
	case "t", "twitch":
		return PlatformTwitch, true
	case "s", "tiktok":
		return PlatformTikTok, true
	}
	return "", false
}

func (p Platform) Valid() bool {
	return p == PlatformYouTube || p == PlatformTwitch || p == PlatformTikTok
}

// Name is the human readable platform name used in logs.
func (p Platform) Name() string {
	switch p {
	case PlatformYouTube:
		return "youtube"
	case PlatformTwitch:
		return "twitch"
	case PlatformTikTok:
		return "tiktok"
	}
	return "unknown"
}

// Kind is the normalised event kind.
type Kind string

const (
	KindChat       Kind = "chat"
	KindFollow     Kind = "follow"
	KindMember     Kind = "member"
	KindGift       Kind = "gift"
	KindGiftMember Kind = "giftmember"
	KindRaid       Kind = "raid"
	KindEnvelope   Kind = "envelope"
	KindRaw        Kind = "raw"
)

// TypePrefix is prepended to every kind to form the canonical notification type.
const TypePrefix = "platform:"

var priorities = map[Kind]int{
	KindChat:       1,
	KindFollow:     2,
	KindMember:     3,
	KindGift:       4,
	KindGiftMember: 5,
	KindRaid:       6,
	KindEnvelope:   8,
}

// Kinds lists every displayable kind.
var Kinds = []Kind{KindChat, KindFollow, KindMember, KindGift, KindGiftMember, KindRaid, KindEnvelope}

// PriorityFor returns the static priority for a kind.
func PriorityFor(k Kind) (int, bool) {
	p, ok := priorities[k]
	return p, ok
}

// ValidPriority reports whether p belongs to the priority table.
func ValidPriority(p int) bool {
	for _, v := range priorities {
		if v == p {
			return true
		}
	}
	return false
}

// TypeFor builds the canonical "platform:<kind>" type.
func TypeFor(k Kind) string { return TypePrefix + string(k) }

// KindFromType accepts both the canonical prefixed form and a bare kind.
func KindFromType(typ string) (Kind, bool) {
	k := Kind(strings.TrimPrefix(strings.ToLower(strings.TrimSpace(typ)), TypePrefix))
	if k == KindRaw {
		return k, true
	}
	_, ok := priorities[k]
	return k, ok
}

// IsMonetary reports whether the kind feeds donation goals.
func (k Kind) IsMonetary() bool { return k == KindGift || k == KindGiftMember }

// EventData carries the kind-specific fields of an event after normalisation.
// Zero values mean "absent".
type EventData struct {
	ID          string `json:"id,omitempty"`
	UserID      string `json:"userId,omitempty"`
	Username    string `json:"username,omitempty"`
	DisplayName string `json:"displayName,omitempty"`
	Message     string `json:"message,omitempty"`
	// Timestamp is the source timestamp as ISO-8601.
	Timestamp string `json:"timestamp,omitempty"`

	Amount          float64 `json:"amount,omitempty"`
	Currency        string  `json:"currency,omitempty"`
	GiftType        string  `json:"giftType,omitempty"`
	GiftCount       int     `json:"giftCount,omitempty"`
	Tier            string  `json:"tier,omitempty"`
	Months          int     `json:"months,omitempty"`
	ViewerCount     int     `json:"viewerCount,omitempty"`
	IsAggregated    bool    `json:"isAggregated,omitempty"`
	CumulativeTotal int     `json:"cumulativeTotal,omitempty"`
	StickerID       string  `json:"stickerId,omitempty"`
	ComboType       int     `json:"comboType,omitempty"`

	// Raw is the untouched platform payload, kept for self-message detection.
	Raw map[string]any `json:"-"`
}

// RawIntent is the output of a platform normaliser.
type RawIntent struct {
	Platform Platform
	Kind     Kind
	EventData
	// CreatedAt is the source time in ms epoch, 0 when unknown.
	CreatedAt int64
	// Payload holds the entire input when Kind is KindRaw.
	Payload        map[string]any
	NormaliseError string
}

// Notification is the shaped record committed to the display queue.
type Notification struct {
	ID             string   `json:"id"`
	Type           string   `json:"type"`
	Kind           Kind     `json:"kind"`
	Platform       Platform `json:"platform"`
	UserID         string   `json:"userId,omitempty"`
	Username       string   `json:"username"`
	Message        string   `json:"message,omitempty"`
	DisplayMessage string   `json:"displayMessage"`
	TTSMessage     string   `json:"ttsMessage"`
	LogMessage     string   `json:"logMessage"`
	Priority       int      `json:"priority"`
	Duration       int64    `json:"duration"`
	ProcessedAt    int64    `json:"processedAt"`
	Timestamp      string   `json:"timestamp"`
	CreatedAt      int64    `json:"createdAt"`

	Amount          float64 `json:"amount,omitempty"`
	Currency        string  `json:"currency,omitempty"`
	GiftType        string  `json:"giftType,omitempty"`
	GiftCount       int     `json:"giftCount,omitempty"`
	Tier            string  `json:"tier,omitempty"`
	Months          int     `json:"months,omitempty"`
	IsAggregated    bool    `json:"isAggregated,omitempty"`
	CumulativeTotal int     `json:"cumulativeTotal,omitempty"`
	ViewerCount     int     `json:"viewerCount,omitempty"`
	StickerID       string  `json:"stickerId,omitempty"`
}

// Validate checks the attributes every queued notification must carry.
func (n *Notification) Validate() error {
	if n == nil {
		return fmt.Errorf("%w: nil notification", ErrInvariant)
	}
	required := []struct {
		name, value string
	}{
		{"id", n.ID},
		{"type", n.Type},
		{"platform", string(n.Platform)},
		{"username", n.Username},
		{"displayMessage", n.DisplayMessage},
		{"ttsMessage", n.TTSMessage},
		{"logMessage", n.LogMessage},
		{"timestamp", n.Timestamp},
	}
	for _, r := range required {
		if strings.TrimSpace(r.value) == "" {
			return fmt.Errorf("%w: %s is empty", ErrInvariant, r.name)
		}
	}
	if n.Type != TypeFor(n.Kind) {
		return fmt.Errorf("%w: type %q does not match kind %q", ErrInvariant, n.Type, n.Kind)
	}
	if !n.Platform.Valid() {
		return fmt.Errorf("%w: platform %q", ErrInvariant, n.Platform)
	}
	if !ValidPriority(n.Priority) {
		return fmt.Errorf("%w: priority %d", ErrInvariant, n.Priority)
	}
	if n.Duration < 0 || n.ProcessedAt < 0 || n.CreatedAt < 0 {
		return fmt.Errorf("%w: negative time field", ErrInvariant)
	}
	if n.CreatedAt > n.ProcessedAt {
		return fmt.Errorf("%w: createdAt after processedAt", ErrInvariant)
	}
	if math.IsNaN(n.Amount) || math.IsInf(n.Amount, 0) || n.Amount < 0 {
		return fmt.Errorf("%w: amount %v", ErrInvariant, n.Amount)
	}
	if n.GiftCount < 0 || n.Months < 0 || n.CumulativeTotal < 0 || n.ViewerCount < 0 {
		return fmt.Errorf("%w: negative count", ErrInvariant)
	}
	if n.Kind.IsMonetary() && n.Amount > 0 && strings.TrimSpace(n.Currency) == "" {
		return fmt.Errorf("%w: currency is empty", ErrInvariant)
	}
	if n.Kind == KindRaid && n.ViewerCount <= 0 {
		return fmt.Errorf("%w: raid without viewers", ErrInvariant)
	}
	return nil
}

// QueueItem is the unit stored by the display queue.
type QueueItem struct {
	ID         string        `json:"id"`
	Type       string        `json:"type"`
	Platform   Platform      `json:"platform"`
	Priority   int           `json:"priority"`
	Duration   int64         `json:"duration"`
	EnqueuedAt int64         `json:"enqueuedAt"`
	Data       *Notification `json:"data"`
}

// NewQueueItem wraps a notification for admission at time now.
func NewQueueItem(n *Notification, now int64) QueueItem {
	return QueueItem{
		ID:         n.ID,
		Type:       n.Type,
		Platform:   n.Platform,
		Priority:   n.Priority,
		Duration:   n.Duration,
		EnqueuedAt: now,
		Data:       n,
	}
}

// Validate enforces the queue item invariants.
func (q QueueItem) Validate() error {
	if q.Data == nil {
		return fmt.Errorf("%w: queue item %q has no data", ErrInvariant, q.ID)
	}
	if q.Data.ID != q.ID {
		return fmt.Errorf("%w: queue item id %q != data id %q", ErrInvariant, q.ID, q.Data.ID)
	}
	if q.Type != q.Data.Type || !strings.HasPrefix(q.Type, TypePrefix) {
		return fmt.Errorf("%w: queue item type %q", ErrInvariant, q.Type)
	}
	if q.Priority != q.Data.Priority || !ValidPriority(q.Priority) {
		return fmt.Errorf("%w: queue item priority %d", ErrInvariant, q.Priority)
	}
	return q.Data.Validate()
}

// Donation is the payload handed to goal accounting.
type Donation struct {
	Amount   float64  `json:"amount"`
	Currency string   `json:"currency"`
	Username string   `json:"username"`
	Platform Platform `json:"platform"`
}

// Result is returned to callers of the notification pipeline.
type Result struct {
	Success        bool   `json:"success"`
	Suppressed     bool   `json:"suppressed,omitempty"`
	Reason         string `json:"reason,omitempty"`
	NotificationID string `json:"notificationId,omitempty"`
}

// Suppress builds a successful non-event result.
func Suppress(reason string) Result {
	return Result{Success: true, Suppressed: true, Reason: reason}
}

// Fail builds a failed result for an error kind.
func Fail(err error) Result {
	return Result{Success: false, Reason: ReasonOf(err)}
}
