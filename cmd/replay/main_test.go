package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/you/gnasty-alerts/internal/config"
	"github.com/you/gnasty-alerts/internal/core"
)

func TestReplayPrintsResultsThenQueue(t *testing.T) {
	const base = int64(1_700_000_000_000)
	input := strings.Join([]string{
		"# recorded session",
		fmt.Sprintf(`{"platform":"T","at":%d,"connected_at":%d,"event":{"type":"chat","userId":"1","username":"viewer","message":"hello","timestamp":%q}}`,
			base, base-10_000, core.ISOTime(base)),
		fmt.Sprintf(`{"platform":"twitch","at":%d,"event":{"metadata":{"message_id":"m1","message_type":"notification"},"payload":{"subscription":{"type":"channel.raid"},"event":{"from_broadcaster_user_id":"9","from_broadcaster_user_name":"Raider","viewers":100}}}}`,
			base+1_000),
		`{"platform":"myspace","event":{}}`,
		`{"platform":`,
		fmt.Sprintf(`{"platform":"T","at":%d,"event":{"type":"chat","userId":"2","username":"late","message":"backlog","timestamp":%q}}`,
			base+2_000, core.ISOTime(base-60_000)),
		"",
	}, "\n")

	var out bytes.Buffer
	err := run(context.Background(), config.Default(), 0, strings.NewReader(input), &out, zerolog.Nop())
	require.NoError(t, err)

	var (
		results []lineResult
		queued  []queuedItem
	)
	sc := bufio.NewScanner(&out)
	for sc.Scan() {
		var fields map[string]json.RawMessage
		require.NoError(t, json.Unmarshal(sc.Bytes(), &fields))
		if raw, ok := fields["queued"]; ok {
			var qi queuedItem
			require.NoError(t, json.Unmarshal(raw, &qi))
			queued = append(queued, qi)
			continue
		}
		var r lineResult
		require.NoError(t, json.Unmarshal(sc.Bytes(), &r))
		results = append(results, r)
	}

	require.Len(t, results, 5)

	assert.Equal(t, 2, results[0].Line)
	assert.Equal(t, base, results[0].At)
	require.Len(t, results[0].Results, 1)
	assert.True(t, results[0].Results[0].Success)
	assert.NotEmpty(t, results[0].Results[0].NotificationID)

	require.Len(t, results[1].Results, 1)
	assert.NotEmpty(t, results[1].Results[0].NotificationID)
	assert.Equal(t, base+1_000, results[1].At)

	assert.Contains(t, results[2].Error, "unknown platform")
	assert.NotEmpty(t, results[3].Error)

	require.Len(t, results[4].Results, 1)
	assert.Equal(t, core.Suppress(core.ReasonOldMessage), results[4].Results[0])

	require.Len(t, queued, 2)
	assert.Equal(t, "platform:raid", queued[0].Type)
	assert.Equal(t, 6, queued[0].Priority)
	assert.Equal(t, "platform:chat", queued[1].Type)
	assert.Equal(t, 1, queued[1].Priority)
	assert.Equal(t, 2, queued[1].Position)
}

func TestStepNeverRunsBackwards(t *testing.T) {
	clock := core.NewManualClock(5_000)
	step(clock, line{At: 1_000})
	assert.Equal(t, int64(5_000), clock.NowMs())

	step(clock, line{Ts: core.ISOTime(9_000)})
	assert.Equal(t, int64(9_000), clock.NowMs())
}

func TestDecodeLineKeepsLargeIDs(t *testing.T) {
	var l line
	require.NoError(t, decodeLine(`{"platform":"S","at":5,"event":{"user":{"userId":7123456789012345679}}}`, &l))
	assert.Equal(t, int64(5), l.At)
	user := l.Event["user"].(map[string]any)
	assert.Equal(t, json.Number("7123456789012345679"), user["userId"])
}
