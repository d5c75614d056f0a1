// Command replay feeds recorded raw events through a notification pipeline
// and prints what each one produced, followed by the display queue in
// dispatch order.
//
// Input is NDJSON, one event per line:
//
//	{"platform":"T","at":1700000000000,"connected_at":1699999990000,"event":{...}}
//
// "at" moves the pipeline clock forward before the event is handled;
// "connected_at" records a transport handshake for that platform.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/you/gnasty-alerts/internal/config"
	"github.com/you/gnasty-alerts/internal/core"
	"github.com/you/gnasty-alerts/internal/pipeline"
	"github.com/you/gnasty-alerts/internal/queue"
)

const maxLine = 4 << 20

type line struct {
	Platform    string         `json:"platform"`
	At          int64          `json:"at,omitempty"`
	Ts          string         `json:"ts,omitempty"`
	ConnectedAt int64          `json:"connected_at,omitempty"`
	Event       map[string]any `json:"event"`
}

type lineResult struct {
	Line     int           `json:"line"`
	Platform core.Platform `json:"platform,omitempty"`
	At       int64         `json:"at"`
	Results  []core.Result `json:"results"`
	Error    string        `json:"error,omitempty"`
}

type queuedItem struct {
	Position       int           `json:"position"`
	ID             string        `json:"id"`
	Type           string        `json:"type"`
	Platform       core.Platform `json:"platform"`
	Priority       int           `json:"priority"`
	EnqueuedAt     int64         `json:"enqueuedAt"`
	DisplayMessage string        `json:"displayMessage"`
}

func main() {
	var (
		configPath string
		startMs    int64
		verbose    bool
	)
	flag.StringVar(&configPath, "config", "", "Path to a JSON or YAML configuration file")
	flag.Int64Var(&startMs, "start", 0, "Initial clock value in ms epoch (default: first event)")
	flag.BoolVar(&verbose, "v", false, "Log pipeline decisions to stderr")
	flag.Parse()

	view, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "replay: %v\n", err)
		os.Exit(2)
	}

	in := io.Reader(os.Stdin)
	if path := flag.Arg(0); path != "" && path != "-" {
		f, err := os.Open(path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "replay: %v\n", err)
			os.Exit(1)
		}
		defer f.Close()
		in = f
	}

	log := zerolog.Nop()
	if verbose {
		log = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).Level(zerolog.DebugLevel)
	}

	if err := run(context.Background(), view, startMs, in, os.Stdout, log); err != nil {
		fmt.Fprintf(os.Stderr, "replay: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, view *config.View, startMs int64, in io.Reader, out io.Writer, log zerolog.Logger) error {
	clock := core.NewManualClock(startMs)
	q := queue.NewDisplayQueue(view.Overlay.QueueCapacity)
	m := pipeline.New(config.Static{V: view}, q,
		pipeline.WithClock(clock),
		pipeline.WithLogger(log),
		pipeline.WithTraceLogging(true),
	)

	enc := json.NewEncoder(out)
	sc := bufio.NewScanner(in)
	sc.Buffer(make([]byte, 0, 64*1024), maxLine)

	n := 0
	for sc.Scan() {
		n++
		text := strings.TrimSpace(sc.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		res := lineResult{Line: n}

		var l line
		if err := decodeLine(text, &l); err != nil {
			res.Error = err.Error()
			res.At = clock.NowMs()
			if err := enc.Encode(res); err != nil {
				return errors.Wrap(err, "write result")
			}
			continue
		}
		platform, ok := core.ParsePlatform(l.Platform)
		if !ok {
			res.Error = fmt.Sprintf("unknown platform %q", l.Platform)
		} else {
			res.Platform = platform
			step(clock, l)
			if l.ConnectedAt > 0 {
				m.Transports().MarkConnectedAt(platform, l.ConnectedAt)
			}
			if l.Event == nil {
				res.Error = "missing event"
			} else {
				res.Results = m.Ingest(ctx, platform, l.Event)
			}
		}
		res.At = clock.NowMs()
		if err := enc.Encode(res); err != nil {
			return errors.Wrap(err, "write result")
		}
	}
	if err := sc.Err(); err != nil {
		return errors.Wrap(err, "read input")
	}
	m.Flush()

	pos := 0
	for {
		item, ok := q.PopNext()
		if !ok {
			break
		}
		pos++
		qi := queuedItem{
			Position:   pos,
			ID:         item.ID,
			Type:       item.Type,
			Platform:   item.Platform,
			Priority:   item.Priority,
			EnqueuedAt: item.EnqueuedAt,
		}
		if item.Data != nil {
			qi.DisplayMessage = item.Data.DisplayMessage
		}
		if err := enc.Encode(map[string]queuedItem{"queued": qi}); err != nil {
			return errors.Wrap(err, "write queue")
		}
	}
	return nil
}

// decodeLine keeps event numbers as json.Number so 64-bit IDs are not
// rounded through float64.
func decodeLine(text string, l *line) error {
	dec := json.NewDecoder(strings.NewReader(text))
	dec.UseNumber()
	return dec.Decode(l)
}

// step moves the clock to the line's time. The clock never runs backwards.
func step(clock *core.ManualClock, l line) {
	at := l.At
	if at == 0 && l.Ts != "" {
		if ms, ok := core.ParseISO(l.Ts); ok {
			at = ms
		}
	}
	if at > clock.NowMs() {
		clock.Set(at)
	}
}
