package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"mabletask/tracker/cart"
	"mabletask/tracker/collector"
	"mabletask/tracker/config"
	"mabletask/tracker/consent"
	"mabletask/tracker/enrich"
	"mabletask/tracker/identity"
	"mabletask/tracker/models"
	"mabletask/tracker/session"
	"mabletask/tracker/sink"
)

// maxGap caps the pause between paced samples.
const maxGap = 5 * time.Second

// sample is one line of a recording.
type sample struct {
	Kind           string          `json:"kind"`
	At             time.Time       `json:"at"`
	X              float64         `json:"x"`
	Y              float64         `json:"y"`
	ScrollY        float64         `json:"scroll_y"`
	ScrollHeight   float64         `json:"scroll_height"`
	ViewportHeight float64         `json:"viewport_height"`
	Target         *element        `json:"target"`
	Enter          bool            `json:"enter"`
	Hidden         bool            `json:"hidden"`
	Entry          json.RawMessage `json:"entry"`
}

type element struct {
	Tag     string            `json:"tag"`
	ID      string            `json:"id"`
	Classes []string          `json:"classes"`
	Attrs   map[string]string `json:"attrs"`
	Text    string            `json:"text"`
	Parent  *element          `json:"parent"`
}

func (e *element) toCollector() *collector.Element {
	if e == nil {
		return nil
	}
	return &collector.Element{
		Tag:     e.Tag,
		ID:      e.ID,
		Classes: e.Classes,
		Attrs:   e.Attrs,
		Text:    e.Text,
		Parent:  e.Parent.toCollector(),
	}
}

// collectors is the part of *collector.Set a recording drives.
type collectors interface {
	Scroll(collector.RawScroll)
	Pointer(collector.RawPointer)
	Click(collector.RawClick)
	Hover(collector.RawHover)
	Visibility(collector.RawVisibility)
	Key(collector.RawKey)
	Touch(collector.RawTouch)
	Focus(collector.RawFocus)
	Clipboard(collector.RawClipboard)
}

// apply feeds one sample to the collectors, or to the consent data layer
// for "datalayer" lines.
func apply(set collectors, dl *consent.DataLayer, s sample) error {
	switch s.Kind {
	case "scroll":
		set.Scroll(collector.RawScroll{ScrollY: s.ScrollY, ScrollHeight: s.ScrollHeight, ViewportHeight: s.ViewportHeight, At: s.At})
	case "pointer":
		set.Pointer(collector.RawPointer{X: s.X, Y: s.Y, At: s.At})
	case "click":
		set.Click(collector.RawClick{X: s.X, Y: s.Y, Target: s.Target.toCollector(), At: s.At})
	case "hover":
		set.Hover(collector.RawHover{Target: s.Target.toCollector(), Enter: s.Enter, At: s.At})
	case "visibility":
		set.Visibility(collector.RawVisibility{Hidden: s.Hidden, At: s.At})
	case "key":
		set.Key(collector.RawKey{At: s.At})
	case "touch":
		set.Touch(collector.RawTouch{At: s.At})
	case "focus":
		set.Focus(collector.RawFocus{Target: s.Target.toCollector(), At: s.At})
	case "copy", "paste":
		set.Clipboard(collector.RawClipboard{Paste: s.Kind == "paste", At: s.At})
	case "datalayer":
		return dl.PushJSON(s.Entry)
	default:
		return fmt.Errorf("unknown sample kind %q", s.Kind)
	}
	return nil
}

// clock maps recorded timestamps onto the replay's wall clock so samples
// line up with the session's own timers. Samples without a timestamp are
// stamped with the current time.
type clock struct {
	now    func() time.Time
	offset time.Duration
	last   time.Time
	based  bool
}

func (c *clock) rebase(recorded time.Time) time.Time {
	if recorded.IsZero() {
		return c.now()
	}
	if !c.based {
		c.offset = c.now().Sub(recorded)
		c.based = true
	}
	return recorded.Add(c.offset)
}

// gap is how long to wait before a sample at t when pacing.
func (c *clock) gap(t time.Time) time.Duration {
	defer func() { c.last = t }()
	if c.last.IsZero() || !t.After(c.last) {
		return 0
	}
	return min(t.Sub(c.last), maxGap)
}

type replayOptions struct {
	page    session.Page
	granted bool
	pace    bool
}

func newReplayCmd() *cobra.Command {
	var opts replayOptions
	var tags string

	cmd := &cobra.Command{
		Use:   "replay [file]",
		Short: "Replay recorded samples through a tracked session",
		Long: `Reads JSON lines of interaction samples (from a file, or stdin when no
file or "-" is given) and feeds them to a session for the given page. When
the input ends the session is torn down: session_end is queued, the final
profile is pushed and the queue is flushed to the ingest API.

Each line has a "kind" (scroll, pointer, click, hover, visibility, key,
touch, focus, copy, paste, datalayer) and an optional RFC 3339 "at".`,
		Example: `  tracker replay --url https://shop.example/products/shoe --granted samples.jsonl
  cat samples.jsonl | tracker replay --url https://shop.example/ --pace`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in := io.Reader(os.Stdin)
			if len(args) == 1 && args[0] != "-" {
				f, err := os.Open(args[0])
				if err != nil {
					return err
				}
				defer f.Close()
				in = f
			}
			if tags != "" {
				opts.page.ProductTags = strings.Split(tags, ",")
			}
			return runReplay(cmd.Context(), config.LoadTracker(), opts, in, cmd.OutOrStdout())
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.page.URL, "url", "", "Page URL, including any utm_ parameters")
	f.StringVar(&opts.page.Referrer, "referrer", "", "Document referrer")
	f.StringVar(&opts.page.UserAgent, "user-agent", "Mozilla/5.0 (X11; Linux x86_64)", "User agent string")
	f.StringVar(&opts.page.Platform, "platform", "Linux", "Platform reported by the browser")
	f.IntVar(&opts.page.ScreenWidth, "screen-width", 1920, "Screen width in pixels")
	f.IntVar(&opts.page.ScreenHeight, "screen-height", 1080, "Screen height in pixels")
	f.StringVar(&opts.page.Collection, "collection", "", "Collection being viewed")
	f.StringVar(&tags, "tags", "", "Comma-separated product tags")
	f.StringVar(&opts.page.Currency, "currency", "", "Storefront currency")
	f.StringVar(&opts.page.Language, "language", "en", "Storefront language")
	f.BoolVar(&opts.granted, "granted", false, "Treat analytics consent as already granted")
	f.BoolVar(&opts.pace, "pace", false, "Wait between samples as recorded")
	_ = cmd.MarkFlagRequired("url")

	return cmd
}

type replaySummary struct {
	State   string                   `json:"state"`
	Samples int                      `json:"samples"`
	Pending int                      `json:"pending_events"`
	Dropped int64                    `json:"dropped_samples"`
	Profile *models.BehaviorSnapshot `json:"profile,omitempty"`
}

func runReplay(ctx context.Context, cfg config.Tracker, opts replayOptions, in io.Reader, out io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := openState(cfg.StateDB)
	if err != nil {
		return err
	}
	defer st.Close()

	dl := consent.NewDataLayer()
	if opts.granted {
		dl.Push("consent", "default", map[string]any{consent.StorageKey: "granted"})
	}

	deps := session.Deps{
		Consent:  consent.NewGate(dl, []consent.Feed{dl}, cfg.ConsentPollInterval, cfg.ConsentPollAttempts),
		Identity: identity.NewStore(st.durable, st.ephemeral, cfg.SessionIdleExpiry),
		Sink:     sink.NewHTTP(cfg.SinkURL, cfg.SinkToken),
		Now:      time.Now,
	}
	// A relative cart URL only resolves inside the storefront page.
	if strings.HasPrefix(cfg.CartURL, "http://") || strings.HasPrefix(cfg.CartURL, "https://") {
		deps.Cart = cart.NewHTTPSource(cfg.CartURL)
	}
	if cfg.GeoURL != "" {
		deps.Enricher = enrich.NewHTTPProvider(cfg.GeoURL)
	}

	sessOpts := session.DefaultOptions()
	sessOpts.SnapshotInterval = cfg.SnapshotInterval
	sessOpts.FlushInterval = cfg.FlushInterval
	sessOpts.CartPollInterval = cfg.CartPollInterval
	sessOpts.TeardownTimeout = cfg.TeardownTimeout
	if cfg.MaxQueue > 0 {
		sessOpts.MaxQueue = cfg.MaxQueue
	}
	if cfg.HandshakeAttempts > 0 {
		sessOpts.HandshakeAttempts = uint(cfg.HandshakeAttempts)
	}

	ctrl := session.New(opts.page, deps, sessOpts)
	if err := ctrl.Start(); err != nil {
		return err
	}

	clk := &clock{now: time.Now}
	samples := 0
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		raw := strings.TrimSpace(scanner.Text())
		if raw == "" || strings.HasPrefix(raw, "#") {
			continue
		}
		var s sample
		if err := json.Unmarshal([]byte(raw), &s); err != nil {
			log.Printf("replay: line %d: %v", line, err)
			continue
		}
		s.At = clk.rebase(s.At)
		if opts.pace {
			select {
			case <-time.After(clk.gap(s.At)):
			case <-ctx.Done():
			}
		}
		if ctx.Err() != nil {
			break
		}
		if err := apply(ctrl.Collectors(), dl, s); err != nil {
			log.Printf("replay: line %d: %v", line, err)
			continue
		}
		samples++
	}
	if err := scanner.Err(); err != nil {
		log.Printf("replay: reading samples: %v", err)
	}

	summary := replaySummary{Samples: samples}
	if snap, err := ctrl.Snapshot(); err == nil {
		summary.Profile = &snap
	}
	ctrl.Teardown()
	summary.State = ctrl.State().String()
	summary.Pending = ctrl.Queue().Len()
	summary.Dropped = ctrl.Dropped()

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(summary)
}
