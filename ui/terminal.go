// Package ui renders engine output to a terminal.
package ui

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/mattn/go-isatty"

	"weatherwise/app"
	"weatherwise/internal/logger"
	"weatherwise/weather"
)

// DefaultBannerDuration is how long an auto-dismissing banner stays up.
const DefaultBannerDuration = 8 * time.Second

const (
	ansiReset  = "\033[0m"
	ansiBold   = "\033[1m"
	ansiDim    = "\033[2m"
	ansiRed    = "\033[31m"
	ansiGreen  = "\033[32m"
	ansiYellow = "\033[33m"
	ansiBlue   = "\033[34m"
)

// Banner is the banner currently on screen.
type Banner struct {
	Kind        app.BannerKind
	Message     string
	AutoDismiss bool
	Shown       time.Time
}

// Terminal is an app.Renderer writing plain text.
type Terminal struct {
	out            io.Writer
	color          bool
	bannerDuration time.Duration
	now            func() time.Time

	mu        sync.Mutex
	banner    *Banner
	timer     *time.Timer
	bannerSeq uint64
	loading   bool
}

// Option configures a Terminal.
type Option func(*Terminal)

// WithColor forces ANSI colors on or off.
func WithColor(on bool) Option {
	return func(t *Terminal) { t.color = on }
}

// WithBannerDuration sets the auto-dismiss window.
func WithBannerDuration(d time.Duration) Option {
	return func(t *Terminal) {
		if d > 0 {
			t.bannerDuration = d
		}
	}
}

// WithClock replaces time.Now for relative timestamps.
func WithClock(now func() time.Time) Option {
	return func(t *Terminal) { t.now = now }
}

// NewTerminal returns a renderer writing to out. Colors default to on when
// out is a terminal.
func NewTerminal(out io.Writer, opts ...Option) *Terminal {
	t := &Terminal{
		out:            out,
		color:          isTerminal(out),
		bannerDuration: DefaultBannerDuration,
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

func (t *Terminal) ShowLoading() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.loading = true
	fmt.Fprintln(t.out, t.paint(ansiDim, "Loading weather..."))
}

func (t *Terminal) ShowError(title, message string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.loading = false
	fmt.Fprintf(t.out, "%s\n%s\n%s\n",
		t.paint(ansiBold+ansiRed, title),
		message,
		t.paint(ansiDim, "Run 'weatherwise retry' to try again."))
}

func (t *Terminal) RenderResult(r app.Result) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.loading = false
	fmt.Fprint(t.out, t.format(r))
}

func (t *Terminal) ShowBanner(kind app.BannerKind, message string, autoDismiss bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.stopTimerLocked()
	t.bannerSeq++
	t.banner = &Banner{Kind: kind, Message: message, AutoDismiss: autoDismiss, Shown: t.now()}
	if autoDismiss {
		seq := t.bannerSeq
		t.timer = time.AfterFunc(t.bannerDuration, func() { t.expire(seq) })
	}
	fmt.Fprintln(t.out, t.paint(bannerColor(kind), bannerPrefix(kind)+message))
}

func (t *Terminal) HideBanner() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopTimerLocked()
	t.banner = nil
}

// CurrentBanner returns the banner still on screen, if any.
func (t *Terminal) CurrentBanner() (Banner, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.banner == nil {
		return Banner{}, false
	}
	return *t.banner, true
}

// Loading reports whether the loading state is showing.
func (t *Terminal) Loading() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.loading
}

// Close cancels a pending auto-dismiss.
func (t *Terminal) Close() {
	t.HideBanner()
}

func (t *Terminal) expire(seq uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	// A newer banner replaced this one while the timer was firing.
	if seq != t.bannerSeq || t.banner == nil {
		return
	}
	logger.Debug("Banner dismissed: %s", t.banner.Message)
	t.banner = nil
	t.timer = nil
}

func (t *Terminal) stopTimerLocked() {
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
}

func (t *Terminal) format(r app.Result) string {
	var b strings.Builder
	c := r.Snapshot.Current
	tempSym := r.Units.TemperatureSymbol()

	title := r.Location.Label()
	if r.Favorite {
		title += " ★"
	}
	b.WriteString(t.paint(ansiBold, title))
	b.WriteByte('\n')

	fmt.Fprintf(&b, "%s %s  %s (feels like %s)\n",
		weather.ConditionIcon(c.WeatherCode, c.IsDay == 1),
		weather.ConditionLabel(c.WeatherCode),
		formatTemp(c.Temperature, r.Units, tempSym),
		formatTemp(c.ApparentTemperature, r.Units, tempSym))
	fmt.Fprintf(&b, "Wind %.0f %s %s · Humidity %.0f%%\n",
		weather.ConvertSpeed(c.WindSpeed, r.Units), r.Units.SpeedSymbol(),
		weather.WindDirection(c.WindDirection), c.Humidity)

	updated := "Updated " + t.updatedLabel(r.StoredAt)
	if r.Cached {
		updated += " (cached)"
	}
	b.WriteString(t.paint(ansiDim, updated))
	b.WriteByte('\n')

	days := r.Snapshot.Daily.Days()
	if len(days) > 0 {
		b.WriteByte('\n')
	}
	for _, d := range days {
		fmt.Fprintf(&b, "%-10s %s %-22s %s / %s\n",
			dayLabel(d.Date),
			weather.ConditionIcon(d.WeatherCode, true),
			weather.ConditionLabel(d.WeatherCode),
			formatTemp(d.Max, r.Units, "°"),
			formatTemp(d.Min, r.Units, "°"))
	}
	return b.String()
}

func (t *Terminal) updatedLabel(at time.Time) string {
	if at.IsZero() {
		return "just now"
	}
	if t.now().Sub(at) < time.Minute {
		return "just now"
	}
	return humanize.RelTime(at, t.now(), "ago", "from now")
}

func (t *Terminal) paint(code, s string) string {
	if !t.color {
		return s
	}
	return code + s + ansiReset
}

func formatTemp(celsius float64, u weather.Units, symbol string) string {
	return fmt.Sprintf("%.0f%s", weather.ConvertTemperature(celsius, u), symbol)
}

// dayLabel turns "2026-10-19" into "Mon 19 Oct".
func dayLabel(date string) string {
	d, err := time.Parse("2006-01-02", date)
	if err != nil {
		return date
	}
	return d.Format("Mon 02 Jan")
}

func bannerPrefix(kind app.BannerKind) string {
	switch kind {
	case app.BannerSuccess:
		return "✓ "
	case app.BannerWarning:
		return "! "
	case app.BannerError:
		return "✗ "
	}
	return "i "
}

func bannerColor(kind app.BannerKind) string {
	switch kind {
	case app.BannerSuccess:
		return ansiGreen
	case app.BannerWarning:
		return ansiYellow
	case app.BannerError:
		return ansiRed
	}
	return ansiBlue
}
