// Package compact decides when a chain's log should be compacted.
package compact

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Kind names a compaction trigger.
type Kind uint8

const (
	KindNever Kind = iota
	KindModified
	KindTimer
	KindGrowthFactor
	KindGrowthSize
	KindGrowthFactorOrTimer
	KindGrowthSizeOrTimer
)

var kindNames = map[Kind]string{
	KindNever:               "never",
	KindModified:            "modified",
	KindTimer:               "timer",
	KindGrowthFactor:        "growth-factor",
	KindGrowthSize:          "growth-size",
	KindGrowthFactorOrTimer: "growth-factor-or-timer",
	KindGrowthSizeOrTimer:   "growth-size-or-timer",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// MinBaseSize is the size a never-compacted log is measured against, so
// growth modes do not fire on a nearly empty log.
const MinBaseSize int64 = 64 << 10

// Stats is what the policy looks at after a commit.
type Stats struct {
	// Size is the log's current size in bytes.
	Size int64
	// BaseSize is the size right after the last compaction, zero if never.
	BaseSize int64
	// LastCompaction is zero if the log was never compacted.
	LastCompaction time.Time
	// Modified reports events appended since the last compaction.
	Modified bool
	Now      time.Time
}

// Mode is an immutable compaction policy.
type Mode struct {
	kind     Kind
	factor   float64
	growth   int64
	interval time.Duration
}

func Never() Mode                 { return Mode{kind: KindNever} }
func Modified() Mode              { return Mode{kind: KindModified} }
func Timer(d time.Duration) Mode  { return Mode{kind: KindTimer, interval: d} }
func GrowthFactor(r float64) Mode { return Mode{kind: KindGrowthFactor, factor: r} }
func GrowthSize(b int64) Mode     { return Mode{kind: KindGrowthSize, growth: b} }

func GrowthFactorOrTimer(r float64, d time.Duration) Mode {
	return Mode{kind: KindGrowthFactorOrTimer, factor: r, interval: d}
}

func GrowthSizeOrTimer(b int64, d time.Duration) Mode {
	return Mode{kind: KindGrowthSizeOrTimer, growth: b, interval: d}
}

func (m Mode) Kind() Kind { return m.kind }

func (m Mode) usesTimer() bool {
	return m.kind == KindTimer || m.kind == KindGrowthFactorOrTimer || m.kind == KindGrowthSizeOrTimer
}

func (m Mode) usesFactor() bool {
	return m.kind == KindGrowthFactor || m.kind == KindGrowthFactorOrTimer
}

func (m Mode) usesSize() bool {
	return m.kind == KindGrowthSize || m.kind == KindGrowthSizeOrTimer
}

// WithTimerValue replaces the interval of timer modes; other modes are
// returned unchanged.
func (m Mode) WithTimerValue(d time.Duration) Mode {
	if m.usesTimer() {
		m.interval = d
	}
	return m
}

// WithGrowthFactor replaces the ratio of growth-factor modes.
func (m Mode) WithGrowthFactor(r float64) Mode {
	if m.usesFactor() {
		m.factor = r
	}
	return m
}

// WithGrowthSize replaces the byte threshold of growth-size modes.
func (m Mode) WithGrowthSize(b int64) Mode {
	if m.usesSize() {
		m.growth = b
	}
	return m
}

// Interval is the timer period, zero for modes without a timer.
func (m Mode) Interval() time.Duration {
	if m.usesTimer() {
		return m.interval
	}
	return 0
}

// ShouldCompact reports whether st warrants a compaction pass. Nothing is
// ever due on an unmodified log.
func (m Mode) ShouldCompact(st Stats) bool {
	if !st.Modified {
		return false
	}
	switch m.kind {
	case KindModified:
		return true
	case KindTimer:
		return m.timerDue(st)
	case KindGrowthFactor:
		return m.factorDue(st)
	case KindGrowthSize:
		return m.sizeDue(st)
	case KindGrowthFactorOrTimer:
		return m.factorDue(st) || m.timerDue(st)
	case KindGrowthSizeOrTimer:
		return m.sizeDue(st) || m.timerDue(st)
	default:
		return false
	}
}

func (m Mode) timerDue(st Stats) bool {
	if m.interval <= 0 {
		return false
	}
	if st.LastCompaction.IsZero() {
		return false
	}
	return st.Now.Sub(st.LastCompaction) >= m.interval
}

func base(st Stats) int64 {
	if st.BaseSize < MinBaseSize {
		return MinBaseSize
	}
	return st.BaseSize
}

func (m Mode) factorDue(st Stats) bool {
	if m.factor <= 1 {
		return false
	}
	return float64(st.Size) >= m.factor*float64(base(st))
}

func (m Mode) sizeDue(st Stats) bool {
	if m.growth <= 0 {
		return false
	}
	return st.Size-st.BaseSize >= m.growth
}

// String renders the mode in the form ParseMode accepts.
func (m Mode) String() string {
	switch m.kind {
	case KindTimer:
		return fmt.Sprintf("timer:%s", m.interval)
	case KindGrowthFactor:
		return fmt.Sprintf("growth-factor:%s", formatFactor(m.factor))
	case KindGrowthSize:
		return fmt.Sprintf("growth-size:%d", m.growth)
	case KindGrowthFactorOrTimer:
		return fmt.Sprintf("growth-factor-or-timer:%s,%s", formatFactor(m.factor), m.interval)
	case KindGrowthSizeOrTimer:
		return fmt.Sprintf("growth-size-or-timer:%d,%s", m.growth, m.interval)
	default:
		return m.kind.String()
	}
}

func formatFactor(f float64) string { return strconv.FormatFloat(f, 'g', -1, 64) }

// ParseMode parses "never", "modified", "timer:1h", "growth-factor:2",
// "growth-size:64MiB", "growth-factor-or-timer:2,1h" or
// "growth-size-or-timer:64MiB,1h".
func ParseMode(s string) (Mode, error) {
	name, args, _ := strings.Cut(strings.ToLower(strings.TrimSpace(s)), ":")
	parts := []string{}
	if args != "" {
		parts = strings.Split(args, ",")
	}
	want := func(n int) error {
		if len(parts) != n {
			return fmt.Errorf("compact: mode %q takes %d argument(s)", name, n)
		}
		return nil
	}
	switch name {
	case "", "never":
		return Never(), nil
	case "modified":
		return Modified(), nil
	case "timer":
		if err := want(1); err != nil {
			return Mode{}, err
		}
		d, err := parseDuration(parts[0])
		return Timer(d), err
	case "growth-factor":
		if err := want(1); err != nil {
			return Mode{}, err
		}
		r, err := parseFactor(parts[0])
		return GrowthFactor(r), err
	case "growth-size":
		if err := want(1); err != nil {
			return Mode{}, err
		}
		b, err := ParseBytes(parts[0])
		return GrowthSize(b), err
	case "growth-factor-or-timer":
		if err := want(2); err != nil {
			return Mode{}, err
		}
		r, err := parseFactor(parts[0])
		if err != nil {
			return Mode{}, err
		}
		d, err := parseDuration(parts[1])
		return GrowthFactorOrTimer(r, d), err
	case "growth-size-or-timer":
		if err := want(2); err != nil {
			return Mode{}, err
		}
		b, err := ParseBytes(parts[0])
		if err != nil {
			return Mode{}, err
		}
		d, err := parseDuration(parts[1])
		return GrowthSizeOrTimer(b, d), err
	}
	return Mode{}, fmt.Errorf("compact: unknown mode %q", s)
}

func parseDuration(s string) (time.Duration, error) {
	d, err := time.ParseDuration(strings.TrimSpace(s))
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("compact: invalid interval %q", s)
	}
	return d, nil
}

func parseFactor(s string) (float64, error) {
	r, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || r <= 1 {
		return 0, fmt.Errorf("compact: growth factor %q must be a number above 1", s)
	}
	return r, nil
}

var byteUnits = []struct {
	suffix string
	mult   int64
}{
	{"gib", 1 << 30}, {"mib", 1 << 20}, {"kib", 1 << 10},
	{"gb", 1_000_000_000}, {"mb", 1_000_000}, {"kb", 1_000},
	{"b", 1},
}

// ParseBytes parses a byte count with an optional KiB/MiB/GiB or KB/MB/GB
// suffix.
func ParseBytes(s string) (int64, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	mult := int64(1)
	for _, u := range byteUnits {
		if strings.HasSuffix(s, u.suffix) {
			s, mult = strings.TrimSpace(strings.TrimSuffix(s, u.suffix)), u.mult
			break
		}
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("compact: invalid size %q", s)
	}
	return n * mult, nil
}

// MarshalText implements encoding.TextMarshaler.
func (m Mode) MarshalText() ([]byte, error) { return []byte(m.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (m *Mode) UnmarshalText(b []byte) error {
	parsed, err := ParseMode(string(b))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}
