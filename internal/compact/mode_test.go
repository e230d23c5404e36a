package compact

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNeverAndModified(t *testing.T) {
	st := Stats{Size: 1 << 30, Modified: true}
	assert.False(t, Never().ShouldCompact(st))
	assert.True(t, Modified().ShouldCompact(st))
	st.Modified = false
	assert.False(t, Modified().ShouldCompact(st))
}

func TestTimer(t *testing.T) {
	now := time.Unix(10_000, 0)
	m := Timer(time.Hour)
	assert.False(t, m.ShouldCompact(Stats{Modified: true, Now: now, LastCompaction: now.Add(-time.Minute)}))
	assert.True(t, m.ShouldCompact(Stats{Modified: true, Now: now, LastCompaction: now.Add(-2 * time.Hour)}))
	assert.Equal(t, time.Hour, m.Interval())
}

func TestGrowthFactor(t *testing.T) {
	m := GrowthFactor(2)
	assert.False(t, m.ShouldCompact(Stats{Modified: true, BaseSize: 1 << 20, Size: 3 << 19}))
	assert.True(t, m.ShouldCompact(Stats{Modified: true, BaseSize: 1 << 20, Size: 2 << 20}))
	// A never-compacted log is measured against MinBaseSize.
	assert.False(t, m.ShouldCompact(Stats{Modified: true, Size: MinBaseSize}))
	assert.True(t, m.ShouldCompact(Stats{Modified: true, Size: 2 * MinBaseSize}))
}

func TestGrowthSizeOrTimer(t *testing.T) {
	now := time.Unix(10_000, 0)
	m := GrowthSizeOrTimer(1<<20, time.Hour)
	assert.True(t, m.ShouldCompact(Stats{Modified: true, BaseSize: 10, Size: 10 + 1<<20, Now: now, LastCompaction: now}))
	assert.True(t, m.ShouldCompact(Stats{Modified: true, Now: now, LastCompaction: now.Add(-time.Hour)}))
	assert.False(t, m.ShouldCompact(Stats{Modified: true, Now: now, LastCompaction: now}))
}

func TestSettersOnlyTouchUsedParameters(t *testing.T) {
	assert.Equal(t, Modified(), Modified().WithTimerValue(time.Hour))
	assert.Equal(t, GrowthSize(5), GrowthSize(5).WithGrowthFactor(3))
	assert.Equal(t, GrowthFactorOrTimer(3, time.Minute), GrowthFactorOrTimer(2, time.Minute).WithGrowthFactor(3))
	assert.Equal(t, GrowthSizeOrTimer(5, time.Hour), GrowthSizeOrTimer(5, time.Minute).WithTimerValue(time.Hour))
	assert.Equal(t, time.Duration(0), GrowthSize(5).Interval())
}

func TestParseMode(t *testing.T) {
	cases := map[string]Mode{
		"":                            Never(),
		"never":                       Never(),
		"Modified":                    Modified(),
		"timer:30m":                   Timer(30 * time.Minute),
		"growth-factor:2.5":           GrowthFactor(2.5),
		"growth-size:64MiB":           GrowthSize(64 << 20),
		"growth-factor-or-timer:2,1h": GrowthFactorOrTimer(2, time.Hour),
		"growth-size-or-timer:1mb,1h": GrowthSizeOrTimer(1_000_000, time.Hour),
	}
	for in, want := range cases {
		got, err := ParseMode(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)

		again, err := ParseMode(got.String())
		require.NoError(t, err, got.String())
		assert.Equal(t, got, again)
	}

	for _, bad := range []string{"sometimes", "timer", "timer:-1s", "growth-factor:1", "growth-size:x", "growth-size-or-timer:1mb"} {
		_, err := ParseMode(bad)
		assert.Error(t, err, bad)
	}
}

func TestModeText(t *testing.T) {
	var m Mode
	require.NoError(t, m.UnmarshalText([]byte("timer:1h")))
	assert.Equal(t, Timer(time.Hour), m)
	b, err := m.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "timer:1h0m0s", string(b))
}
