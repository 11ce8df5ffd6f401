package containerdriver

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMemoryString(t *testing.T) {
	cases := []struct {
		in   string
		want uint64
	}{
		{"", 0},
		{"512", 512},
		{"512k", 512 * 1024},
		{"512kb", 512 * 1024},
		{"256m", 256 * 1024 * 1024},
		{"256mb", 256 * 1024 * 1024},
		{"1g", 1024 * 1024 * 1024},
		{"2gb", 2 * 1024 * 1024 * 1024},
		{"  1G  ", 1024 * 1024 * 1024},
	}
	for _, c := range cases {
		got, err := parseMemoryString(c.in)
		require.NoError(t, err, c.in)
		assert.Equal(t, c.want, got, c.in)
	}
}

func TestParseMemoryString_Invalid(t *testing.T) {
	_, err := parseMemoryString("lots")
	assert.Error(t, err)
}

func TestCPUQuotaPeriod(t *testing.T) {
	quota, period := cpuQuotaPeriod(1.5)
	assert.Equal(t, int64(150000), quota)
	assert.Equal(t, uint64(100000), period)
}
