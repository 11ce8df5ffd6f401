package containerdriver

import (
	"fmt"
	"strconv"
	"strings"
)

const (
	cpuPeriod = uint64(100000)
)

// cpuQuotaPeriod converts a cores figure into containerd's CFS quota/period
// pair: quota = cpus * period, with period fixed at 100ms.
func cpuQuotaPeriod(cpus float64) (quota int64, period uint64) {
	return int64(cpus * float64(cpuPeriod)), cpuPeriod
}

// parseMemoryString converts a Docker-style memory string ("512m", "1g",
// "2gb", or a bare byte count) into bytes. An empty string means "no limit"
// and returns 0.
func parseMemoryString(memory string) (uint64, error) {
	memory = strings.ToLower(strings.TrimSpace(memory))
	if memory == "" {
		return 0, nil
	}

	var unit uint64 = 1
	var numeric string

	switch {
	case strings.HasSuffix(memory, "kb"):
		unit = 1024
		numeric = memory[:len(memory)-2]
	case strings.HasSuffix(memory, "k"):
		unit = 1024
		numeric = memory[:len(memory)-1]
	case strings.HasSuffix(memory, "mb"):
		unit = 1024 * 1024
		numeric = memory[:len(memory)-2]
	case strings.HasSuffix(memory, "m"):
		unit = 1024 * 1024
		numeric = memory[:len(memory)-1]
	case strings.HasSuffix(memory, "gb"):
		unit = 1024 * 1024 * 1024
		numeric = memory[:len(memory)-2]
	case strings.HasSuffix(memory, "g"):
		unit = 1024 * 1024 * 1024
		numeric = memory[:len(memory)-1]
	default:
		numeric = memory
	}

	value, err := strconv.ParseUint(strings.TrimSpace(numeric), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid memory string %q: %w", memory, err)
	}
	return value * unit, nil
}
