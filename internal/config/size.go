package config

import (
	"fmt"
	"strconv"
	"strings"
)

// ByteSize is a size in bytes read from values such as "50MB", "512 KB" or
// "1048576". Units are binary: 1KB is 1024 bytes.
type ByteSize int64

var sizeUnits = []struct {
	suffix string
	mult   int64
}{
	// Longer suffixes first so "MB" is not read as "B".
	{"kib", 1 << 10}, {"mib", 1 << 20}, {"gib", 1 << 30},
	{"kb", 1 << 10}, {"mb", 1 << 20}, {"gb", 1 << 30},
	{"k", 1 << 10}, {"m", 1 << 20}, {"g", 1 << 30},
	{"b", 1},
}

// ParseByteSize parses s into a ByteSize.
func ParseByteSize(s string) (ByteSize, error) {
	v := strings.ToLower(strings.TrimSpace(s))
	if v == "" {
		return 0, fmt.Errorf("empty size")
	}

	mult := int64(1)
	for _, u := range sizeUnits {
		if strings.HasSuffix(v, u.suffix) {
			mult = u.mult
			v = strings.TrimSpace(strings.TrimSuffix(v, u.suffix))
			break
		}
	}

	if n, err := strconv.ParseInt(v, 10, 64); err == nil {
		if n < 0 {
			return 0, fmt.Errorf("negative size %q", s)
		}
		return ByteSize(n * mult), nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid size %q", s)
	}
	if f < 0 {
		return 0, fmt.Errorf("negative size %q", s)
	}
	return ByteSize(f * float64(mult)), nil
}

// Bytes returns the size as an int64.
func (b ByteSize) Bytes() int64 { return int64(b) }

// String formats b with the largest unit that divides it evenly.
func (b ByteSize) String() string {
	switch {
	case b == 0:
		return "0B"
	case b%(1<<30) == 0:
		return strconv.FormatInt(int64(b>>30), 10) + "GB"
	case b%(1<<20) == 0:
		return strconv.FormatInt(int64(b>>20), 10) + "MB"
	case b%(1<<10) == 0:
		return strconv.FormatInt(int64(b>>10), 10) + "KB"
	default:
		return strconv.FormatInt(int64(b), 10) + "B"
	}
}
