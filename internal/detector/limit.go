package detector

import (
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

const (
	LimitSuspended = "暂停"
	LimitUnlimited = "不限"
	LimitCapped    = "限额"

	// NoLimitText is shown when a fund has no limit information.
	NoLimitText = "—"
)

var limitPattern = regexp.MustCompile(`限([\d.]+)(万|亿)?`)

var (
	tenThousand    = decimal.NewFromInt(10_000)
	hundredMillion = decimal.NewFromInt(100_000_000)
)

// ParseLimit converts a purchase-limit descriptor into yuan.
// Suspended and unknown texts yield 0, unlimited yields -1.
func ParseLimit(text string) int64 {
	if text == "" || text == NoLimitText {
		return 0
	}
	if strings.Contains(text, LimitSuspended) {
		return 0
	}
	if strings.Contains(text, LimitUnlimited) {
		return -1
	}
	m := limitPattern.FindStringSubmatch(text)
	if m == nil {
		return 0
	}
	v, err := decimal.NewFromString(m[1])
	if err != nil {
		return 0
	}
	switch m[2] {
	case "万":
		v = v.Mul(tenThousand)
	case "亿":
		v = v.Mul(hundredMillion)
	}
	return v.IntPart()
}

// LimitStatus classifies a limit descriptor.
func LimitStatus(text string) string {
	switch {
	case strings.Contains(text, LimitSuspended):
		return LimitSuspended
	case strings.Contains(text, LimitUnlimited):
		return LimitUnlimited
	case limitPattern.MatchString(text):
		return LimitCapped
	}
	return ""
}
