package document

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

const (
	// DateTimeLayout is the fixed textual layout for DateTime values; UTC
	// values carry a trailing "Z".
	DateTimeLayout = "2006-01-02T15:04:05.0000000"
	// DateTimeOffsetLayout is the fixed layout for DateTimeOffset values.
	DateTimeOffsetLayout = "2006-01-02T15:04:05.0000000-07:00"

	ticksPerSecond = int64(10_000_000)
	ticksPerMinute = 60 * ticksPerSecond
	ticksPerHour   = 60 * ticksPerMinute
	ticksPerDay    = 24 * ticksPerHour
)

// Invariant renders a scalar the way it is written into the index: booleans
// as "true"/"false", numbers in culture-invariant form, decimals trimmed,
// temporal values in their fixed layouts. Non-scalar kinds render as JSON.
func (v Value) Invariant() string {
	switch v.kind {
	case KindNull, KindMissing, KindExplicitNull, KindEmpty:
		return ""
	case KindBool:
		return strconv.FormatBool(v.flag)
	case KindInt32, KindInt64:
		return strconv.FormatInt(v.i, 10)
	case KindFloat32:
		return FormatFloat(v.f, 32)
	case KindFloat64:
		return FormatFloat(v.f, 64)
	case KindDecimal:
		return TrimDecimal(v.s)
	case KindText:
		return v.s
	case KindDateTime:
		return FormatDateTime(v.t, v.flag)
	case KindDateTimeOffset:
		return v.t.Format(DateTimeOffsetLayout)
	case KindDuration:
		return FormatDuration(time.Duration(v.i))
	case KindBoosted:
		return v.Inner().Invariant()
	case KindPoint:
		return FormatPoint(v.f, v.g)
	}
	b, _ := v.MarshalJSON()
	return string(b)
}

func FormatFloat(f float64, bits int) string {
	switch {
	case math.IsNaN(f):
		return "NaN"
	case math.IsInf(f, 1):
		return "Infinity"
	case math.IsInf(f, -1):
		return "-Infinity"
	}
	return strconv.FormatFloat(f, 'g', -1, bits)
}

func FormatDateTime(t time.Time, utc bool) string {
	s := t.Format(DateTimeLayout)
	if utc {
		s += "Z"
	}
	return s
}

// ParseDateTime accepts both DateTime and DateTimeOffset renderings and
// returns the matching Value.
func ParseDateTime(s string) (Value, error) {
	if strings.HasSuffix(s, "Z") {
		t, err := time.ParseInLocation(DateTimeLayout, strings.TrimSuffix(s, "Z"), time.UTC)
		if err != nil {
			return Value{}, &FormatError{Kind: KindDateTime, Input: s}
		}
		return Value{kind: KindDateTime, t: t, flag: true}, nil
	}
	if t, err := time.ParseInLocation(DateTimeLayout, s, time.UTC); err == nil {
		return Value{kind: KindDateTime, t: t}, nil
	}
	t, err := time.Parse(DateTimeOffsetLayout, s)
	if err != nil {
		return Value{}, &FormatError{Kind: KindDateTimeOffset, Input: s}
	}
	return DateTimeOffset(t), nil
}

// FormatDuration writes a duration as [-][d.]hh:mm:ss[.fffffff].
func FormatDuration(d time.Duration) string {
	ticks := int64(d) / 100
	var sb strings.Builder
	if ticks < 0 {
		sb.WriteByte('-')
		ticks = -ticks
	}
	days := ticks / ticksPerDay
	ticks %= ticksPerDay
	if days > 0 {
		fmt.Fprintf(&sb, "%d.", days)
	}
	hours := ticks / ticksPerHour
	ticks %= ticksPerHour
	minutes := ticks / ticksPerMinute
	ticks %= ticksPerMinute
	seconds := ticks / ticksPerSecond
	frac := ticks % ticksPerSecond
	fmt.Fprintf(&sb, "%02d:%02d:%02d", hours, minutes, seconds)
	if frac > 0 {
		fmt.Fprintf(&sb, ".%07d", frac)
	}
	return sb.String()
}

// ParseDuration is the inverse of FormatDuration.
func ParseDuration(s string) (time.Duration, error) {
	bad := &FormatError{Kind: KindDuration, Input: s}
	neg := strings.HasPrefix(s, "-")
	rest := strings.TrimPrefix(s, "-")

	var days int64
	if dot := strings.IndexByte(rest, '.'); dot >= 0 && dot < strings.IndexByte(rest, ':') {
		n, err := strconv.ParseInt(rest[:dot], 10, 64)
		if err != nil {
			return 0, bad
		}
		days = n
		rest = rest[dot+1:]
	}
	var frac int64
	if dot := strings.IndexByte(rest, '.'); dot >= 0 {
		digits := rest[dot+1:]
		if len(digits) == 0 || len(digits) > 7 {
			return 0, bad
		}
		digits += strings.Repeat("0", 7-len(digits))
		n, err := strconv.ParseInt(digits, 10, 64)
		if err != nil {
			return 0, bad
		}
		frac = n
		rest = rest[:dot]
	}
	parts := strings.Split(rest, ":")
	if len(parts) != 3 {
		return 0, bad
	}
	var hms [3]int64
	for i, p := range parts {
		n, err := strconv.ParseInt(p, 10, 64)
		if err != nil {
			return 0, bad
		}
		hms[i] = n
	}
	ticks := days*ticksPerDay + hms[0]*ticksPerHour + hms[1]*ticksPerMinute + hms[2]*ticksPerSecond + frac
	if neg {
		ticks = -ticks
	}
	return time.Duration(ticks * 100), nil
}

// TrimDecimal removes trailing fractional zeros and a dangling decimal point.
func TrimDecimal(s string) string {
	if !strings.Contains(s, ".") {
		return s
	}
	s = strings.TrimRight(s, "0")
	return strings.TrimSuffix(s, ".")
}

func FormatPoint(lat, lng float64) string {
	return "POINT (" + FormatFloat(lng, 64) + " " + FormatFloat(lat, 64) + ")"
}

// ParsePoint reads the "POINT (lng lat)" rendering produced by FormatPoint.
func ParsePoint(s string) (float64, float64, error) {
	bad := &FormatError{Kind: KindPoint, Input: s}
	body, ok := strings.CutPrefix(s, "POINT (")
	if !ok {
		return 0, 0, bad
	}
	body, ok = strings.CutSuffix(body, ")")
	if !ok {
		return 0, 0, bad
	}
	fields := strings.Fields(body)
	if len(fields) != 2 {
		return 0, 0, bad
	}
	lng, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return 0, 0, bad
	}
	lat, err := strconv.ParseFloat(fields[1], 64)
	if err != nil {
		return 0, 0, bad
	}
	return lat, lng, nil
}

func isDecimalLiteral(s string) bool {
	s = strings.TrimPrefix(strings.TrimPrefix(s, "-"), "+")
	if s == "" {
		return false
	}
	seenDigit, seenDot := false, false
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
			seenDigit = true
		case r == '.' && !seenDot:
			seenDot = true
		default:
			return false
		}
	}
	return seenDigit
}

func parseDecimalFloat(s string) (float64, error) {
	return strconv.ParseFloat(s, 64)
}
