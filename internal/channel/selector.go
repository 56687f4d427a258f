package channel

import (
	"strconv"
	"strings"

	"go.uber.org/zap"
)

const (
	allChannels    = "ALL"
	setDelimiter   = ","
	rangeDelimiter = "-"
)

// SelectorKind classifies a channel selector value.
type SelectorKind int

const (
	SelectSingle SelectorKind = iota
	SelectRange
	SelectSet
	SelectAll
)

func (k SelectorKind) String() string {
	switch k {
	case SelectSingle:
		return "single"
	case SelectRange:
		return "range"
	case SelectSet:
		return "set"
	case SelectAll:
		return "all"
	default:
		return "unknown"
	}
}

// Selector is the parsed form of ALL, n, lo-hi or a,b,c.
type Selector struct {
	Kind SelectorKind
	Raw  string
}

func ParseSelector(value string) Selector {
	kind := SelectSingle
	switch {
	case value == allChannels:
		kind = SelectAll
	case strings.Contains(value, setDelimiter):
		kind = SelectSet
	case strings.Contains(value, rangeDelimiter):
		kind = SelectRange
	}
	return Selector{Kind: kind, Raw: value}
}

// Indices expands the selector against a bank of max channels. The second
// result is false when a single index lies outside [0, max); the list is then
// empty. Entries may still name unused or out of range channels.
func (s Selector) Indices(max int) ([]int, bool) {
	switch s.Kind {
	case SelectAll:
		out := make([]int, max)
		for i := range out {
			out[i] = i
		}
		return out, true

	case SelectSet:
		parts := strings.Split(s.Raw, setDelimiter)
		out := make([]int, 0, len(parts))
		for _, part := range parts {
			n, err := strconv.Atoi(strings.TrimSpace(part))
			if err != nil {
				n = -1
			}
			out = append(out, n)
		}
		return out, true

	case SelectRange:
		lowRaw, highRaw, _ := strings.Cut(s.Raw, rangeDelimiter)
		low, err := strconv.Atoi(lowRaw)
		if err != nil || low <= 0 {
			return []int{0}, true
		}
		high, err := strconv.Atoi(highRaw)
		if err != nil || high <= 0 || high > max {
			high = max
		}
		if high < low {
			return nil, true
		}
		out := make([]int, 0, high-low+1)
		for i := low; i <= high; i++ {
			out = append(out, i)
		}
		return out, true

	default:
		n, err := strconv.Atoi(s.Raw)
		if err != nil || n < 0 || n >= max {
			return nil, false
		}
		return []int{n}, true
	}
}

// Resolve turns a selector value into channel handles in selector order.
// Handles are nil where the channel number is unused or out of range.
func Resolve[T any](reg *Registry[T], value string, logger *zap.Logger) []*T {
	sel := ParseSelector(value)
	indices, ok := sel.Indices(reg.Capacity())
	if !ok {
		logger.Warn("Requested channel number is out of range",
			zap.String("type", string(reg.Type())),
			zap.String("selector", value))
		return nil
	}

	out := make([]*T, len(indices))
	for i, n := range indices {
		out[i] = reg.Get(n)
	}
	return out
}

// Populated drops the nil handles from a resolved list.
func Populated[T any](list []*T) []*T {
	out := make([]*T, 0, len(list))
	for _, ch := range list {
		if ch != nil {
			out = append(out, ch)
		}
	}
	return out
}
