package tabular

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// inferKind picks the narrowest kind that every non-empty cell of column j
// parses as. A column with no values is text.
func inferKind(records [][]string, j int) Kind {
	kind := KindInteger
	seen := false
	for _, rec := range records {
		s := strings.TrimSpace(rec[j])
		if s == "" {
			continue
		}
		seen = true
		if kind == KindInteger {
			if _, err := strconv.ParseInt(s, 10, 64); err == nil {
				continue
			}
			kind = KindReal
		}
		if _, ok := parseReal(s); !ok {
			return KindText
		}
	}
	if !seen {
		return KindText
	}
	return kind
}

func parseReal(s string) (float64, bool) {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsInf(f, 0) || math.IsNaN(f) {
		return 0, false
	}
	return f, true
}

func convert(s string, k Kind) any {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return nil
	}
	switch k {
	case KindInteger:
		v, _ := strconv.ParseInt(trimmed, 10, 64)
		return v
	case KindReal:
		v, _ := parseReal(trimmed)
		return v
	default:
		return s
	}
}

// FormatValue renders a cell for the flattened row document. Whole reals
// keep a trailing ".0" so a real column never reads like an integer one.
func FormatValue(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		s := strconv.FormatFloat(x, 'f', -1, 64)
		if !strings.Contains(s, ".") {
			s += ".0"
		}
		return s
	case string:
		return x
	default:
		return fmt.Sprint(x)
	}
}
