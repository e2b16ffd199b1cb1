package templates

import (
	"encoding/json"
	"fmt"
	"html"
	"regexp"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Date layouts accepted by the date and datetime filters when the value
// arrives as a string instead of a time.Time.
var timeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02",
}

var slugPattern = regexp.MustCompile(`[^a-z0-9]+`)

func builtinFilters() map[string]FilterFunc {
	return map[string]FilterFunc{
		"upper": func(v any, _ ...any) (any, error) {
			return strings.ToUpper(stringify(v)), nil
		},
		"lower": func(v any, _ ...any) (any, error) {
			return strings.ToLower(stringify(v)), nil
		},
		"title": func(v any, _ ...any) (any, error) {
			return cases.Title(language.English).String(stringify(v)), nil
		},
		"strip": func(v any, _ ...any) (any, error) {
			return strings.TrimSpace(stringify(v)), nil
		},
		"escape": func(v any, _ ...any) (any, error) {
			return html.EscapeString(stringify(v)), nil
		},
		"default":  filterDefault,
		"date":     filterDate,
		"datetime": filterDatetime,
		"currency": filterCurrency,
		"number":   filterNumber,
		"truncate": filterTruncate,
		"json": func(v any, _ ...any) (any, error) {
			raw, err := json.Marshal(v)
			if err != nil {
				return nil, err
			}
			return string(raw), nil
		},
		"nl2br": func(v any, _ ...any) (any, error) {
			return strings.ReplaceAll(stringify(v), "\n", "<br>"), nil
		},
		"slugify": func(v any, _ ...any) (any, error) {
			s := slugPattern.ReplaceAllString(strings.ToLower(stringify(v)), "-")
			return strings.Trim(s, "-"), nil
		},
	}
}

// filterDefault substitutes the first argument when the value is falsy.
func filterDefault(v any, args ...any) (any, error) {
	if len(args) == 0 {
		return nil, fmt.Errorf("default filter needs a fallback argument")
	}
	if truthy(v) {
		return v, nil
	}
	return args[0], nil
}

func filterDate(v any, args ...any) (any, error) {
	return formatTime(v, "2006-01-02", args)
}

func filterDatetime(v any, args ...any) (any, error) {
	return formatTime(v, "2006-01-02 15:04", args)
}

func formatTime(v any, layout string, args []any) (any, error) {
	if len(args) > 0 {
		s, ok := args[0].(string)
		if !ok {
			return nil, fmt.Errorf("time layout must be a string")
		}
		layout = s
	}
	if !truthy(v) {
		return "", nil
	}
	t, ok := toTime(v)
	if !ok {
		return nil, fmt.Errorf("cannot interpret %v as a time", v)
	}
	return t.Format(layout), nil
}

func filterCurrency(v any, args ...any) (any, error) {
	symbol := "$"
	if len(args) > 0 {
		s, ok := args[0].(string)
		if !ok {
			return nil, fmt.Errorf("currency symbol must be a string")
		}
		symbol = s
	}
	f, ok := toFloat(v)
	if !ok {
		return nil, fmt.Errorf("cannot interpret %v as a number", v)
	}
	return symbol + groupThousands(strconv.FormatFloat(f, 'f', 2, 64)), nil
}

func filterNumber(v any, _ ...any) (any, error) {
	f, ok := toFloat(v)
	if !ok {
		return nil, fmt.Errorf("cannot interpret %v as a number", v)
	}
	return groupThousands(strconv.FormatFloat(f, 'f', -1, 64)), nil
}

func filterTruncate(v any, args ...any) (any, error) {
	limit := 50
	if len(args) > 0 {
		n, ok := toInt(args[0])
		if !ok || n < 0 {
			return nil, fmt.Errorf("truncate length must be a non-negative integer")
		}
		limit = n
	}
	s := stringify(v)
	runes := []rune(s)
	if len(runes) <= limit {
		return s, nil
	}
	return string(runes[:limit]) + "...", nil
}

// groupThousands inserts comma separators into the integer part of a
// plain decimal string such as "1234567.89".
func groupThousands(s string) string {
	sign := ""
	if strings.HasPrefix(s, "-") {
		sign, s = "-", s[1:]
	}
	intPart, frac, hasFrac := strings.Cut(s, ".")
	var sb strings.Builder
	for i := 0; i < len(intPart); i++ {
		if i > 0 && (len(intPart)-i)%3 == 0 {
			sb.WriteByte(',')
		}
		sb.WriteByte(intPart[i])
	}
	out := sign + sb.String()
	if hasFrac {
		out += "." + frac
	}
	return out
}

func stringify(v any) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	case bool:
		return strconv.FormatBool(s)
	case int:
		return strconv.Itoa(s)
	case int64:
		return strconv.FormatInt(s, 10)
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64)
	case time.Time:
		return s.Format(time.RFC3339)
	case []byte:
		return string(s)
	}
	if raw, err := json.Marshal(v); err == nil {
		return string(raw)
	}
	return fmt.Sprintf("%v", v)
}

// truthy reports whether a context value counts as set: nil, false,
// zero numbers, empty strings and empty collections do not. The string
// sentinels "0", "false", "False" and "None" stay falsy so conditions
// behave the same whether a value arrives typed or stringified.
func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != "" && t != "0" && t != "false" && t != "False" && t != "None"
	case int:
		return t != 0
	case int64:
		return t != 0
	case float64:
		return t != 0
	case []any:
		return len(t) > 0
	case map[string]any:
		return len(t) > 0
	}
	return true
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	}
	return 0, false
}

func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		if n == float64(int(n)) {
			return int(n), true
		}
	}
	return 0, false
}

func toTime(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case string:
		for _, layout := range timeLayouts {
			if parsed, err := time.Parse(layout, t); err == nil {
				return parsed, true
			}
		}
	}
	return time.Time{}, false
}
