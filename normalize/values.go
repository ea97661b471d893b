// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package normalize

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// nullTokens are placeholder strings source exports use for "no value".
var nullTokens = map[string]bool{
	"":     true,
	".":    true,
	"-":    true,
	"NULL": true,
	"NONE": true,
	"NIL":  true,
	"N/A":  true,
	"NA":   true,
	"NAN":  true,
	"#N/A": true,
}

// isNullToken reports whether s, already trimmed, stands for a missing value.
func isNullToken(s string) bool {
	return nullTokens[strings.ToUpper(s)]
}

// stringOf renders a raw value as text without losing precision.
func stringOf(v interface{}) string {
	switch vt := v.(type) {
	case nil:
		return ""
	case string:
		return vt
	case []byte:
		return string(vt)
	case json.Number:
		return vt.String()
	case float64:
		return strconv.FormatFloat(vt, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(vt), 'f', -1, 32)
	case int:
		return strconv.Itoa(vt)
	case int64:
		return strconv.FormatInt(vt, 10)
	case int32:
		return strconv.FormatInt(int64(vt), 10)
	case uint64:
		return strconv.FormatUint(vt, 10)
	case bool:
		return strconv.FormatBool(vt)
	default:
		b, err := json.Marshal(vt)
		if err != nil {
			return ""
		}
		return string(b)
	}
}

// Numeric coerces v to a float64. Missing, placeholder and unparseable
// values become 0: empty numeric means zero. Thousands separators and a
// leading currency sign are dropped, and accounting negatives such as
// "(1,200)" are read as -1200.
func Numeric(v interface{}) float64 {
	var f float64
	switch vt := v.(type) {
	case float64:
		f = vt
	case float32:
		f = float64(vt)
	case int:
		f = float64(vt)
	case int64:
		f = float64(vt)
	case int32:
		f = float64(vt)
	case uint64:
		f = float64(vt)
	default:
		f = parseNumeric(stringOf(v))
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	return f
}

func parseNumeric(s string) float64 {
	s = strings.TrimSpace(s)
	if isNullToken(s) {
		return 0
	}
	negative := false
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		negative = true
		s = strings.TrimSpace(s[1 : len(s)-1])
	}
	s = strings.ReplaceAll(s, ",", "")
	if strings.HasPrefix(s, "-$") {
		negative = !negative
		s = s[2:]
	}
	s = strings.TrimPrefix(s, "$")
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	if negative {
		f = -f
	}
	return f
}

// Integer coerces v to an int64. Integral text is parsed exactly; other
// values are coerced like Numeric and truncated toward zero. Values outside
// the int64 range become 0.
func Integer(v interface{}) int64 {
	switch vt := v.(type) {
	case int64:
		return vt
	case int:
		return int64(vt)
	case int32:
		return int64(vt)
	case uint64:
		if vt > math.MaxInt64 {
			return 0
		}
		return int64(vt)
	case float64, float32:
	default:
		if n, ok := ParseInteger(stringOf(v)); ok {
			return n
		}
	}
	f := math.Trunc(Numeric(v))
	if f >= math.MaxInt64 || f < math.MinInt64 {
		return 0
	}
	return int64(f)
}

// ParseInteger parses integral text exactly: thousands separators and a
// fraction of only zeros ("1024.00") are allowed. It fails on anything
// else, including values that overflow int64.
func ParseInteger(s string) (int64, bool) {
	s = strings.ReplaceAll(strings.TrimSpace(s), ",", "")
	if i := strings.IndexByte(s, '.'); i >= 0 {
		if strings.Trim(s[i+1:], "0") != "" {
			return 0, false
		}
		s = s[:i]
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// Text trims v, collapses runs of whitespace (newlines included) to a
// single space and escapes quotes for the destination format.
func Text(v interface{}, escape Escape) string {
	s := strings.Join(strings.Fields(stringOf(v)), " ")
	switch escape {
	case EscapeSQL:
		s = strings.ReplaceAll(s, "'", "''")
	case EscapeCSV:
		s = strings.ReplaceAll(s, `"`, `""`)
	}
	return s
}
