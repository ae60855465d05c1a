package mapper

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
)

var nonNumeric = regexp.MustCompile(`[^0-9.,\-]`)

// asString renders scalar values as text. Lists yield their first element.
func asString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case bool:
		if t {
			return "1"
		}
		return "0"
	case []any:
		if len(t) > 0 {
			return asString(t[0])
		}
		return ""
	case []string:
		if len(t) > 0 {
			return strings.TrimSpace(t[0])
		}
		return ""
	default:
		return strings.TrimSpace(fmt.Sprint(t))
	}
}

// asFloat parses prices like "1.234,56 €", "1,234.56" or "49.90".
func asFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case bool:
		if t {
			return 1, true
		}
		return 0, true
	}

	s := nonNumeric.ReplaceAllString(asString(v), "")
	if s == "" {
		return 0, false
	}

	dot := strings.LastIndexByte(s, '.')
	comma := strings.LastIndexByte(s, ',')
	switch {
	case dot >= 0 && comma >= 0:
		if comma > dot {
			s = strings.ReplaceAll(s, ".", "")
			s = strings.Replace(s, ",", ".", 1)
		} else {
			s = strings.ReplaceAll(s, ",", "")
		}
	case comma >= 0:
		// A single comma followed by one or two digits is a decimal mark.
		if strings.Count(s, ",") == 1 && len(s)-comma-1 <= 2 {
			s = strings.Replace(s, ",", ".", 1)
		} else {
			s = strings.ReplaceAll(s, ",", "")
		}
	case strings.Count(s, ".") > 1:
		s = strings.ReplaceAll(s, ".", "")
	}

	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

func asInt(v any) (int, bool) {
	f, ok := asFloat(v)
	if !ok {
		return 0, false
	}
	return int(math.Round(f)), true
}

// asStringList flattens a value into non-empty strings.
func asStringList(v any) []string {
	var out []string
	switch t := v.(type) {
	case []any:
		for _, e := range t {
			if s := asString(e); s != "" {
				out = append(out, s)
			}
		}
	case []string:
		for _, e := range t {
			if s := strings.TrimSpace(e); s != "" {
				out = append(out, s)
			}
		}
	default:
		if s := asString(t); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func roundPrice(f float64) float64 {
	return math.Round(f*1e6) / 1e6
}

var (
	slugInvalid = regexp.MustCompile(`[^a-z0-9]+`)
	slugFold    = strings.NewReplacer(
		"ä", "ae", "ö", "oe", "ü", "ue", "ß", "ss",
		"à", "a", "á", "a", "â", "a", "ã", "a", "å", "a",
		"ç", "c", "č", "c", "ć", "c",
		"è", "e", "é", "e", "ê", "e", "ë", "e", "ě", "e",
		"ì", "i", "í", "i", "î", "i", "ï", "i",
		"ñ", "n", "ň", "n",
		"ò", "o", "ó", "o", "ô", "o", "õ", "o", "ø", "o",
		"ù", "u", "ú", "u", "û", "u", "ů", "u",
		"ý", "y", "ÿ", "y", "ž", "z", "š", "s", "ř", "r", "ł", "l",
	)
)

// maxSlugLen is PrestaShop's link_rewrite column width.
const maxSlugLen = 128

// Slug derives a link_rewrite from a product name.
func Slug(name string) string {
	s := slugFold.Replace(strings.ToLower(strings.TrimSpace(name)))
	s = strings.Trim(slugInvalid.ReplaceAllString(s, "-"), "-")
	if len(s) > maxSlugLen {
		s = strings.TrimRight(s[:maxSlugLen], "-")
	}
	if s == "" {
		return "product"
	}
	return s
}
