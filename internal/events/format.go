package events

import (
	"fmt"
	"strconv"
	"strings"
)

func quoteIfSpaced(s string) string {
	if strings.ContainsAny(s, " \t") {
		return strconv.Quote(s)
	}
	return s
}

func formatDetail(v any) string {
	switch t := v.(type) {
	case string:
		return quoteIfSpaced(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case fmt.Stringer:
		return quoteIfSpaced(t.String())
	}
	return fmt.Sprintf("%v", v)
}
