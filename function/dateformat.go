package function

import (
	"fmt"
	"strings"
	"time"
)

// javaTokens maps date pattern letters to Go layout fragments, longest first.
var javaTokens = []struct{ java, layout string }{
	{"yyyy", "2006"}, {"yy", "06"},
	{"MMMM", "January"}, {"MMM", "Jan"}, {"MM", "01"}, {"M", "1"},
	{"dd", "02"}, {"d", "2"},
	{"EEEE", "Monday"}, {"EEE", "Mon"}, {"E", "Mon"},
	{"HH", "15"}, {"hh", "03"}, {"h", "3"},
	{"mm", "04"}, {"m", "4"},
	{"ss", "05"}, {"s", "5"},
	{"SSS", "000"}, {"SS", "00"}, {"S", "0"},
	{"a", "PM"},
	{"XXX", "Z07:00"}, {"XX", "Z0700"}, {"X", "Z07"},
	{"ZZZ", "-0700"}, {"Z", "-0700"}, {"z", "MST"},
}

// Layout converts a date pattern such as "yyyy-MM-dd'T'HH:mm:ss" into a Go
// time layout. Text in single quotes is copied literally.
func Layout(pattern string) string {
	var b strings.Builder
	for i := 0; i < len(pattern); {
		c := pattern[i]
		if c == '\'' {
			end := strings.IndexByte(pattern[i+1:], '\'')
			if end < 0 {
				b.WriteString(pattern[i+1:])
				break
			}
			if end == 0 {
				b.WriteByte('\'')
			} else {
				b.WriteString(pattern[i+1 : i+1+end])
			}
			i += end + 2
			continue
		}
		matched := false
		for _, tok := range javaTokens {
			if strings.HasPrefix(pattern[i:], tok.java) {
				b.WriteString(tok.layout)
				i += len(tok.java)
				matched = true
				break
			}
		}
		if !matched {
			b.WriteByte(c)
			i++
		}
	}
	return b.String()
}

// FormatDate parses value with inputPattern and formats it with
// outputPattern. An empty input pattern accepts RFC 3339 and yyyy-MM-dd.
func FormatDate(value, inputPattern, outputPattern string) (string, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", nil
	}
	var (
		t   time.Time
		err error
	)
	if inputPattern == "" {
		t, err = time.Parse(time.RFC3339, value)
		if err != nil {
			t, err = time.Parse("2006-01-02", value)
		}
	} else {
		t, err = time.Parse(Layout(inputPattern), value)
	}
	if err != nil {
		return "", fmt.Errorf("cannot parse date %q: %w", value, err)
	}
	if outputPattern == "" {
		return t.Format(time.RFC3339), nil
	}
	return t.Format(Layout(outputPattern)), nil
}
