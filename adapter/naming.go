package adapter

import (
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ExpandName fills the placeholders of a file name pattern used by the
// file-like receivers: ${timestamp} (unix millis), ${datetime}
// (20060102_150405), ${date}, ${time}, ${uuid} and ${header.<name>} taken
// from the message headers. Unknown placeholders are left as they are.
func ExpandName(pattern string, now time.Time, headers map[string]string) string {
	r := strings.NewReplacer(
		"${timestamp}", strconv.FormatInt(now.UnixMilli(), 10),
		"${datetime}", now.Format("20060102_150405"),
		"${date}", now.Format("20060102"),
		"${time}", now.Format("150405"),
	)
	out := r.Replace(pattern)
	if strings.Contains(out, "${uuid}") {
		out = strings.ReplaceAll(out, "${uuid}", uuid.NewString())
	}
	for k, v := range headers {
		out = strings.ReplaceAll(out, "${header."+k+"}", v)
	}
	return out
}

// DefaultFileName is used when a receiver has no name pattern
func DefaultFileName(now time.Time) string {
	return "message_" + now.Format("20060102_150405") + "_" + uuid.NewString()[:8] + ".dat"
}
