package transform

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// PreferAudioCodec moves the payload type of codec/clockRate to the front of the
// first audio m-line. Only that m-line changes; every other line, including line
// terminators, is returned byte for byte. When several payload types map to the
// codec the first declared one is used. The text is returned unchanged when
// there is no audio section, no matching rtpmap, or the m-line does not list the
// payload type. Applying it twice gives the same result as applying it once.
func PreferAudioCodec(sdp, codec string, clockRate int) string {
	if codec == "" || clockRate <= 0 {
		return sdp
	}

	lines := strings.SplitAfter(sdp, "\n")
	start, end := audioSection(lines)
	if start < 0 {
		return sdp
	}

	rtpmap := regexp.MustCompile(fmt.Sprintf(`(?m)^a=rtpmap:(\d+) (?i:%s)/%d(?:/\d+)?\r?$`,
		regexp.QuoteMeta(codec), clockRate))
	pt, ok := FirstMatch(rtpmap, strings.Join(lines[start+1:end], ""))
	if !ok {
		return sdp
	}

	mline, ok := reorderFormats(lines[start], pt)
	if !ok {
		return sdp
	}
	lines[start] = mline
	return strings.Join(lines, "")
}

// audioSection returns the index of the first m=audio line and the index of the
// line ending its section, or -1 when there is none.
func audioSection(lines []string) (int, int) {
	start := -1
	for i, line := range lines {
		if start < 0 {
			if strings.HasPrefix(line, "m=audio ") {
				start = i
			}
			continue
		}
		if strings.HasPrefix(line, "m=") {
			return start, i
		}
	}
	return start, len(lines)
}

// reorderFormats rewrites "m=audio <port> <proto> <fmt>..." so pt is the first
// format. The line terminator is preserved.
func reorderFormats(line, pt string) (string, bool) {
	body := strings.TrimRight(line, "\r\n")
	eol := line[len(body):]

	fields := strings.Split(body, " ")
	if len(fields) < 4 {
		return "", false
	}

	formats := make([]string, 0, len(fields)-3)
	found := false
	for _, f := range fields[3:] {
		if f == pt {
			found = true
			continue
		}
		formats = append(formats, f)
	}
	if !found {
		return "", false
	}

	out := append(fields[:3:3], pt)
	out = append(out, formats...)
	return strings.Join(out, " ") + eol, true
}

// ParseCodec splits "name/rate" as used in configuration, e.g. "opus/48000".
func ParseCodec(s string) (string, int, error) {
	name, rate, ok := strings.Cut(s, "/")
	if !ok || name == "" {
		return "", 0, fmt.Errorf("codec %q: want name/clockrate", s)
	}
	n, err := strconv.Atoi(rate)
	if err != nil || n <= 0 {
		return "", 0, fmt.Errorf("codec %q: invalid clock rate", s)
	}
	return name, n, nil
}
