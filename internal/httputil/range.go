// Package httputil provides byte-range helpers shared by the Hub client and
// its test transport.
package httputil

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
)

// FormatRange renders an inclusive "Range: bytes=start-end" value.
func FormatRange(start, end int64) string {
	return fmt.Sprintf("bytes=%d-%d", start, end)
}

// ParseSingleRange parses a single "Range: bytes=start-end" header.
// It returns (start, end, ok). When end is omitted, end == -1.
//
// Suffix ranges ("-N") and multi-range specifications return ok == false.
func ParseSingleRange(h string) (int64, int64, bool) {
	h = strings.TrimSpace(h)
	if !strings.HasPrefix(strings.ToLower(h), "bytes=") {
		return 0, -1, false
	}
	spec := strings.TrimSpace(h[len("bytes="):])
	if strings.Contains(spec, ",") {
		return 0, -1, false
	}
	first, last, found := strings.Cut(spec, "-")
	if !found || strings.TrimSpace(first) == "" {
		return 0, -1, false
	}
	start, err := strconv.ParseInt(strings.TrimSpace(first), 10, 64)
	if err != nil || start < 0 {
		return 0, -1, false
	}
	end := int64(-1)
	if last = strings.TrimSpace(last); last != "" {
		e, err := strconv.ParseInt(last, 10, 64)
		if err != nil || e < start {
			return 0, -1, false
		}
		end = e
	}
	return start, end, true
}

// ParseContentRange parses "Content-Range: bytes start-end/total". It
// returns (start, end, total, ok). When total is unknown, total == -1.
func ParseContentRange(h string) (int64, int64, int64, bool) {
	h = strings.ToLower(strings.TrimSpace(h))
	if !strings.HasPrefix(h, "bytes ") {
		return 0, -1, -1, false
	}
	body := strings.TrimSpace(h[len("bytes "):])
	se, totalStr, found := strings.Cut(body, "/")
	if !found {
		return 0, -1, -1, false
	}
	first, last, found := strings.Cut(strings.TrimSpace(se), "-")
	if !found {
		return 0, -1, -1, false
	}
	start, err1 := strconv.ParseInt(strings.TrimSpace(first), 10, 64)
	end, err2 := strconv.ParseInt(strings.TrimSpace(last), 10, 64)
	if err1 != nil || err2 != nil {
		return 0, -1, -1, false
	}
	total := int64(-1)
	if totalStr = strings.TrimSpace(totalStr); totalStr != "*" {
		t, err := strconv.ParseInt(totalStr, 10, 64)
		if err != nil {
			return 0, -1, -1, false
		}
		total = t
	}
	return start, end, total, true
}

// CheckContentRange verifies that a 206 response covers exactly the
// requested window, allowing it to stop early at the end of the resource.
func CheckContentRange(h http.Header, start, end int64) error {
	cr := h.Get("Content-Range")
	gotStart, gotEnd, total, ok := ParseContentRange(cr)
	if !ok {
		return fmt.Errorf("malformed Content-Range %q", cr)
	}
	if gotStart != start || gotEnd > end || gotEnd < gotStart {
		return fmt.Errorf("Content-Range %q does not match requested range %d-%d", cr, start, end)
	}
	if gotEnd < end && (total < 0 || gotEnd != total-1) {
		return fmt.Errorf("Content-Range %q ends before requested range %d-%d", cr, start, end)
	}
	return nil
}
