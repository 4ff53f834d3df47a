package outpututil

// DefaultMaxOutputBytes is the default byte cap applied to accumulated
// stdout/stderr before truncation, per the execution engine's bound step.
const DefaultMaxOutputBytes = 1 << 20 // 1 MiB

// truncationMarker is appended as a trailing line when output is cut.
const truncationMarker = "\n...[output truncated]"

// Truncate returns data unchanged with truncated=false if len(data) <= limit.
// Otherwise it returns the first limit bytes followed by a trailing marker
// line, with truncated=true. limit <= 0 disables the cap (always unchanged).
func Truncate(data []byte, limit int) (out []byte, truncated bool) {
	if limit <= 0 || len(data) <= limit {
		return data, false
	}
	cut := make([]byte, 0, limit+len(truncationMarker))
	cut = append(cut, data[:limit]...)
	cut = append(cut, []byte(truncationMarker)...)
	return cut, true
}

// TruncateMarkerLen reports the byte length of the marker Truncate appends,
// so callers can size buffers precisely (output length <= limit + markerLen).
func TruncateMarkerLen() int { return len(truncationMarker) }

// String is a convenience wrapper for string-typed output.
func String(s string, limit int) (string, bool) {
	out, truncated := Truncate([]byte(s), limit)
	return string(out), truncated
}
