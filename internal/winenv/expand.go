// Package winenv holds small Windows-environment conventions shared by the
// session and config packages: %VAR%-style expansion and the WMUX env
// overlay injected into spawned shells.
package winenv

import (
	"os"
	"strings"
)

// Expand replaces %NAME% references in s with the corresponding environment
// variable's value, using os.LookupEnv. Unset variables expand to the empty
// string (cmd.exe instead leaves an unresolvable %VAR% form as literal
// text). "%%" yields a single literal percent, and a '%' with no closing
// '%' is kept as is.
func Expand(s string) string {
	if !strings.Contains(s, "%") {
		return s
	}
	var b strings.Builder
	i := 0
	for i < len(s) {
		if s[i] != '%' {
			b.WriteByte(s[i])
			i++
			continue
		}
		end := strings.IndexByte(s[i+1:], '%')
		if end < 0 {
			b.WriteByte(s[i])
			i++
			continue
		}
		name := s[i+1 : i+1+end]
		if name == "" {
			// "%%" — emit a literal percent.
			b.WriteByte('%')
			i += 2
			continue
		}
		val, _ := os.LookupEnv(name)
		b.WriteString(val)
		i += end + 2
	}
	return b.String()
}

// Overlay returns the daemon's own environment extended/overridden with
// WMUX=1 and WMUX_SESSION=<name>, as a flat KEY=VALUE slice suitable for
// CreateProcess's environment block (§4.3). It never mutates os.Environ's
// backing process environment — the DESIGN NOTES in the spec call out the
// source's process-global-mutation workaround as a bug to avoid.
func Overlay(sessionName string, extra map[string]string) []string {
	// Keys are compared case-insensitively, as Windows does, and any
	// inherited entry for an overlaid key is dropped so the overlay wins.
	overlay := make(map[string]string, len(extra)+2)
	for k, v := range extra {
		overlay[strings.ToUpper(k)] = k + "=" + v
	}
	overlay["WMUX"] = "WMUX=1"
	overlay["WMUX_SESSION"] = "WMUX_SESSION=" + sessionName

	base := os.Environ()
	out := make([]string, 0, len(base)+len(overlay))
	for _, kv := range base {
		k, _, _ := strings.Cut(kv, "=")
		if _, overridden := overlay[strings.ToUpper(k)]; !overridden {
			out = append(out, kv)
		}
	}
	for _, kv := range overlay {
		out = append(out, kv)
	}
	return out
}
