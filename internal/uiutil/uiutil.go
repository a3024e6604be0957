// Package uiutil holds small terminal formatting helpers for the CLI.
package uiutil

const (
	AnsiReset = "\033[0m"
	AnsiDim   = "\033[2m"
)

var nameColors = []string{
	"\033[31m", // red
	"\033[32m", // green
	"\033[33m", // yellow
	"\033[34m", // blue
	"\033[35m", // magenta
	"\033[36m", // cyan
}

// PickColor hashes a name to a stable ANSI color, so the same peer is
// always shown the same way.
func PickColor(s string) string {
	if s == "" {
		return AnsiReset
	}
	var h uint32
	for i := 0; i < len(s); i++ {
		h = h*16777619 ^ uint32(s[i])
	}
	return nameColors[h%uint32(len(nameColors))]
}

// FormatName wraps a peer name in its color.
func FormatName(name string) string {
	if name == "" {
		name = "???"
	}
	return PickColor(name) + name + AnsiReset
}
