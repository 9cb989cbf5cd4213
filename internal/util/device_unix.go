//go:build unix

package util

import "golang.org/x/sys/unix"

// SameDevice reports whether a and b live on the same filesystem. It returns
// false when either cannot be inspected.
func SameDevice(a, b string) bool {
	var sa, sb unix.Stat_t
	if unix.Stat(a, &sa) != nil || unix.Stat(b, &sb) != nil {
		return false
	}
	return sa.Dev == sb.Dev
}
