package budget

import "unicode/utf16"

// ByteSize returns the accounted size of s: two bytes per UTF-16 code unit.
// Writers and capacity checks must both use it so they never disagree.
func ByteSize(s string) int64 {
	var n int64
	for _, r := range s {
		n += int64(utf16.RuneLen(r))
	}
	return 2 * n
}
