package platform

import "strings"

// digits splits v into n decimal digits, most significant first. Values that
// do not fit keep their lowest n digits, negative values are shown as their
// magnitude.
func digits(v, n int) []int {
	if v < 0 {
		v = -v
	}
	ds := make([]int, n)
	for i := n - 1; i >= 0; i-- {
		ds[i] = v % 10
		v /= 10
	}
	return ds
}

// bcd returns the four BCD bits of digit d, least significant first.
func bcd(d int) [4]bool {
	return [4]bool{d&1 != 0, d&2 != 0, d&4 != 0, d&8 != 0}
}

// segments per digit: a b c d e f g
var sevenSegment = [10][7]bool{
	{true, true, true, true, true, true, false},
	{false, true, true, false, false, false, false},
	{true, true, false, true, true, false, true},
	{true, true, true, true, false, false, true},
	{false, true, true, false, false, true, true},
	{true, false, true, true, false, true, true},
	{true, false, true, true, true, true, true},
	{true, true, true, false, false, false, false},
	{true, true, true, true, true, true, true},
	{true, true, true, true, false, true, true},
}

// renderDigits draws the digits as three text rows of seven segment glyphs.
// With on false the segments are drawn dark.
func renderDigits(ds []int, on bool) [3]string {
	var rows [3]strings.Builder
	seg := func(lit bool, glyph string) string {
		if lit && on {
			return glyph
		}
		return " "
	}
	for _, d := range ds {
		s := sevenSegment[d%10]
		rows[0].WriteString(" " + seg(s[0], "_") + "  ")
		rows[1].WriteString(seg(s[5], "|") + seg(s[6], "_") + seg(s[1], "|") + " ")
		rows[2].WriteString(seg(s[4], "|") + seg(s[3], "_") + seg(s[2], "|") + " ")
	}
	return [3]string{rows[0].String(), rows[1].String(), rows[2].String()}
}
