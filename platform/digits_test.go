package platform

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDigits(t *testing.T) {
	assert.Equal(t, []int{0, 4, 2}, digits(42, 3))
	assert.Equal(t, []int{2, 3, 4}, digits(1234, 3), "only the lowest digits fit")
	assert.Equal(t, []int{0, 0, 7}, digits(-7, 3))
	assert.Equal(t, []int{0}, digits(0, 1))
}

func TestBCD(t *testing.T) {
	assert.Equal(t, [4]bool{false, false, false, false}, bcd(0))
	assert.Equal(t, [4]bool{true, false, false, true}, bcd(9))
	assert.Equal(t, [4]bool{false, true, true, false}, bcd(6))
}

func TestRenderDigits(t *testing.T) {
	rows := renderDigits([]int{1, 8}, true)
	assert.Equal(t, "     _  ", rows[0])
	assert.Equal(t, "  | |_| ", rows[1])
	assert.Equal(t, "  | |_| ", rows[2])

	dark := renderDigits([]int{8}, false)
	for _, r := range dark {
		assert.Equal(t, "    ", r)
	}
}
