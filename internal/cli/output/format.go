package output

import "fmt"

// units for HumanSize.
var sizeUnits = []string{"B", "K", "M", "G", "T"}

// HumanSize renders a byte count in a compact human form.
func HumanSize(n int64) string {
	size := float64(n)
	unit := 0
	for size >= 1024 && unit < len(sizeUnits)-1 {
		size /= 1024
		unit++
	}
	if unit == 0 {
		return fmt.Sprintf("%d%s", n, sizeUnits[0])
	}
	return fmt.Sprintf("%.1f%s", size, sizeUnits[unit])
}

// Bool renders a boolean as yes/no.
func Bool(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
