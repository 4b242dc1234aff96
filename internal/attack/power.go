package attack

import "strings"

// linePower is indexed by lines cleared in one placement.
var linePower = [...]int{0, 0, 1, 2, 4}

// Power returns the garbage a clear sends before cancellation. spin is the
// spin label reported by the simulation ("" for none); any label containing
// "T-Spin" earns +2 and every other recognised spin +1.
func Power(lines int, spin string) int {
	if lines <= 0 {
		return 0
	}
	if lines >= len(linePower) {
		lines = len(linePower) - 1
	}
	p := linePower[lines]
	switch {
	case spin == "":
	case strings.Contains(spin, "T-Spin"):
		p += 2
	default:
		p++
	}
	return p
}
