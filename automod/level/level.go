// Severity ladder shared by the tag dictionary, the normalizer, and the disposition logic.
//
// Levels are powers of two so they can also be combined as a browsing-level mask by consumers, but within this module only ordering (max) is used.
package level

const (
	None    = 0
	PG      = 1
	PG13    = 2
	R       = 4
	X       = 8
	XXX     = 16
	Blocked = 32
)

// Anything above this level is considered not-safe-for-work.
const SafeThreshold = PG13

// Rating ladder tag names, lowest to highest.
var Ladder = []string{"pg", "pg-13", "r", "x", "xxx"}

var ladderLevels = map[string]int{
	"pg":    PG,
	"pg-13": PG13,
	"r":     R,
	"x":     X,
	"xxx":   XXX,
}

// Returns the level for a rating ladder tag name (already normalized), and whether the name is a ladder tag at all.
func FromLadderTag(name string) (int, bool) {
	l, ok := ladderLevels[name]
	return l, ok
}

// Ordinal position on the ladder, or -1 for non-ladder names.
func LadderRank(name string) int {
	for i, n := range Ladder {
		if n == name {
			return i
		}
	}
	return -1
}

func IsNSFW(l int) bool {
	return l > SafeThreshold
}

func Name(l int) string {
	switch {
	case l >= Blocked:
		return "blocked"
	case l >= XXX:
		return "xxx"
	case l >= X:
		return "x"
	case l >= R:
		return "r"
	case l >= PG13:
		return "pg-13"
	case l >= PG:
		return "pg"
	default:
		return "none"
	}
}

// Whether l is exactly one of the defined levels.
func Valid(l int) bool {
	switch l {
	case None, PG, PG13, R, X, XXX, Blocked:
		return true
	}
	return false
}
