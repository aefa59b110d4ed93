package sample

// Upper bounds (inclusive) for the 11 levels 'a'..'k' of a 12-bit sample.
var levelBounds = [...]uint16{0, 410, 819, 1229, 1638, 2048, 2457, 2867, 3276, 3686, 4095}

// NoLevel never matches a real level; trackers start here.
const NoLevel byte = 'z'

// Level maps a 12-bit sample onto 'a' (zero) through 'k' (full scale).
func Level(v uint16) byte {
	for i, bound := range levelBounds {
		if v <= bound {
			return 'a' + byte(i)
		}
	}
	return 'a' + byte(len(levelBounds)-1)
}

// LevelTracker suppresses repeats so small movements inside one level are not
// reported again. Not safe for concurrent use.
type LevelTracker struct {
	prev byte
}

func NewLevelTracker() *LevelTracker {
	return &LevelTracker{prev: NoLevel}
}

// Observe returns the level of v and whether it differs from the last observed one.
func (t *LevelTracker) Observe(v uint16) (byte, bool) {
	lvl := Level(v)
	if lvl == t.prev {
		return lvl, false
	}
	t.prev = lvl
	return lvl, true
}
