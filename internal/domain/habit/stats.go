package habit

import (
	"fmt"
	"math/rand/v2"
)

type Stats struct {
	Days          int  `json:"days"`
	Positive      int  `json:"positive"`
	Negative      int  `json:"negative"`
	Empty         int  `json:"empty"`
	LongestRun    int  `json:"longestRun"`
	LongestStart  int  `json:"longestRunStart"`
	CurrentStreak int  `json:"currentStreak"`
	Complete      bool `json:"complete"`
}

// LongestRun returns the length and start index of the longest block of
// consecutive positive days. Ties keep the earliest run; start is -1 when
// there is no positive day.
func LongestRun(p Progress) (length, start int) {
	start = -1
	run, runStart := 0, 0

	for i, m := range p {
		if m != Positive {
			run = 0
			continue
		}
		if run == 0 {
			runStart = i
		}
		run++
		if run > length {
			length, start = run, runStart
		}
	}
	return length, start
}

// CurrentStreak counts consecutive positive days ending at the last marked day.
// Trailing empty days are the future and are skipped.
func CurrentStreak(p Progress) int {
	i := len(p) - 1
	for i >= 0 && p[i] == Empty {
		i--
	}

	streak := 0
	for ; i >= 0 && p[i] == Positive; i-- {
		streak++
	}
	return streak
}

func ComputeStats(p Progress) Stats {
	s := Stats{Days: len(p)}

	for _, m := range p {
		switch m {
		case Positive:
			s.Positive++
		case Negative:
			s.Negative++
		default:
			s.Empty++
		}
	}

	s.LongestRun, s.LongestStart = LongestRun(p)
	s.CurrentStreak = CurrentStreak(p)
	s.Complete = len(p) > 0 && s.Empty == 0

	return s
}

// FillRandom marks one uniformly chosen empty day and returns the new sequence
// and the index it touched. p itself is left untouched.
func FillRandom(p Progress, mark Mark, rng *rand.Rand) (Progress, int, error) {
	if mark != Positive && mark != Negative {
		return nil, -1, fmt.Errorf("%w: fill mark must be 1 or -1", ErrInvalidProgress)
	}

	empty := make([]int, 0, len(p))
	for i, m := range p {
		if m == Empty {
			empty = append(empty, i)
		}
	}

	if len(empty) == 0 {
		return nil, -1, ErrGridFull
	}

	var pick int
	if rng != nil {
		pick = empty[rng.IntN(len(empty))]
	} else {
		pick = empty[rand.IntN(len(empty))]
	}

	out := p.Clone()
	out[pick] = mark

	return out, pick, nil
}
