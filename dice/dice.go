// Package dice implements parsing and resolution of tabletop dice notation.
package dice

import (
	"errors"
	"fmt"
	"math/rand"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"
)

// ErrInvalidNotation indicates a malformed or out-of-range dice string.
var ErrInvalidNotation = errors.New("invalid dice notation")

// RollType tags how a roll was resolved.
type RollType string

const (
	TypeNormal       RollType = "normal"
	TypeAdvantage    RollType = "advantage"
	TypeDisadvantage RollType = "disadvantage"
)

const (
	minCount = 1
	maxCount = 20
	minSides = 2
	maxSides = 100
)

var notationRe = regexp.MustCompile(`^(\d+)d(\d+)([+-]\d+)?$`)

// Spec is a parsed dice notation.
type Spec struct {
	Count    int
	Sides    int
	Modifier int
}

// Roll is an immutable resolved roll.
type Roll struct {
	Notation  string   `json:"notation"`
	Results   []int    `json:"results"`
	Total     int      `json:"total"`
	Modifier  int      `json:"modifier"`
	Type      RollType `json:"type"`
	Breakdown string   `json:"breakdown"`
}

// Parse validates notation of the form <count>d<sides>[+|-modifier],
// case-insensitive. Count must be in [1,20] and sides in [2,100].
func Parse(notation string) (Spec, error) {
	m := notationRe.FindStringSubmatch(strings.ToLower(strings.TrimSpace(notation)))
	if m == nil {
		return Spec{}, fmt.Errorf("%w: %q", ErrInvalidNotation, notation)
	}

	count, err := strconv.Atoi(m[1])
	if err != nil || count < minCount || count > maxCount {
		return Spec{}, fmt.Errorf("%w: count must be between %d and %d", ErrInvalidNotation, minCount, maxCount)
	}

	sides, err := strconv.Atoi(m[2])
	if err != nil || sides < minSides || sides > maxSides {
		return Spec{}, fmt.Errorf("%w: sides must be between %d and %d", ErrInvalidNotation, minSides, maxSides)
	}

	modifier := 0
	if m[3] != "" {
		modifier, err = strconv.Atoi(m[3])
		if err != nil {
			return Spec{}, fmt.Errorf("%w: %q", ErrInvalidNotation, notation)
		}
	}

	return Spec{Count: count, Sides: sides, Modifier: modifier}, nil
}

// Roller draws dice from an injectable source so tests can seed it.
type Roller struct {
	rng   *rand.Rand
	mutex sync.Mutex
}

// NewRoller returns a roller seeded from the clock.
func NewRoller() *Roller {
	return NewSeededRoller(time.Now().UnixNano())
}

// NewSeededRoller returns a deterministic roller for the given seed.
func NewSeededRoller(seed int64) *Roller {
	return &Roller{rng: rand.New(rand.NewSource(seed))}
}

func (r *Roller) die(sides int) int {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return r.rng.Intn(sides) + 1
}

// Roll resolves the notation normally: count independent dice, summed,
// plus the modifier.
func (r *Roller) Roll(notation string) (Roll, error) {
	spec, err := Parse(notation)
	if err != nil {
		return Roll{}, err
	}

	results := make([]int, spec.Count)
	sum := 0
	for i := range results {
		results[i] = r.die(spec.Sides)
		sum += results[i]
	}

	return Roll{
		Notation:  notation,
		Results:   results,
		Total:     sum + spec.Modifier,
		Modifier:  spec.Modifier,
		Type:      TypeNormal,
		Breakdown: breakdown(results, -1, spec.Modifier, sum+spec.Modifier),
	}, nil
}

// RollWithAdvantage draws exactly two dice of the parsed sides, ignoring
// the notation's count, and keeps the higher.
func (r *Roller) RollWithAdvantage(notation string) (Roll, error) {
	return r.rollKeepOne(notation, TypeAdvantage)
}

// RollWithDisadvantage draws exactly two dice and keeps the lower.
func (r *Roller) RollWithDisadvantage(notation string) (Roll, error) {
	return r.rollKeepOne(notation, TypeDisadvantage)
}

func (r *Roller) rollKeepOne(notation string, rollType RollType) (Roll, error) {
	spec, err := Parse(notation)
	if err != nil {
		return Roll{}, err
	}

	results := []int{r.die(spec.Sides), r.die(spec.Sides)}
	kept := 0
	if rollType == TypeAdvantage {
		if results[1] > results[0] {
			kept = 1
		}
	} else {
		if results[1] < results[0] {
			kept = 1
		}
	}
	total := results[kept] + spec.Modifier

	return Roll{
		Notation:  notation,
		Results:   results,
		Total:     total,
		Modifier:  spec.Modifier,
		Type:      rollType,
		Breakdown: breakdown(results, kept, spec.Modifier, total),
	}, nil
}

// IsCriticalSuccess reports whether the roll used a d20 and any die came
// up 20.
func IsCriticalSuccess(roll Roll) bool {
	return isCritical(roll, 20)
}

// IsCriticalFailure reports whether the roll used a d20 and any die came
// up 1.
func IsCriticalFailure(roll Roll) bool {
	return isCritical(roll, 1)
}

func isCritical(roll Roll, face int) bool {
	spec, err := Parse(roll.Notation)
	if err != nil || spec.Sides != 20 {
		return false
	}
	for _, v := range roll.Results {
		if v == face {
			return true
		}
	}
	return false
}

// breakdown renders "[r1 + r2] + M = T". kept marks the retained die for
// advantage/disadvantage rolls (-1 for normal rolls); the modifier segment
// is omitted when zero.
func breakdown(results []int, kept int, modifier, total int) string {
	var b strings.Builder
	b.WriteByte('[')
	for i, v := range results {
		if i > 0 {
			if kept >= 0 {
				b.WriteString(", ")
			} else {
				b.WriteString(" + ")
			}
		}
		b.WriteString(strconv.Itoa(v))
		if i == kept {
			b.WriteByte('*')
		}
	}
	b.WriteByte(']')

	if modifier > 0 {
		fmt.Fprintf(&b, " + %d", modifier)
	} else if modifier < 0 {
		fmt.Fprintf(&b, " - %d", -modifier)
	}

	fmt.Fprintf(&b, " = %d", total)
	return b.String()
}
