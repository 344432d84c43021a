// Package rotation assigns staff to supervision spaces week by week.
//
// The assignment is a pure function of the staff list, the configured spaces,
// a reshuffle seed and the week index. Nothing is cached or persisted.
package rotation

import (
	"math"
	"time"

	"github.com/pavelanni/escuela/internal/model"
)

// Slot is one person placed in a space.
type Slot struct {
	Name         string `json:"name"`
	IsSpecialist bool   `json:"is_specialist"`
}

// SpaceAssignment lists who covers a space during a week.
type SpaceAssignment struct {
	Space string `json:"space"`
	Fixed bool   `json:"fixed"`
	Staff []Slot `json:"staff"`
}

// Assignment is the full board for one week.
type Assignment struct {
	Week   int               `json:"week"`
	Seed   int               `json:"seed"`
	Spaces []SpaceAssignment `json:"spaces"`
}

// Lookup returns the people assigned to space, or nil.
func (a Assignment) Lookup(space string) []Slot {
	for _, sa := range a.Spaces {
		if sa.Space == space {
			return sa.Staff
		}
	}
	return nil
}

// Pools holds the eligible staff split by category, in input order.
type Pools struct {
	Regulars    []string
	Specialists []string
}

// Split filters out excluded staff and the fixed person, then separates the rest.
func Split(staff []model.StaffMember, cfg model.RotationConfig) Pools {
	var p Pools
	fixed := Fold(cfg.FixedPerson)
	for _, m := range staff {
		if fixed != "" && Fold(m.Name) == fixed {
			continue
		}
		switch Classify(m, cfg) {
		case model.CategoryExcluded:
		case model.CategorySpecialist:
			p.Specialists = append(p.Specialists, m.Name)
		default:
			p.Regulars = append(p.Regulars, m.Name)
		}
	}
	return p
}

// Shuffle returns a permutation of list driven by seed. Seed 0 returns the list in
// its original order. The same seed always yields the same permutation.
func Shuffle[T any](list []T, seed int) []T {
	out := make([]T, len(list))
	copy(out, list)
	if seed == 0 {
		return out
	}
	s := float64(seed)
	random := func() float64 {
		x := math.Sin(s) * 10000
		s++
		return x - math.Floor(x)
	}
	for i := len(out) - 1; i > 0; i-- {
		j := int(math.Floor(random() * float64(i+1)))
		out[i], out[j] = out[j], out[i]
	}
	return out
}

// Rotate returns list cyclically shifted left by offset mod len(list).
func Rotate[T any](list []T, offset int) []T {
	n := len(list)
	out := make([]T, 0, n)
	if n == 0 {
		return out
	}
	k := ((offset % n) + n) % n
	out = append(out, list[k:]...)
	return append(out, list[:k]...)
}

// AssignWeek builds the board for week (0-indexed) using the given reshuffle seed.
func AssignWeek(staff []model.StaffMember, cfg model.RotationConfig, seed, week int) Assignment {
	pools := Split(staff, cfg)
	regulars := Shuffle(pools.Regulars, seed)
	specialists := Shuffle(pools.Specialists, seed)

	n := len(cfg.Spaces)
	buckets := make([][]Slot, n)

	if n > 0 {
		for i, name := range Rotate(regulars, week) {
			k := i % n
			buckets[k] = append(buckets[k], Slot{Name: name})
		}
		for i, name := range Rotate(specialists, week) {
			k := placeSpecialist(buckets, i%n)
			buckets[k] = append(buckets[k], Slot{Name: name, IsSpecialist: true})
		}
	}

	a := Assignment{Week: week, Seed: seed}
	if cfg.FixedSpace != "" {
		fixed := SpaceAssignment{Space: cfg.FixedSpace, Fixed: true}
		if cfg.FixedPerson != "" {
			fixed.Staff = []Slot{{Name: cfg.FixedPerson}}
		}
		a.Spaces = append(a.Spaces, fixed)
	}
	for i, space := range cfg.Spaces {
		a.Spaces = append(a.Spaces, SpaceAssignment{Space: space, Staff: buckets[i]})
	}
	return a
}

// placeSpecialist moves an empty target forward to the next occupied space. After
// len(buckets) misses it keeps the original target.
func placeSpecialist(buckets [][]Slot, target int) int {
	if len(buckets[target]) > 0 {
		return target
	}
	n := len(buckets)
	for step := 1; step <= n; step++ {
		k := (target + step) % n
		if len(buckets[k]) > 0 {
			return k
		}
	}
	return target
}

// WeekSlot is a Monday-to-Friday range shown as a rotation column.
type WeekSlot struct {
	Index int       `json:"index"`
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
	Label string    `json:"label"`
}

// WeekSlots returns n consecutive school weeks starting with the week containing now.
func WeekSlots(now time.Time, n int) []WeekSlot {
	daysSinceMonday := (int(now.Weekday()) + 6) % 7
	y, m, d := now.Date()
	monday := time.Date(y, m, d-daysSinceMonday, 0, 0, 0, 0, now.Location())

	slots := make([]WeekSlot, 0, n)
	for i := 0; i < n; i++ {
		start := monday.AddDate(0, 0, 7*i)
		end := start.AddDate(0, 0, 4)
		slots = append(slots, WeekSlot{
			Index: i,
			Start: start,
			End:   end,
			Label: start.Format("02/01") + " - " + end.Format("02/01"),
		})
	}
	return slots
}
