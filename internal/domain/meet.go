package domain

import "time"

// Category groups meets on the home feed.
type Category string

const (
	CategoryNCAA          Category = "NCAA"
	CategoryInternational Category = "International"
	CategoryOlympics      Category = "Olympics"
)

// CategoryOrder is the display order of meet categories.
var CategoryOrder = []Category{CategoryNCAA, CategoryInternational, CategoryOlympics}

// Valid reports whether c is one of the known categories.
func (c Category) Valid() bool {
	switch c {
	case CategoryNCAA, CategoryInternational, CategoryOlympics:
		return true
	}
	return false
}

// Rank returns the position of c in CategoryOrder, or len(CategoryOrder) for
// unknown categories so they sort last.
func (c Category) Rank() int {
	for i, cat := range CategoryOrder {
		if cat == c {
			return i
		}
	}
	return len(CategoryOrder)
}

// Gender is the competition gender of a market.
type Gender string

const (
	GenderMen   Gender = "Men"
	GenderWomen Gender = "Women"
)

// Valid reports whether g is one of the two known genders.
func (g Gender) Valid() bool {
	return g == GenderMen || g == GenderWomen
}

// Meet is a collection of markets for one competition.
type Meet struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	Category  Category   `json:"category"`
	LeagueTag string     `json:"league_tag"`
	Year      int        `json:"year"`
	Genders   []Gender   `json:"genders"`
	LockTime  *time.Time `json:"lock_time,omitempty"`
}

// IsLocked reports whether the meet's slate is locked at now. A meet without
// a lock time never locks.
func (m Meet) IsLocked(now time.Time) bool {
	if m.LockTime == nil {
		return false
	}
	return !now.Before(*m.LockTime)
}

// HasGender reports whether the meet offers markets for g.
func (m Meet) HasGender(g Gender) bool {
	for _, mg := range m.Genders {
		if mg == g {
			return true
		}
	}
	return false
}
