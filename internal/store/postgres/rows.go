package postgres

import (
	"fmt"
	"strings"
	"time"

	"github.com/alanyoungcy/taper/internal/domain"
	"github.com/alanyoungcy/taper/internal/scoring"
)

// meetRow is the scanned shape of the meets table.
type meetRow struct {
	ID        string
	Name      string
	Category  string
	LeagueTag *string
	Year      int
	Genders   []string
	LockTime  *time.Time
}

// toDomain drops unknown genders and trims whitespace. Category is passed
// through so catalog validation can report it.
func (r meetRow) toDomain() (domain.Meet, error) {
	if strings.TrimSpace(r.ID) == "" {
		return domain.Meet{}, fmt.Errorf("meet row: empty id")
	}
	m := domain.Meet{
		ID:       r.ID,
		Name:     strings.TrimSpace(r.Name),
		Category: domain.Category(strings.TrimSpace(r.Category)),
		Year:     r.Year,
		LockTime: r.LockTime,
	}
	if r.LeagueTag != nil {
		m.LeagueTag = *r.LeagueTag
	}
	for _, g := range r.Genders {
		if gender := domain.Gender(strings.TrimSpace(g)); gender.Valid() {
			m.Genders = append(m.Genders, gender)
		}
	}
	if m.LockTime != nil {
		t := m.LockTime.UTC()
		m.LockTime = &t
	}
	return m, nil
}

// marketRow is the scanned shape of the markets table.
type marketRow struct {
	ID         string
	MeetID     string
	Gender     string
	Swimmer    string
	Event      string
	TimeLabel  string
	Result     *string
	PB         *string
	Seed       *string
	VotesOver  *int
	VotesUnder *int
}

// toDomain rejects rows missing their identity or meet reference and
// defaults nullable display and vote columns.
func (r marketRow) toDomain() (domain.Market, error) {
	if strings.TrimSpace(r.ID) == "" {
		return domain.Market{}, fmt.Errorf("market row: empty id")
	}
	if strings.TrimSpace(r.MeetID) == "" {
		return domain.Market{}, fmt.Errorf("market row %s: empty meet_id", r.ID)
	}
	m := domain.Market{
		ID:        r.ID,
		MeetID:    r.MeetID,
		Gender:    domain.Gender(strings.TrimSpace(r.Gender)),
		Swimmer:   r.Swimmer,
		Event:     r.Event,
		TimeLabel: r.TimeLabel,
		PB:        deref(r.PB),
		Seed:      deref(r.Seed),
	}
	if r.VotesOver != nil && *r.VotesOver > 0 {
		m.VotesOver = *r.VotesOver
	}
	if r.VotesUnder != nil && *r.VotesUnder > 0 {
		m.VotesUnder = *r.VotesUnder
	}
	if res := strings.TrimSpace(deref(r.Result)); res != "" {
		m.Result = &res
	}
	return m, nil
}

// marketParams derives the stored numeric columns. Unparseable labels and
// results leave their numeric column NULL.
func marketParams(m domain.Market) (target, resultTime *string, status string) {
	if t, ok := scoring.ParseTargetTime(m.TimeLabel); ok {
		if d, err := scoring.Seconds(t); err == nil {
			s := d.StringFixed(2)
			target = &s
		}
	}
	if m.IsSettled() {
		if d, err := scoring.Seconds(*m.Result); err == nil {
			s := d.StringFixed(2)
			resultTime = &s
		}
	}
	return target, resultTime, string(m.Status())
}

// pickRow is the scanned shape of the picks table.
type pickRow struct {
	MarketID string
	Side     string
}

func (r pickRow) toDomain() (domain.RemotePick, bool) {
	side, ok := domain.ParseSide(r.Side)
	if !ok || strings.TrimSpace(r.MarketID) == "" {
		return domain.RemotePick{}, false
	}
	return domain.RemotePick{MarketID: r.MarketID, Side: side}, true
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
