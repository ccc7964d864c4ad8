// Package catalog loads and validates the meet/market dataset.
package catalog

import (
	_ "embed"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode"

	"gopkg.in/yaml.v3"

	"github.com/alanyoungcy/taper/internal/domain"
	"github.com/alanyoungcy/taper/internal/scoring"
)

//go:embed dataset.yaml
var defaultDataset []byte

// DatasetVersion is the current dataset schema version.
const DatasetVersion = 1

// MeetRecord is the stored shape of a meet.
type MeetRecord struct {
	ID        string   `yaml:"id"`
	Name      string   `yaml:"name"`
	Category  string   `yaml:"category"`
	LeagueTag string   `yaml:"league_tag"`
	Year      int      `yaml:"year"`
	Genders   []string `yaml:"genders"`
	LockTime  string   `yaml:"lock_time,omitempty"`
}

// MarketRecord is the stored shape of a market.
type MarketRecord struct {
	ID         string `yaml:"id"`
	MeetID     string `yaml:"meet_id"`
	Gender     string `yaml:"gender"`
	Swimmer    string `yaml:"swimmer"`
	Event      string `yaml:"event"`
	TimeLabel  string `yaml:"time_label"`
	PB         string `yaml:"pb,omitempty"`
	Seed       string `yaml:"seed,omitempty"`
	VotesOver  int    `yaml:"votes_over,omitempty"`
	VotesUnder int    `yaml:"votes_under,omitempty"`
}

// Dataset is the serialised catalog: meets, markets and the results feed.
type Dataset struct {
	Version int               `yaml:"version"`
	Meets   []MeetRecord      `yaml:"meets"`
	Markets []MarketRecord    `yaml:"markets"`
	Results map[string]string `yaml:"results,omitempty"`
}

// Snapshot is a validated, immutable view of the catalog with results
// overlaid onto their markets.
type Snapshot struct {
	Meets   []domain.Meet
	Markets []domain.Market
}

// Parse decodes a YAML (or JSON) dataset.
func Parse(data []byte) (*Dataset, error) {
	var ds Dataset
	if err := yaml.Unmarshal(data, &ds); err != nil {
		return nil, fmt.Errorf("catalog: parse dataset: %w", err)
	}
	if ds.Version == 0 {
		ds.Version = DatasetVersion
	}
	if ds.Version > DatasetVersion {
		return nil, fmt.Errorf("catalog: unsupported dataset version %d", ds.Version)
	}
	return &ds, nil
}

// Default returns the dataset compiled into the binary.
func Default() (*Dataset, error) {
	return Parse(defaultDataset)
}

// Marshal encodes the dataset as YAML.
func (d *Dataset) Marshal() ([]byte, error) {
	out, err := yaml.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("catalog: marshal dataset: %w", err)
	}
	return out, nil
}

// Validate reports every problem in the dataset at once. The returned error
// wraps domain.ErrInvalidCatalog.
func (d *Dataset) Validate() error {
	_, err := d.Snapshot()
	return err
}

// Snapshot converts the dataset into domain types, overlays results and
// validates the outcome.
func (d *Dataset) Snapshot() (Snapshot, error) {
	var problems []error

	meets := make([]domain.Meet, 0, len(d.Meets))
	for _, rec := range d.Meets {
		m, err := rec.toDomain()
		if err != nil {
			problems = append(problems, err)
		}
		meets = append(meets, m)
	}

	markets := make([]domain.Market, 0, len(d.Markets))
	known := make(map[string]bool, len(d.Markets))
	for _, rec := range d.Markets {
		m := rec.toDomain()
		known[m.ID] = true
		if res, ok := d.Results[m.ID]; ok && strings.TrimSpace(res) != "" {
			r := strings.TrimSpace(res)
			m.Result = &r
		}
		markets = append(markets, m)
	}

	resultIDs := make([]string, 0, len(d.Results))
	for id := range d.Results {
		resultIDs = append(resultIDs, id)
	}
	sort.Strings(resultIDs)
	for _, id := range resultIDs {
		if !known[id] {
			problems = append(problems, fmt.Errorf("result for unknown market %q", id))
		}
	}

	snap := Snapshot{Meets: meets, Markets: markets}
	if err := snap.Validate(); err != nil {
		problems = append(problems, err)
	}
	if len(problems) > 0 {
		return Snapshot{}, fmt.Errorf("%w: %w", domain.ErrInvalidCatalog, errors.Join(problems...))
	}
	return snap, nil
}

// FromSnapshot builds a dataset from domain values, splitting results back
// out into the results map.
func FromSnapshot(s Snapshot) *Dataset {
	ds := &Dataset{
		Version: DatasetVersion,
		Meets:   make([]MeetRecord, 0, len(s.Meets)),
		Markets: make([]MarketRecord, 0, len(s.Markets)),
		Results: make(map[string]string),
	}
	for _, m := range s.Meets {
		rec := MeetRecord{
			ID:        m.ID,
			Name:      m.Name,
			Category:  string(m.Category),
			LeagueTag: m.LeagueTag,
			Year:      m.Year,
		}
		for _, g := range m.Genders {
			rec.Genders = append(rec.Genders, string(g))
		}
		if m.LockTime != nil {
			rec.LockTime = m.LockTime.UTC().Format(time.RFC3339)
		}
		ds.Meets = append(ds.Meets, rec)
	}
	for _, m := range s.Markets {
		ds.Markets = append(ds.Markets, MarketRecord{
			ID:         m.ID,
			MeetID:     m.MeetID,
			Gender:     string(m.Gender),
			Swimmer:    m.Swimmer,
			Event:      m.Event,
			TimeLabel:  m.TimeLabel,
			PB:         m.PB,
			Seed:       m.Seed,
			VotesOver:  m.VotesOver,
			VotesUnder: m.VotesUnder,
		})
		if m.IsSettled() {
			ds.Results[m.ID] = *m.Result
		}
	}
	return ds
}

// Validate checks the catalog invariants: unique ids, known categories,
// non-empty genders, market meet references, market genders offered by the
// meet and non-negative votes.
func (s Snapshot) Validate() error {
	var problems []error

	meets := make(map[string]domain.Meet, len(s.Meets))
	for _, m := range s.Meets {
		if m.ID == "" {
			problems = append(problems, errors.New("meet with empty id"))
			continue
		}
		if _, dup := meets[m.ID]; dup {
			problems = append(problems, fmt.Errorf("duplicate meet id %q", m.ID))
		}
		meets[m.ID] = m
		if !m.Category.Valid() {
			problems = append(problems, fmt.Errorf("meet %q: unknown category %q", m.ID, m.Category))
		}
		if len(m.Genders) == 0 {
			problems = append(problems, fmt.Errorf("meet %q: no genders", m.ID))
		}
		for _, g := range m.Genders {
			if !g.Valid() {
				problems = append(problems, fmt.Errorf("meet %q: unknown gender %q", m.ID, g))
			}
		}
	}

	seen := make(map[string]bool, len(s.Markets))
	for _, mk := range s.Markets {
		if mk.ID == "" {
			problems = append(problems, errors.New("market with empty id"))
			continue
		}
		if seen[mk.ID] {
			problems = append(problems, fmt.Errorf("duplicate market id %q", mk.ID))
		}
		seen[mk.ID] = true

		meet, ok := meets[mk.MeetID]
		if !ok {
			problems = append(problems, fmt.Errorf("market %q: unknown meet %q", mk.ID, mk.MeetID))
		} else if !meet.HasGender(mk.Gender) {
			problems = append(problems, fmt.Errorf("market %q: gender %q not offered by meet %q", mk.ID, mk.Gender, mk.MeetID))
		}
		if mk.VotesOver < 0 || mk.VotesUnder < 0 {
			problems = append(problems, fmt.Errorf("market %q: negative votes", mk.ID))
		}
		if mk.IsSettled() {
			if _, err := scoring.TimeToSeconds(*mk.Result); err != nil {
				problems = append(problems, fmt.Errorf("market %q: result: %w", mk.ID, err))
			}
		}
	}

	return errors.Join(problems...)
}

// SuspectLabels returns ids of markets whose label contains digits but no
// parseable line time, e.g. "42.8 Barrier". Such markets score as pending
// forever, which is intended for descriptive lines but usually a typo here.
func (s Snapshot) SuspectLabels() []string {
	var out []string
	for _, mk := range s.Markets {
		if _, ok := scoring.ParseTargetTime(mk.TimeLabel); ok {
			continue
		}
		if strings.IndexFunc(mk.TimeLabel, unicode.IsDigit) >= 0 {
			out = append(out, mk.ID)
		}
	}
	return out
}

func (r MeetRecord) toDomain() (domain.Meet, error) {
	m := domain.Meet{
		ID:        r.ID,
		Name:      r.Name,
		Category:  domain.Category(r.Category),
		LeagueTag: r.LeagueTag,
		Year:      r.Year,
	}
	for _, g := range r.Genders {
		m.Genders = append(m.Genders, domain.Gender(g))
	}
	if r.LockTime != "" {
		t, err := time.Parse(time.RFC3339, r.LockTime)
		if err != nil {
			return m, fmt.Errorf("meet %q: lock_time %q: %w", r.ID, r.LockTime, err)
		}
		m.LockTime = &t
	}
	return m, nil
}

func (r MarketRecord) toDomain() domain.Market {
	return domain.Market{
		ID:         r.ID,
		MeetID:     r.MeetID,
		Gender:     domain.Gender(r.Gender),
		Swimmer:    r.Swimmer,
		Event:      r.Event,
		TimeLabel:  r.TimeLabel,
		PB:         r.PB,
		Seed:       r.Seed,
		VotesOver:  r.VotesOver,
		VotesUnder: r.VotesUnder,
	}
}
