package domain

// MarketStatus is the settlement state of a market.
type MarketStatus string

const (
	MarketStatusOpen    MarketStatus = "open"
	MarketStatusSettled MarketStatus = "settled"
)

// Market is a single over/under line within a meet.
type Market struct {
	ID         string  `json:"id"`
	MeetID     string  `json:"meet_id"`
	Gender     Gender  `json:"gender"`
	Swimmer    string  `json:"swimmer"`
	Event      string  `json:"event"`
	TimeLabel  string  `json:"time_label"`
	PB         string  `json:"pb,omitempty"`
	Seed       string  `json:"seed,omitempty"`
	VotesOver  int     `json:"votes_over"`
	VotesUnder int     `json:"votes_under"`
	Result     *string `json:"result,omitempty"`
}

// IsSettled reports whether an official result has been recorded.
func (m Market) IsSettled() bool {
	return m.Result != nil && *m.Result != ""
}

// Status derives the market status from its result.
func (m Market) Status() MarketStatus {
	if m.IsSettled() {
		return MarketStatusSettled
	}
	return MarketStatusOpen
}

// ResultTime returns the result string, or "" when unsettled.
func (m Market) ResultTime() string {
	if m.Result == nil {
		return ""
	}
	return *m.Result
}

// TotalVotes is the community sentiment volume used to rank spotlight markets.
func (m Market) TotalVotes() int {
	return m.VotesOver + m.VotesUnder
}
