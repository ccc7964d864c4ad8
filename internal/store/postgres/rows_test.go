package postgres

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/taper/internal/domain"
)

func strp(s string) *string { return &s }
func intp(i int) *int       { return &i }

func TestMeetRow_ToDomain(t *testing.T) {
	lock := time.Date(2026, 3, 20, 16, 0, 0, 0, time.FixedZone("EST", -5*3600))
	m, err := meetRow{
		ID:       "ncaa-m-2026",
		Name:     " NCAA Men's Championships ",
		Category: "NCAA",
		Year:     2026,
		Genders:  []string{"Men", "Mixed", " Women "},
		LockTime: &lock,
	}.toDomain()
	require.NoError(t, err)

	assert.Equal(t, "NCAA Men's Championships", m.Name)
	assert.Equal(t, "", m.LeagueTag)
	assert.Equal(t, []domain.Gender{domain.GenderMen, domain.GenderWomen}, m.Genders)
	assert.Equal(t, time.UTC, m.LockTime.Location())
	assert.True(t, m.LockTime.Equal(lock))

	_, err = meetRow{ID: " "}.toDomain()
	assert.Error(t, err)
}

func TestMarketRow_ToDomain(t *testing.T) {
	m, err := marketRow{
		ID:         "kos-200back-ncaa-m-2026",
		MeetID:     "ncaa-m-2026",
		Gender:     "Men",
		TimeLabel:  "1:34.00 Barrier",
		Result:     strp(" 1:33.88 "),
		PB:         strp("1:34.76"),
		VotesOver:  intp(39),
		VotesUnder: intp(-4),
	}.toDomain()
	require.NoError(t, err)

	require.True(t, m.IsSettled())
	assert.Equal(t, "1:33.88", *m.Result)
	assert.Equal(t, "1:34.76", m.PB)
	assert.Equal(t, "", m.Seed)
	assert.Equal(t, 39, m.VotesOver)
	assert.Equal(t, 0, m.VotesUnder)

	m, err = marketRow{ID: "a", MeetID: "b", Result: strp("")}.toDomain()
	require.NoError(t, err)
	assert.False(t, m.IsSettled())

	_, err = marketRow{ID: "a"}.toDomain()
	assert.Error(t, err)
}

func TestMarketParams(t *testing.T) {
	res := "1:33.88"
	target, resultTime, status := marketParams(domain.Market{TimeLabel: "1:34.00 Barrier", Result: &res})
	require.NotNil(t, target)
	require.NotNil(t, resultTime)
	assert.Equal(t, "94.00", *target)
	assert.Equal(t, "93.88", *resultTime)
	assert.Equal(t, "settled", status)

	target, resultTime, status = marketParams(domain.Market{TimeLabel: "World Record Line"})
	assert.Nil(t, target)
	assert.Nil(t, resultTime)
	assert.Equal(t, "open", status)
}

func TestPickRow_ToDomain(t *testing.T) {
	p, ok := pickRow{MarketID: "a", Side: "Over"}.toDomain()
	require.True(t, ok)
	assert.Equal(t, domain.RemotePick{MarketID: "a", Side: domain.SideOver}, p)

	_, ok = pickRow{MarketID: "a", Side: "push"}.toDomain()
	assert.False(t, ok)
	_, ok = pickRow{Side: "under"}.toDomain()
	assert.False(t, ok)
}

func TestDSN(t *testing.T) {
	assert.Equal(t, "postgres://u:p@db:5432/taper?sslmode=disable",
		DSN(ClientConfig{User: "u", Password: "p", Host: "db", Database: "taper"}))
	assert.Equal(t, "postgres://x", DSN(ClientConfig{DSN: "postgres://x", Host: "ignored"}))
}
