package sanction_test

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/mkopo/core"
	"github.com/trezcool/mkopo/core/sanction"
	"github.com/trezcool/mkopo/tests"
)

var day = 24 * time.Hour

func TestSanction_Validate(t *testing.T) {
	now := time.Date(2024, 1, 9, 9, 0, 0, 0, time.UTC)
	later := now.Add(day)
	earlier := now.Add(-day)

	tests := []struct {
		name    string
		s       sanction.Sanction
		wantErr error
	}{
		{name: "warning", s: sanction.Sanction{Type: sanction.TypeWarning, SanctionDate: now}},
		{name: "warning with end date", s: sanction.Sanction{Type: sanction.TypeWarning, SanctionDate: now, EndDate: &later}, wantErr: sanction.ErrInvalidEndDate},
		{name: "temp block", s: sanction.Sanction{Type: sanction.TypeTempBlock, SanctionDate: now, EndDate: &later}},
		{name: "temp block without end date", s: sanction.Sanction{Type: sanction.TypeTempBlock, SanctionDate: now}, wantErr: sanction.ErrInvalidEndDate},
		{name: "temp block ending before", s: sanction.Sanction{Type: sanction.TypeTempBlock, SanctionDate: now, EndDate: &earlier}, wantErr: sanction.ErrInvalidEndDate},
		{name: "temp block ending at once", s: sanction.Sanction{Type: sanction.TypeTempBlock, SanctionDate: now, EndDate: &now}, wantErr: sanction.ErrInvalidEndDate},
		{name: "indefinite", s: sanction.Sanction{Type: sanction.TypeIndefinite, SanctionDate: now}},
		{name: "indefinite with end date", s: sanction.Sanction{Type: sanction.TypeIndefinite, SanctionDate: now, EndDate: &later}, wantErr: sanction.ErrInvalidEndDate},
		{name: "unknown type", s: sanction.Sanction{Type: "BAN", SanctionDate: now}, wantErr: sanction.ErrInvalidType},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.wantErr, tt.s.Validate())
		})
	}
}

func TestSanction_Blocks(t *testing.T) {
	now := time.Date(2024, 1, 9, 9, 0, 0, 0, time.UTC)
	end := now.Add(7 * day)

	tests := []struct {
		name string
		s    sanction.Sanction
		at   time.Time
		want bool
	}{
		{name: "warning", s: sanction.Sanction{Type: sanction.TypeWarning}, at: now},
		{name: "temp block running", s: sanction.Sanction{Type: sanction.TypeTempBlock, EndDate: &end}, at: now, want: true},
		{name: "temp block at its end", s: sanction.Sanction{Type: sanction.TypeTempBlock, EndDate: &end}, at: end},
		{name: "temp block over", s: sanction.Sanction{Type: sanction.TypeTempBlock, EndDate: &end}, at: end.Add(time.Second)},
		{name: "indefinite", s: sanction.Sanction{Type: sanction.TypeIndefinite}, at: now.Add(1000 * day), want: true},
		{name: "lifted indefinite", s: sanction.Sanction{Type: sanction.TypeIndefinite, Deleted: true}, at: now},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.s.Blocks(tt.at))
		})
	}
}

func TestNewPolicy(t *testing.T) {
	assert.Equal(t, sanction.DefaultPolicy, sanction.NewPolicy(&core.Config{}))

	conf := &core.Config{}
	conf.Sanction.Window = 30 * day
	conf.Sanction.BlockPeriod = 3 * day
	assert.Equal(t, sanction.Policy{Window: 30 * day, BlockPeriod: 3 * day}, sanction.NewPolicy(conf))
}

func TestService_IssueForOverdueLoan(t *testing.T) {
	app := testutil.NewApp(t)
	ctx := context.Background()
	start := time.Date(2024, 1, 9, 9, 0, 0, 0, time.UTC)

	testutil.SetNow(t, start)
	s1, err := app.Sanctions.IssueForOverdueLoan(ctx, "loan0000001", "user-1")
	require.NoError(t, err)
	assert.Equal(t, "SANC000001", s1.GUID)
	assert.Equal(t, sanction.TypeWarning, s1.Type)
	assert.Equal(t, "loan0000001", s1.LoanGUID)
	assert.Equal(t, "user-1", s1.UserGUID)
	assert.Equal(t, start, s1.SanctionDate)
	assert.Nil(t, s1.EndDate)

	// a loan is sanctioned once
	again, err := app.Sanctions.IssueForOverdueLoan(ctx, "loan0000001", "user-1")
	require.NoError(t, err)
	assert.Equal(t, s1, again)

	// other users are not affected
	other, err := app.Sanctions.IssueForOverdueLoan(ctx, "loan0000002", "user-2")
	require.NoError(t, err)
	assert.Equal(t, sanction.TypeWarning, other.Type)

	second := start.Add(10 * day)
	testutil.SetNow(t, second)
	s2, err := app.Sanctions.IssueForOverdueLoan(ctx, "loan0000003", "user-1")
	require.NoError(t, err)
	assert.Equal(t, sanction.TypeTempBlock, s2.Type)
	if assert.NotNil(t, s2.EndDate) {
		assert.Equal(t, second.Add(7*day), *s2.EndDate)
	}

	testutil.SetNow(t, second.Add(10*day))
	s3, err := app.Sanctions.IssueForOverdueLoan(ctx, "loan0000004", "user-1")
	require.NoError(t, err)
	assert.Equal(t, sanction.TypeIndefinite, s3.Type)
	assert.Nil(t, s3.EndDate)
}

func TestService_IssueForOverdueLoan_window(t *testing.T) {
	app := testutil.NewApp(t)
	ctx := context.Background()
	start := time.Date(2024, 1, 9, 9, 0, 0, 0, time.UTC)

	testutil.SetNow(t, start)
	_, err := app.Sanctions.IssueForOverdueLoan(ctx, "loan0000001", "user-1")
	require.NoError(t, err)

	// the first sanction left the 90 days window
	testutil.SetNow(t, start.Add(91*day))
	s, err := app.Sanctions.IssueForOverdueLoan(ctx, "loan0000002", "user-1")
	require.NoError(t, err)
	assert.Equal(t, sanction.TypeWarning, s.Type)

	// lifted sanctions do not count
	require.NoError(t, app.Sanctions.Lift(ctx, s.GUID))
	s, err = app.Sanctions.IssueForOverdueLoan(ctx, "loan0000003", "user-1")
	require.NoError(t, err)
	assert.Equal(t, sanction.TypeWarning, s.Type)

	// a lifted sanction is still the loan's sanction
	lifted, err := app.Sanctions.IssueForOverdueLoan(ctx, "loan0000002", "user-1")
	require.NoError(t, err)
	assert.True(t, lifted.Deleted)
}

func TestService_Lift(t *testing.T) {
	app := testutil.NewApp(t)
	ctx := context.Background()

	testutil.SetNow(t, time.Date(2024, 1, 9, 9, 0, 0, 0, time.UTC))
	_, err := app.Sanctions.IssueForOverdueLoan(ctx, "loan0000001", "user-1")
	require.NoError(t, err)
	block, err := app.Sanctions.IssueForOverdueLoan(ctx, "loan0000002", "user-1")
	require.NoError(t, err)
	require.Equal(t, sanction.TypeTempBlock, block.Type)

	active, err := app.Sanctions.IsSanctionActive(ctx, "user-1")
	require.NoError(t, err)
	assert.True(t, active)

	require.NoError(t, app.Sanctions.Lift(ctx, block.GUID))

	active, err = app.Sanctions.IsSanctionActive(ctx, "user-1")
	require.NoError(t, err)
	assert.False(t, active)

	_, err = app.Sanctions.Get(ctx, block.GUID)
	assert.Equal(t, sanction.ErrNotFound, errors.Cause(err))

	err = app.Sanctions.Lift(ctx, block.GUID)
	assert.Equal(t, sanction.ErrNotFound, errors.Cause(err))
	assert.True(t, core.IsNotFound(err))
}

func TestService_Query(t *testing.T) {
	app := testutil.NewApp(t)
	ctx := context.Background()
	start := time.Date(2024, 1, 9, 9, 0, 0, 0, time.UTC)

	testutil.SetNow(t, start)
	warning, err := app.Sanctions.IssueForOverdueLoan(ctx, "loan0000001", "user-1")
	require.NoError(t, err)
	block, err := app.Sanctions.IssueForOverdueLoan(ctx, "loan0000002", "user-1")
	require.NoError(t, err)
	otherWarning, err := app.Sanctions.IssueForOverdueLoan(ctx, "loan0000003", "user-2")
	require.NoError(t, err)

	tests := []struct {
		name   string
		at     time.Time
		filter *sanction.QueryFilter
		want   []sanction.Sanction
	}{
		{name: "all", at: start, want: []sanction.Sanction{warning, block, otherWarning}},
		{name: "by user", at: start, filter: &sanction.QueryFilter{UserGUID: "user-2"}, want: []sanction.Sanction{otherWarning}},
		{name: "by loan", at: start, filter: &sanction.QueryFilter{LoanGUID: "loan0000002"}, want: []sanction.Sanction{block}},
		{name: "by type", at: start, filter: &sanction.QueryFilter{Types: []sanction.Type{sanction.TypeWarning}}, want: []sanction.Sanction{warning, otherWarning}},
		{name: "blocking", at: start, filter: &sanction.QueryFilter{BlockingOnly: true}, want: []sanction.Sanction{block}},
		{name: "blocking, once the block ended", at: start.Add(8 * day), filter: &sanction.QueryFilter{BlockingOnly: true}, want: []sanction.Sanction{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			testutil.SetNow(t, tt.at)
			sanctions, err := app.Sanctions.Query(ctx, tt.filter, nil)
			require.NoError(t, err)
			assert.Equal(t, tt.want, sanctions)
		})
	}
}
