package loan_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/mkopo/core"
	"github.com/trezcool/mkopo/core/device"
	"github.com/trezcool/mkopo/core/loan"
	"github.com/trezcool/mkopo/core/sanction"
	"github.com/trezcool/mkopo/core/user"
	"github.com/trezcool/mkopo/tests"
)

var (
	jan1 = time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	jan9 = time.Date(2024, 1, 9, 9, 0, 0, 0, time.UTC)
)

func getDevice(t *testing.T, app *testutil.App, guid string) device.Device {
	t.Helper()
	dev, err := app.Devices.Get(context.Background(), guid)
	require.NoError(t, err)
	return dev
}

func getLoan(t *testing.T, app *testutil.App, guid string) loan.Loan {
	t.Helper()
	ln, err := app.Loans.Get(context.Background(), guid)
	require.NoError(t, err)
	return ln
}

func borrow(t *testing.T, app *testutil.App, usr user.User, dev device.Device) loan.Loan {
	t.Helper()
	ln, err := app.Loans.Create(context.Background(), loan.NewLoan{UserGUID: usr.ID, DeviceGUID: dev.GUID})
	require.NoError(t, err)
	return ln
}

func userSanctions(t *testing.T, app *testutil.App, usr user.User) []sanction.Sanction {
	t.Helper()
	sanctions, err := app.Sanctions.Query(
		context.Background(),
		&sanction.QueryFilter{UserGUID: usr.ID},
		[]core.DBOrdering{{Field: "sanction_date", Ascending: true}},
	)
	require.NoError(t, err)
	return sanctions
}

func TestService_Create(t *testing.T) {
	app := testutil.NewApp(t)
	testutil.SetNow(t, jan1)
	student := app.CreateStudent(t, "student_one")
	dev := app.CreateDevice(t, "SN-001", 2)

	ln := borrow(t, app, student, dev)

	assert.True(t, core.IsGUID(ln.GUID))
	assert.Equal(t, student.ID, ln.UserGUID)
	assert.Equal(t, dev.GUID, ln.DeviceGUID)
	assert.Equal(t, loan.StateInProgress, ln.State)
	assert.Equal(t, jan1, ln.LoanDate)
	assert.Equal(t, time.Date(2024, 1, 8, 9, 0, 0, 0, time.UTC), ln.DueDate)
	assert.Nil(t, ln.ClosedAt)
	assert.Equal(t, ln, getLoan(t, app, ln.GUID))

	dev = getDevice(t, app, dev.GUID)
	assert.Equal(t, 1, dev.StockCount)
	assert.Equal(t, device.StateAvailable, dev.State)

	sent := app.Mailer.Sent()
	if assert.Len(t, sent, 1) {
		assert.Equal(t, "loan_created", sent[0].TemplateName)
		assert.Equal(t, student.Email, sent[0].To[0].Address)
		assert.Contains(t, sent[0].TextContent, ln.GUID)
	}
}

func TestService_Create_lastUnit(t *testing.T) {
	app := testutil.NewApp(t)
	student := app.CreateStudent(t, "student_one")
	dev := app.CreateDevice(t, "SN-001", 1)

	borrow(t, app, student, dev)

	dev = getDevice(t, app, dev.GUID)
	assert.Equal(t, 0, dev.StockCount)
	assert.Equal(t, device.StateLoaned, dev.State)

	_, err := app.Loans.Create(context.Background(), loan.NewLoan{UserGUID: student.ID, DeviceGUID: dev.GUID})
	assert.Equal(t, device.ErrUnavailable, errors.Cause(err))
	assert.Equal(t, core.KindUnavailable, core.KindOf(err))
}

func TestService_Create_anyDevice(t *testing.T) {
	app := testutil.NewApp(t)
	student := app.CreateStudent(t, "student_one")
	dev1 := app.CreateDevice(t, "SN-001", 1)
	dev2 := app.CreateDevice(t, "SN-002", 1)
	first, second := dev1, dev2
	if second.GUID < first.GUID {
		first, second = second, first
	}

	ln1, err := app.Loans.Create(context.Background(), loan.NewLoan{UserGUID: student.ID})
	require.NoError(t, err)
	assert.Equal(t, first.GUID, ln1.DeviceGUID)

	ln2, err := app.Loans.Create(context.Background(), loan.NewLoan{UserGUID: student.ID})
	require.NoError(t, err)
	assert.Equal(t, second.GUID, ln2.DeviceGUID)

	_, err = app.Loans.Create(context.Background(), loan.NewLoan{UserGUID: student.ID})
	assert.Equal(t, device.ErrUnavailable, errors.Cause(err))
}

func TestService_Create_errors(t *testing.T) {
	app := testutil.NewApp(t)
	student := app.CreateStudent(t, "student_one")
	inactive := testutil.CreateUser(t, app.UserRepo, "Gone", "gone_student", "gone@mkopo.test", testutil.Password, []string{user.RoleStudent}, false)
	dev := app.CreateDevice(t, "SN-001", 1)

	newDev, err := app.Devices.Create(context.Background(), device.NewDevice{SerialNumber: "SN-NEW", ComponentDescription: "Laptop", StockCount: 3})
	require.NoError(t, err)

	tests := []struct {
		name    string
		nl      loan.NewLoan
		wantErr error
	}{
		{name: "unknown user", nl: loan.NewLoan{UserGUID: "lol", DeviceGUID: dev.GUID}, wantErr: user.ErrNotFound},
		{name: "inactive user", nl: loan.NewLoan{UserGUID: inactive.ID, DeviceGUID: dev.GUID}, wantErr: loan.ErrUserInactive},
		{name: "unknown device", nl: loan.NewLoan{UserGUID: student.ID, DeviceGUID: "AAAAAAAAAAA"}, wantErr: device.ErrNotFound},
		{name: "NEW device", nl: loan.NewLoan{UserGUID: student.ID, DeviceGUID: newDev.GUID}, wantErr: device.ErrUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := app.Loans.Create(context.Background(), tt.nl)
			assert.Equal(t, tt.wantErr, errors.Cause(err))
		})
	}

	loans, err := app.Loans.Query(context.Background(), nil, nil)
	require.NoError(t, err)
	assert.Empty(t, loans)
	assert.Equal(t, 1, getDevice(t, app, dev.GUID).StockCount)
	assert.Empty(t, app.Mailer.Sent())
}

func TestService_Create_concurrentLastUnit(t *testing.T) {
	app := testutil.NewApp(t)
	alice := app.CreateStudent(t, "alice_student")
	bob := app.CreateStudent(t, "bob_student")
	dev := app.CreateDevice(t, "SN-001", 1)

	var (
		wg   sync.WaitGroup
		errs = make([]error, 2)
	)
	for i, usr := range []user.User{alice, bob} {
		wg.Add(1)
		go func(i int, usr user.User) {
			defer wg.Done()
			_, errs[i] = app.Loans.Create(context.Background(), loan.NewLoan{UserGUID: usr.ID, DeviceGUID: dev.GUID})
		}(i, usr)
	}
	wg.Wait()

	var succeeded, unavailable int
	for _, err := range errs {
		switch {
		case err == nil:
			succeeded++
		case errors.Cause(err) == device.ErrUnavailable:
			unavailable++
		}
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 1, unavailable)

	dev = getDevice(t, app, dev.GUID)
	assert.Equal(t, 0, dev.StockCount)
	assert.Equal(t, device.StateLoaned, dev.State)
}

func TestService_close(t *testing.T) {
	tests := []struct {
		name      string
		close     func(svc *loan.Service, ctx context.Context, guid string) (loan.Loan, error)
		wantState loan.State
	}{
		{name: "return", close: (*loan.Service).Return, wantState: loan.StateReturned},
		{name: "cancel", close: (*loan.Service).Cancel, wantState: loan.StateCancelled},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app := testutil.NewApp(t)
			testutil.SetNow(t, jan1)
			student := app.CreateStudent(t, "student_one")
			dev := app.CreateDevice(t, "SN-001", 1)
			ln := borrow(t, app, student, dev)

			testutil.SetNow(t, jan1.Add(time.Hour))
			closed, err := tt.close(app.Loans, context.Background(), ln.GUID)
			require.NoError(t, err)
			assert.Equal(t, tt.wantState, closed.State)
			if assert.NotNil(t, closed.ClosedAt) {
				assert.Equal(t, jan1.Add(time.Hour), *closed.ClosedAt)
			}

			dev = getDevice(t, app, dev.GUID)
			assert.Equal(t, 1, dev.StockCount)
			assert.Equal(t, device.StateAvailable, dev.State)

			// closing twice neither succeeds nor releases the unit again
			for _, again := range []func(context.Context, string) (loan.Loan, error){app.Loans.Return, app.Loans.Cancel} {
				_, err = again(context.Background(), ln.GUID)
				assert.Equal(t, loan.ErrAlreadyTerminal, errors.Cause(err))
				assert.Equal(t, core.KindAlreadyTerminal, core.KindOf(err))
			}
			assert.Equal(t, 1, getDevice(t, app, dev.GUID).StockCount)
			assert.Equal(t, tt.wantState, getLoan(t, app, ln.GUID).State)
		})
	}
}

func TestService_close_notFound(t *testing.T) {
	app := testutil.NewApp(t)

	_, err := app.Loans.Return(context.Background(), "AAAAAAAAAAA")
	assert.Equal(t, loan.ErrNotFound, errors.Cause(err))

	_, err = app.Loans.Cancel(context.Background(), "AAAAAAAAAAA")
	assert.Equal(t, loan.ErrNotFound, errors.Cause(err))
}

func TestService_Return_concurrent(t *testing.T) {
	app := testutil.NewApp(t)
	student := app.CreateStudent(t, "student_one")
	dev := app.CreateDevice(t, "SN-001", 1)
	ln := borrow(t, app, student, dev)

	var (
		wg   sync.WaitGroup
		errs = make([]error, 5)
	)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = app.Loans.Return(context.Background(), ln.GUID)
		}(i)
	}
	wg.Wait()

	var succeeded int
	for _, err := range errs {
		if err == nil {
			succeeded++
		} else {
			assert.Equal(t, loan.ErrAlreadyTerminal, errors.Cause(err))
		}
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 1, getDevice(t, app, dev.GUID).StockCount)
}

func TestService_Delete(t *testing.T) {
	app := testutil.NewApp(t)
	student := app.CreateStudent(t, "student_one")
	dev := app.CreateDevice(t, "SN-001", 1)
	ln := borrow(t, app, student, dev)

	assert.Equal(t, loan.ErrLoanOpen, errors.Cause(app.Loans.Delete(context.Background(), ln.GUID)))

	_, err := app.Loans.Return(context.Background(), ln.GUID)
	require.NoError(t, err)
	require.NoError(t, app.Loans.Delete(context.Background(), ln.GUID))

	_, err = app.Loans.Get(context.Background(), ln.GUID)
	assert.Equal(t, loan.ErrNotFound, errors.Cause(err))
	assert.Equal(t, loan.ErrNotFound, errors.Cause(app.Loans.Delete(context.Background(), ln.GUID)))

	loans, err := app.Loans.Query(context.Background(), &loan.QueryFilter{UserGUID: student.ID}, nil)
	require.NoError(t, err)
	assert.Empty(t, loans)
}

func TestService_Query(t *testing.T) {
	app := testutil.NewApp(t)
	alice := app.CreateStudent(t, "alice_student")
	bob := app.CreateStudent(t, "bob_student")
	dev := app.CreateDevice(t, "SN-001", 5)

	testutil.SetNow(t, jan1)
	l1 := borrow(t, app, alice, dev)
	testutil.SetNow(t, jan1.Add(24*time.Hour))
	l2 := borrow(t, app, alice, dev)
	l3 := borrow(t, app, bob, dev)
	_, err := app.Loans.Return(context.Background(), l2.GUID)
	require.NoError(t, err)

	tests := []struct {
		name     string
		filter   *loan.QueryFilter
		ordering []core.DBOrdering
		want     []string
	}{
		{
			name:     "all",
			ordering: []core.DBOrdering{{Field: "loan_date", Ascending: true}},
			want:     []string{l1.GUID, l2.GUID, l3.GUID},
		},
		{name: "by user", filter: &loan.QueryFilter{UserGUID: bob.ID}, want: []string{l3.GUID}},
		{
			name:   "by state",
			filter: &loan.QueryFilter{UserGUID: alice.ID, States: []loan.State{loan.StateInProgress}},
			want:   []string{l1.GUID},
		},
		{
			name:   "due before",
			filter: &loan.QueryFilter{DueBefore: jan1.Add(7*24*time.Hour + time.Minute)},
			want:   []string{l1.GUID},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			loans, err := app.Loans.Query(context.Background(), tt.filter, tt.ordering)
			require.NoError(t, err)
			guids := make([]string, 0, len(loans))
			for _, ln := range loans {
				guids = append(guids, ln.GUID)
			}
			assert.Equal(t, tt.want, guids)
		})
	}
}

func TestService_SweepOverdue(t *testing.T) {
	app := testutil.NewApp(t)
	student := app.CreateStudent(t, "student_one")
	dev := app.CreateDevice(t, "SN-001", 3)

	testutil.SetNow(t, jan1)
	ln := borrow(t, app, student, dev)
	assert.Equal(t, time.Date(2024, 1, 8, 9, 0, 0, 0, time.UTC), ln.DueDate)

	// not due yet
	testutil.SetNow(t, time.Date(2024, 1, 8, 9, 0, 0, 0, time.UTC))
	count, err := app.Loans.SweepOverdue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, count)
	assert.Equal(t, loan.StateInProgress, getLoan(t, app, ln.GUID).State)

	app.Mailer.Reset()
	testutil.SetNow(t, jan9)
	count, err = app.Loans.SweepOverdue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	ln = getLoan(t, app, ln.GUID)
	assert.Equal(t, loan.StateOverdue, ln.State)
	assert.Nil(t, ln.ClosedAt)

	sanctions := userSanctions(t, app, student)
	if assert.Len(t, sanctions, 1) {
		assert.Equal(t, sanction.TypeWarning, sanctions[0].Type)
		assert.Equal(t, ln.GUID, sanctions[0].LoanGUID)
		assert.Equal(t, jan9, sanctions[0].SanctionDate)
		assert.Nil(t, sanctions[0].EndDate)
	}

	sent := app.Mailer.Sent()
	if assert.Len(t, sent, 1) {
		assert.Equal(t, "loan_overdue", sent[0].TemplateName)
		assert.Contains(t, sent[0].TextContent, "This is a warning")
	}

	// a warning does not block
	borrow(t, app, student, dev)

	// idempotent
	count, err = app.Loans.SweepOverdue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, count)
	assert.Len(t, userSanctions(t, app, student), 1)
}

func TestService_SweepOverdue_escalation(t *testing.T) {
	app := testutil.NewApp(t)
	student := app.CreateStudent(t, "student_one")
	dev := app.CreateDevice(t, "SN-001", 5)

	testutil.SetNow(t, jan1)
	borrow(t, app, student, dev)
	testutil.SetNow(t, jan9)
	_, err := app.Loans.SweepOverdue(context.Background())
	require.NoError(t, err)

	// second overdue loan
	borrow(t, app, student, dev)
	sweepAt := jan9.Add(8 * 24 * time.Hour)
	testutil.SetNow(t, sweepAt)
	count, err := app.Loans.SweepOverdue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	sanctions := userSanctions(t, app, student)
	require.Len(t, sanctions, 2)
	block := sanctions[1]
	assert.Equal(t, sanction.TypeTempBlock, block.Type)
	if assert.NotNil(t, block.EndDate) {
		assert.Equal(t, sweepAt.Add(7*24*time.Hour), *block.EndDate)
	}

	_, err = app.Loans.Create(context.Background(), loan.NewLoan{UserGUID: student.ID, DeviceGUID: dev.GUID})
	assert.Equal(t, loan.ErrUserSanctioned, errors.Cause(err))
	assert.Equal(t, core.KindPolicyViolation, core.KindOf(err))

	// the block ends
	testutil.SetNow(t, sweepAt.Add(7*24*time.Hour+time.Second))
	ln := borrow(t, app, student, dev)

	// third overdue loan
	testutil.SetNow(t, ln.DueDate.Add(time.Hour))
	_, err = app.Loans.SweepOverdue(context.Background())
	require.NoError(t, err)

	sanctions = userSanctions(t, app, student)
	require.Len(t, sanctions, 3)
	indefinite := sanctions[2]
	assert.Equal(t, sanction.TypeIndefinite, indefinite.Type)
	assert.Nil(t, indefinite.EndDate)

	_, err = app.Loans.Create(context.Background(), loan.NewLoan{UserGUID: student.ID, DeviceGUID: dev.GUID})
	assert.Equal(t, loan.ErrUserSanctioned, errors.Cause(err))

	require.NoError(t, app.Sanctions.Lift(context.Background(), indefinite.GUID))
	borrow(t, app, student, dev)
}

func TestService_SweepOverdue_closedLoans(t *testing.T) {
	app := testutil.NewApp(t)
	student := app.CreateStudent(t, "student_one")
	dev := app.CreateDevice(t, "SN-001", 2)

	testutil.SetNow(t, jan1)
	returned := borrow(t, app, student, dev)
	_, err := app.Loans.Return(context.Background(), returned.GUID)
	require.NoError(t, err)
	overdue := borrow(t, app, student, dev)

	testutil.SetNow(t, jan9)
	count, err := app.Loans.SweepOverdue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	assert.Equal(t, loan.StateReturned, getLoan(t, app, returned.GUID).State)

	// an overdue loan can still be returned
	ln, err := app.Loans.Return(context.Background(), overdue.GUID)
	require.NoError(t, err)
	assert.Equal(t, loan.StateReturned, ln.State)

	dev = getDevice(t, app, dev.GUID)
	assert.Equal(t, 2, dev.StockCount)
	assert.Equal(t, device.StateAvailable, dev.State)
}

func TestService_SweepOverdue_cancelled(t *testing.T) {
	app := testutil.NewApp(t)
	student := app.CreateStudent(t, "student_one")
	dev := app.CreateDevice(t, "SN-001", 2)

	testutil.SetNow(t, jan1)
	borrow(t, app, student, dev)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	testutil.SetNow(t, jan9)
	count, err := app.Loans.SweepOverdue(ctx)
	assert.Equal(t, context.Canceled, errors.Cause(err))
	assert.Equal(t, 0, count)
}
