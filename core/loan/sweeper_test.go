package loan_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/trezcool/mkopo/core/loan"
	"github.com/trezcool/mkopo/tests"
)

func TestSweeper(t *testing.T) {
	app := testutil.NewApp(t)
	student := app.CreateStudent(t, "student_one")
	dev := app.CreateDevice(t, "SN-001", 1)

	testutil.SetNow(t, jan1)
	ln := borrow(t, app, student, dev)
	testutil.SetNow(t, jan9)

	sw := loan.NewSweeper(app.Loans, app.Logger, app.Conf)
	sw.Start(context.Background())
	defer sw.Stop()

	// the first sweep runs right away
	assert.Eventually(t, func() bool {
		l, err := app.Loans.Get(context.Background(), ln.GUID)
		return err == nil && l.State == loan.StateOverdue
	}, time.Second, 10*time.Millisecond)
}

func TestSweeper_Stop(t *testing.T) {
	app := testutil.NewApp(t)
	sw := loan.NewSweeper(app.Loans, app.Logger, app.Conf)

	// stopping a sweeper that never started is a no-op
	sw.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	sw.Start(ctx)
	cancel()

	done := make(chan struct{})
	go func() {
		sw.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Stop() did not return")
	}
}
