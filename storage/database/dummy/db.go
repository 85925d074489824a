// Package dummydb is an in-memory implementation of every repository, used by tests and by the API when the database engine is "dummy".
// Mutate* operations hold the table lock across load, apply and save, like SELECT ... FOR UPDATE does.
package dummydb

import (
	"context"
	"sync"

	"github.com/trezcool/mkopo/core"
	"github.com/trezcool/mkopo/core/device"
	"github.com/trezcool/mkopo/core/incident"
	"github.com/trezcool/mkopo/core/loan"
	"github.com/trezcool/mkopo/core/sanction"
	"github.com/trezcool/mkopo/core/user"
)

type (
	DB struct {
		user     *userTable
		device   *deviceTable
		loan     *loanTable
		sanction *sanctionTable
		incident *incidentTable
	}

	userTable struct {
		sync.RWMutex
		table map[string]*user.User // {id: user}
	}

	deviceTable struct {
		sync.RWMutex
		pk    int64
		table map[string]*device.Device // {guid: device}
	}

	loanTable struct {
		sync.RWMutex
		pk    int64
		table map[string]*loan.Loan
	}

	sanctionTable struct {
		sync.RWMutex
		pk    int64
		table map[string]*sanction.Sanction
	}

	incidentTable struct {
		sync.RWMutex
		pk    int64
		table map[string]*incident.Incident
	}
)

var _ core.Transactor = (*DB)(nil) // interface compliance check

func Open() *DB {
	db := new(DB)
	db.Reset()
	return db
}

// Reset empties every table.
func (db *DB) Reset() {
	db.user = &userTable{table: make(map[string]*user.User)}
	db.device = &deviceTable{table: make(map[string]*device.Device)}
	db.loan = &loanTable{table: make(map[string]*loan.Loan)}
	db.sanction = &sanctionTable{table: make(map[string]*sanction.Sanction)}
	db.incident = &incidentTable{table: make(map[string]*incident.Incident)}
}

// RunInTx runs fn right away: every repository operation is atomic on its own and nothing is rolled back.
func (db *DB) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}
