package main

import (
	"fmt"
	"os"

	"github.com/trezcool/mkopo/core"
	"github.com/trezcool/mkopo/core/device"
	"github.com/trezcool/mkopo/core/loan"
	"github.com/trezcool/mkopo/core/sanction"
	"github.com/trezcool/mkopo/core/user"
	appfs "github.com/trezcool/mkopo/fs"
	emailsvc "github.com/trezcool/mkopo/services/email"
	logsvc "github.com/trezcool/mkopo/services/logger"
	"github.com/trezcool/mkopo/storage/database"
	sqlxrepos "github.com/trezcool/mkopo/storage/database/sqlx"
)

func main() {
	os.Exit(run())
}

func run() int {
	conf := core.NewConfig()
	logger := logsvc.NewRollbarLogger(logsvc.NewStdLogger("ADMIN"), conf)

	// set up DB
	if err := database.CreateIfNotExist(conf); err != nil {
		logger.Error(fmt.Sprintf("creating database: %v", err), err)
		return 1
	}
	db, err := database.Open(conf)
	if err != nil {
		logger.Error(fmt.Sprintf("opening database: %v", err), err)
		return 1
	}
	defer func() { _ = db.Close() }()

	core.ParseEmailTemplates(appfs.FS, appfs.EmailTemplatesDir, conf, logger)

	// set up services
	usrSvc := user.NewService(sqlxrepos.NewUserRepository(db))
	devSvc := device.NewService(sqlxrepos.NewDeviceRepository(db))
	sancSvc := sanction.NewService(sqlxrepos.NewSanctionRepository(db), sanction.NewPolicy(conf))
	loanSvc := loan.NewService(
		sqlxrepos.NewLoanRepository(db),
		database.NewTransactor(db),
		devSvc,
		sancSvc,
		usrSvc,
		// TODO: wait for the overdue notices of `sweep` to be sent before exiting
		emailsvc.NewService(conf, logger),
		logger,
		conf,
	)

	// start CLI
	cli := commandLine{
		db:      db,
		usrSvc:  usrSvc,
		loanSvc: loanSvc,
		out:     os.Stdout,
	}
	if err = cli.run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "\nerror: %s\n", err)
		return 1
	}
	return 0
}
