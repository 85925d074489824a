// Package di builds the dependency container of the API.
package di

import (
	"fmt"
	"log"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"go.uber.org/dig"

	echoapi "github.com/trezcool/mkopo/apps/api/echo"
	"github.com/trezcool/mkopo/core"
	"github.com/trezcool/mkopo/core/device"
	"github.com/trezcool/mkopo/core/incident"
	"github.com/trezcool/mkopo/core/loan"
	"github.com/trezcool/mkopo/core/sanction"
	"github.com/trezcool/mkopo/core/user"
	emailsvc "github.com/trezcool/mkopo/services/email"
	logsvc "github.com/trezcool/mkopo/services/logger"
	"github.com/trezcool/mkopo/storage/database"
	dummydb "github.com/trezcool/mkopo/storage/database/dummy"
	sqlxrepos "github.com/trezcool/mkopo/storage/database/sqlx"
)

// EngineDummy runs the API on the in-memory store.
const EngineDummy = "dummy"

type (
	DBLoggerParam struct {
		dig.In
		Logger core.Logger `name:"dbLogger"`
	}

	// DBCloser releases the database of the container.
	DBCloser func() error

	sweeperParam struct {
		dig.In
		Svc    *loan.Service
		Logger core.Logger `name:"sweepLogger"`
		Conf   *core.Config
	}

	serverParam struct {
		dig.In
		Conf        *core.Config
		Logger      core.Logger
		Validate    *validator.Validate
		Translator  ut.Translator
		UserSvc     *user.Service
		DeviceSvc   *device.Service
		LoanSvc     *loan.Service
		SanctionSvc *sanction.Service
		IncidentSvc *incident.Service
	}
)

func newComponentLogger(component string, conf *core.Config) core.Logger {
	return logsvc.NewRollbarLogger(logsvc.NewStdLogger(component), conf)
}

func newLogger(conf *core.Config) core.Logger      { return newComponentLogger("API", conf) }
func newDBLogger(conf *core.Config) core.Logger    { return newComponentLogger("DB", conf) }
func newSweepLogger(conf *core.Config) core.Logger { return newComponentLogger("SWEEP", conf) }

func newDB(conf *core.Config, loggerParam DBLoggerParam) (*sqlx.DB, DBCloser) {
	setUp := func() (*sqlx.DB, error) {
		if err := database.CreateIfNotExist(conf); err != nil {
			return nil, err
		}

		db, err := database.Open(conf)
		if err != nil {
			return nil, err
		}

		if err = database.Migrate(db, "up"); err != nil {
			return nil, err
		}
		return db, nil
	}

	db, err := setUp()
	if err != nil {
		loggerParam.Logger.Fatal(fmt.Sprintf("setting up database: %v", err), err)
	}
	return db, db.Close
}

func newTransactor(db *sqlx.DB) core.Transactor {
	return database.NewTransactor(db)
}

func newDummyDB(loggerParam DBLoggerParam) (*dummydb.DB, DBCloser) {
	loggerParam.Logger.Warn("running on the in-memory store: data is lost on exit")
	return dummydb.Open(), func() error { return nil }
}

func newTranslator() ut.Translator {
	_en := en.New()
	uni := ut.New(_en, _en)
	translator, _ := uni.GetTranslator("en")
	return translator
}

func newLoanService(
	repo loan.Repository,
	tx core.Transactor,
	devices *device.Service,
	sanctions *sanction.Service,
	users *user.Service,
	mailer core.EmailService,
	logger core.Logger,
	conf *core.Config,
) *loan.Service {
	return loan.NewService(repo, tx, devices, sanctions, users, mailer, logger, conf)
}

func newIncidentService(repo incident.Repository, tx core.Transactor, devices *device.Service) *incident.Service {
	return incident.NewService(repo, tx, devices)
}

func newSweeper(p sweeperParam) *loan.Sweeper {
	return loan.NewSweeper(p.Svc, p.Logger, p.Conf)
}

func newServer(p serverParam) (*echoapi.Server, error) {
	return echoapi.NewServer(echoapi.ServerDeps{
		Conf:        p.Conf,
		Logger:      p.Logger,
		Validate:    p.Validate,
		Translator:  p.Translator,
		UserSvc:     p.UserSvc,
		DeviceSvc:   p.DeviceSvc,
		LoanSvc:     p.LoanSvc,
		SanctionSvc: p.SanctionSvc,
		IncidentSvc: p.IncidentSvc,
	})
}

// New returns a new dependency injection dig.Container.
// Storage is postgres unless the configured database engine is EngineDummy.
func New() *dig.Container {
	c := dig.New()

	must(c.Provide(core.NewConfig))
	must(c.Provide(newLogger))
	must(c.Provide(newDBLogger, dig.Name("dbLogger")))
	must(c.Provide(newSweepLogger, dig.Name("sweepLogger")))

	var engine string
	must(c.Invoke(func(conf *core.Config) { engine = conf.Database.Engine }))
	if engine == EngineDummy {
		provideDummyStorage(c)
	} else {
		provideSQLStorage(c)
	}

	must(c.Provide(emailsvc.NewService))
	must(c.Provide(validator.New))
	must(c.Provide(newTranslator))
	must(c.Provide(sanction.NewPolicy))
	must(c.Provide(user.NewService))
	must(c.Provide(device.NewService))
	must(c.Provide(sanction.NewService))
	must(c.Provide(newLoanService))
	must(c.Provide(newIncidentService))
	must(c.Provide(newSweeper))
	must(c.Provide(newServer))

	return c
}

func provideSQLStorage(c *dig.Container) {
	must(c.Provide(newDB))
	must(c.Provide(newTransactor))
	must(c.Provide(sqlxrepos.NewUserRepository))
	must(c.Provide(sqlxrepos.NewDeviceRepository))
	must(c.Provide(sqlxrepos.NewLoanRepository))
	must(c.Provide(sqlxrepos.NewSanctionRepository))
	must(c.Provide(sqlxrepos.NewIncidentRepository))
}

func provideDummyStorage(c *dig.Container) {
	must(c.Provide(newDummyDB))
	must(c.Provide(func(db *dummydb.DB) core.Transactor { return db }))
	must(c.Provide(dummydb.NewUserRepository))
	must(c.Provide(dummydb.NewDeviceRepository))
	must(c.Provide(dummydb.NewLoanRepository))
	must(c.Provide(dummydb.NewSanctionRepository))
	must(c.Provide(dummydb.NewIncidentRepository))
}

// must exits program if err happened
func must(err error) {
	if err != nil {
		log.Fatal(errors.Wrap(err, "failed to provide dependency").Error())
	}
}
