// Package testutil sets up the in-memory application used by tests.
package testutil

import (
	"context"
	"io"
	"log"
	"net/mail"
	"testing"
	"time"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"

	"github.com/trezcool/mkopo/core"
	"github.com/trezcool/mkopo/core/device"
	"github.com/trezcool/mkopo/core/incident"
	"github.com/trezcool/mkopo/core/loan"
	"github.com/trezcool/mkopo/core/sanction"
	"github.com/trezcool/mkopo/core/user"
	appfs "github.com/trezcool/mkopo/fs"
	"github.com/trezcool/mkopo/services/email"
	"github.com/trezcool/mkopo/services/logger"
	"github.com/trezcool/mkopo/storage/database/dummy"
)

const Password = "Pa$$w0rd!"

// App holds the services of an application running on the in-memory store.
type App struct {
	Conf       *core.Config
	DB         *dummydb.DB
	Logger     core.Logger
	Mailer     *emailsvc.ConsoleServiceMock
	Validate   *validator.Validate
	Translator ut.Translator

	UserRepo     user.Repository
	DeviceRepo   device.Repository
	LoanRepo     loan.Repository
	SanctionRepo sanction.Repository
	IncidentRepo incident.Repository

	Users     *user.Service
	Devices   *device.Service
	Sanctions *sanction.Service
	Loans     *loan.Service
	Incidents *incident.Service
}

func NewConfig() *core.Config {
	conf := &core.Config{
		AppName:          "Mkopo",
		Build:            "test",
		Env:              "TEST",
		TestMode:         true,
		SecretKey:        "test-secret-key",
		DefaultFromEmail: mail.Address{Name: "Mkopo", Address: "noreply@mkopo.test"},
		FrontendBaseURL:  "http://localhost:8080",
	}
	conf.Server.ShutdownTimeout = time.Second
	conf.Server.JWTExpirationDelta = time.Hour
	conf.Server.JWTRefreshExpirationDelta = 4 * time.Hour
	conf.Loan.Period = 7 * 24 * time.Hour
	conf.Loan.SweepInterval = 24 * time.Hour
	conf.Sanction.Window = 90 * 24 * time.Hour
	conf.Sanction.BlockPeriod = 7 * 24 * time.Hour
	return conf
}

// NewLogger returns a logger that writes nowhere.
func NewLogger(conf *core.Config) core.Logger {
	return logsvc.NewRollbarLogger(log.New(io.Discard, "TEST : ", 0), conf)
}

func NewValidator() (*validator.Validate, ut.Translator) {
	enLocale := en.New()
	translator, _ := ut.New(enLocale, enLocale).GetTranslator("en")
	validate := validator.New()
	core.InitValidators(validate, translator)
	user.InitValidators(validate, translator)
	return validate, translator
}

func NewApp(t *testing.T) *App {
	t.Helper()

	conf := NewConfig()
	lg := NewLogger(conf)
	core.ParseEmailTemplates(appfs.FS, appfs.EmailTemplatesDir, conf, lg)
	validate, translator := NewValidator()

	db := dummydb.Open()
	app := &App{
		Conf:         conf,
		DB:           db,
		Logger:       lg,
		Mailer:       emailsvc.NewConsoleServiceMock(conf, lg),
		Validate:     validate,
		Translator:   translator,
		UserRepo:     dummydb.NewUserRepository(db),
		DeviceRepo:   dummydb.NewDeviceRepository(db),
		LoanRepo:     dummydb.NewLoanRepository(db),
		SanctionRepo: dummydb.NewSanctionRepository(db),
		IncidentRepo: dummydb.NewIncidentRepository(db),
	}
	app.Users = user.NewService(app.UserRepo)
	app.Devices = device.NewService(app.DeviceRepo)
	app.Sanctions = sanction.NewService(app.SanctionRepo, sanction.NewPolicy(conf))
	app.Loans = loan.NewService(app.LoanRepo, db, app.Devices, app.Sanctions, app.Users, app.Mailer, lg, conf)
	app.Incidents = incident.NewService(app.IncidentRepo, db, app.Devices)
	return app
}

// SetNow freezes core.Now at tm until the end of the test.
func SetNow(t *testing.T, tm time.Time) {
	t.Helper()
	orig := core.NowFunc
	core.NowFunc = func() time.Time { return tm }
	t.Cleanup(func() { core.NowFunc = orig })
}

func CreateUser(
	t *testing.T,
	repo user.Repository,
	name, uname, email, pwd string,
	roles []string,
	isActive bool,
	createdAt ...time.Time,
) user.User {
	t.Helper()

	tstamp := core.Now()
	if len(createdAt) > 0 {
		tstamp = createdAt[0].UTC()
	}
	if roles == nil {
		roles = []string{}
	}
	usr := user.User{
		Name:      name,
		Username:  uname,
		Email:     email,
		Roles:     roles,
		IsActive:  isActive,
		CreatedAt: tstamp,
		UpdatedAt: tstamp,
	}
	if pwd != "" {
		if err := usr.SetPassword(pwd); err != nil {
			t.Fatalf("createUser() failed: %v", err)
		}
	}
	usr, err := repo.CreateUser(context.Background(), usr)
	if err != nil {
		t.Fatalf("createUser() failed: %v", err)
	}
	return usr
}

// CreateStudent creates an active student with Password.
func (app *App) CreateStudent(t *testing.T, uname string) user.User {
	t.Helper()
	return CreateUser(t, app.UserRepo, "Student "+uname, uname, uname+"@mkopo.test", Password, []string{user.RoleStudent}, true)
}

// CreateAdmin creates an active admin with Password.
func (app *App) CreateAdmin(t *testing.T, uname string) user.User {
	t.Helper()
	return CreateUser(t, app.UserRepo, "Admin "+uname, uname, uname+"@mkopo.test", Password, []string{user.RoleAdmin}, true)
}

// CreateDevice creates an AVAILABLE device holding stock units.
func (app *App) CreateDevice(t *testing.T, serialNumber string, stock int) device.Device {
	t.Helper()

	dev, err := app.Devices.Create(context.Background(), device.NewDevice{
		SerialNumber:         serialNumber,
		ComponentDescription: "Laptop " + serialNumber,
		StockCount:           stock,
		State:                device.StateAvailable,
	})
	if err != nil {
		t.Fatalf("createDevice() failed: %v", err)
	}
	return dev
}
