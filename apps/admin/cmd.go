package main

import (
	"context"
	"fmt"
	"io"
	"syscall"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/trezcool/mkopo/core"
	"github.com/trezcool/mkopo/core/loan"
	"github.com/trezcool/mkopo/core/user"
	"github.com/trezcool/mkopo/storage/database"
)

var (
	readPasswordFunc = term.ReadPassword // mockable
	gooseRunFunc     = database.Migrate  // mockable

	errEmptyPassword = errors.New("password cannot be empty")
)

type commandLine struct {
	db      *sqlx.DB
	usrSvc  *user.Service
	loanSvc *loan.Service
	out     io.Writer
}

func (cli *commandLine) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "admin",
		Short:         "Computer loans administration",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(cli.out)
	root.SetErr(cli.out)
	root.AddCommand(cli.migrateCmd(), cli.addUserCmd(), cli.resetPasswordCmd(), cli.sweepCmd())
	return root
}

func (cli *commandLine) run(args []string) error {
	root := cli.rootCmd()
	root.SetArgs(args)
	return root.Execute()
}

func (cli *commandLine) migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate COMMAND [ARGS]",
		Short: "Run a goose command: up, up-by-one, up-to VERSION, down, down-to VERSION, redo, reset, status, version",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.migrate(args)
		},
	}
}

func (cli *commandLine) addUserCmd() *cobra.Command {
	var name, uname, email string
	var isAdmin bool

	cmd := &cobra.Command{
		Use:   "adduser",
		Short: "Create a user, or reactivate and set the password of an existing one",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if uname == "" && email == "" {
				return errors.New("one of --username or --email is required")
			}
			pwd, err := cli.promptPassword()
			if err != nil {
				return err
			}
			usr, err := cli.addUser(cmd.Context(), name, uname, email, pwd, isAdmin)
			if err != nil {
				return err
			}
			fmt.Fprintf(cli.out, "user %s saved\n", usr.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "The user's full name.")
	cmd.Flags().StringVar(&uname, "username", "", "The user's username.")
	cmd.Flags().StringVar(&email, "email", "", "The user's email.")
	cmd.Flags().BoolVar(&isAdmin, "admin", false, "Grant every admin role.")
	return cmd
}

func (cli *commandLine) resetPasswordCmd() *cobra.Command {
	var uname string

	cmd := &cobra.Command{
		Use:   "resetpassword",
		Short: "Reset a user's password; the password is prompted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			pwd, err := cli.promptPassword()
			if err != nil {
				return err
			}
			if _, err = cli.usrSvc.ChangePassword(cmd.Context(), uname, pwd); err != nil {
				return err
			}
			fmt.Fprintln(cli.out, "password changed")
			return nil
		},
	}
	cmd.Flags().StringVar(&uname, "username", "", "The user's username or email.")
	_ = cmd.MarkFlagRequired("username")
	return cmd
}

func (cli *commandLine) sweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Flag overdue loans and sanction their borrowers, once",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			count, err := cli.loanSvc.SweepOverdue(cmd.Context())
			fmt.Fprintf(cli.out, "%d loan(s) flagged overdue\n", count)
			return err
		},
	}
}

func (cli *commandLine) promptPassword() (string, error) {
	fmt.Fprint(cli.out, "Enter password:")
	pwd, err := readPasswordFunc(int(syscall.Stdin))
	fmt.Fprintln(cli.out)
	if err != nil {
		return "", errors.Wrap(err, "reading password")
	}
	if len(pwd) == 0 {
		return "", errEmptyPassword
	}
	return string(pwd), nil
}

func (cli *commandLine) migrate(args []string) error {
	return gooseRunFunc(cli.db, args[0], args[1:]...)
}

// addUser updates or creates a user.User
func (cli *commandLine) addUser(ctx context.Context, name, uname, email, pwd string, isAdmin bool) (user.User, error) {
	uname = core.CleanString(uname, true /* lower */)
	email = core.CleanString(email, true /* lower */)

	var roles []string
	if isAdmin {
		roles = user.AdminRoles
	}
	active := true

	usr, err := cli.findUser(ctx, uname, email)
	if err == nil {
		return cli.usrSvc.Update(ctx, usr, user.UpdateUser{
			Name:     nonEmpty(name, usr.Name),
			Username: nonEmpty(uname, usr.Username),
			Email:    nonEmpty(email, usr.Email),
			IsActive: &active,
			Roles:    roles,
			Password: pwd,
		})
	}
	if errors.Cause(err) != user.ErrNotFound {
		return user.User{}, err
	}

	nu := user.NewUser{
		Name:     nonEmpty(name, nonEmpty(uname, email)),
		Username: uname,
		Email:    email,
		Password: pwd,
		Roles:    roles,
	}
	if err = cli.usrSvc.CheckUniqueness(ctx, nu.Username, nu.Email); err != nil {
		return user.User{}, err
	}
	return cli.usrSvc.Create(ctx, nu)
}

func (cli *commandLine) findUser(ctx context.Context, uname, email string) (user.User, error) {
	for _, key := range []string{uname, email} {
		if key == "" {
			continue
		}
		usr, err := cli.usrSvc.GetByUsernameOrEmail(ctx, key)
		if errors.Cause(err) == user.ErrNotFound {
			continue
		}
		return usr, err
	}
	return user.User{}, user.ErrNotFound
}

func nonEmpty(s, fallback string) string {
	if s != "" {
		return s
	}
	return fallback
}
