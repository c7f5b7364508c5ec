package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"library-circulation/config"
	"library-circulation/library"
)

// app carries what every command needs once the root command has run.
type app struct {
	configPath string
	staffUser  string

	cfg    *config.Config
	logger *slog.Logger
	mgr    *library.LibraryManager
	staff  *library.Staff
}

func main() {
	a := &app{}
	root := &cobra.Command{
		Use:           "librarian",
		Short:         "Library circulation desk: loans, returns, penalties and member debt",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.open(cmd)
		},
	}
	root.PersistentFlags().StringVar(&a.configPath, "config", "", "path to librarian.yaml (default $CONFIG_PATH or ./librarian.yaml)")
	root.PersistentFlags().StringVar(&a.staffUser, "staff", "", "staff username; prompts for the password")

	root.AddCommand(
		a.initAdminCmd(),
		a.staffCmd(),
		a.bookCmd(),
		a.memberCmd(),
		a.loanCmd(),
		a.penaltyCmd(),
		a.debtCmd(),
		a.reportCmd(),
	)

	err := root.Execute()
	if a.mgr != nil {
		a.mgr.Close()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func (a *app) open(cmd *cobra.Command) error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.logger = config.NewLogger(cfg.Log)

	a.mgr, err = library.NewLibraryManager(cfg, library.WithLogger(a.logger))
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}

	if a.staffUser == "" {
		return nil
	}
	password, err := readPassword(fmt.Sprintf("Password for %s: ", a.staffUser))
	if err != nil {
		return fmt.Errorf("failed to read password: %w", err)
	}
	a.staff, err = a.mgr.AuthenticateStaff(cmd.Context(), a.staffUser, password)
	if err != nil {
		return fmt.Errorf("authentication failed: %w", err)
	}
	return nil
}

// requireAdmin fails unless --staff named an admin account.
func (a *app) requireAdmin() error {
	if a.staff == nil {
		return errors.New("this command needs --staff with an admin account")
	}
	if !a.staff.IsAdmin() {
		return fmt.Errorf("%s is not an admin", a.staff.Username)
	}
	return nil
}

func (a *app) staffID() int64 {
	if a.staff == nil {
		return 0
	}
	return a.staff.ID
}

// readPassword reads a password without echo. LIBRARIAN_PASSWORD is used
// instead when set, for scripted runs.
func readPassword(prompt string) (string, error) {
	if pw, ok := os.LookupEnv("LIBRARIAN_PASSWORD"); ok {
		return pw, nil
	}
	fmt.Print(prompt)
	bytePassword, err := term.ReadPassword(int(syscall.Stdin))
	if err != nil {
		return "", err
	}
	fmt.Println()
	return strings.TrimSpace(string(bytePassword)), nil
}

// report prints an operation outcome and turns a rejection into a non-zero
// exit.
func report(out library.Outcome) error {
	if out.OK {
		fmt.Println(out.Message)
		return nil
	}
	if code := library.Reason(out.Reason); code != "" {
		return fmt.Errorf("%s (%s)", out.Message, code)
	}
	return errors.New(out.Message)
}

func parseID(kind, s string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid %s ID: %s", kind, s)
	}
	return id, nil
}
