package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/stemsi/cbt-backend/internal/model"
	"github.com/stemsi/cbt-backend/internal/repository"
	"github.com/stemsi/cbt-backend/internal/service"
	"golang.org/x/term"
)

const minPasswordLength = 8

func createAdminCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "create-admin",
		Short: "Create a staff account",
		Long: "Create a staff account. Missing fields are prompted for; the\n" +
			"password is always read from the terminal without echo.",
		Args: cobra.NoArgs,
		RunE: runCreateAdmin,
	}
	f := cmd.Flags()
	f.String("email", "", "Login email")
	f.String("name", "", "Display name")
	f.String("role", string(model.RoleAdmin), "Role (admin, teacher, supervisor)")
	return cmd
}

func runCreateAdmin(cmd *cobra.Command, _ []string) error {
	f := cmd.Flags()
	email, _ := f.GetString("email")
	name, _ := f.GetString("name")
	roleFlag, _ := f.GetString("role")

	role := model.Role(strings.ToLower(strings.TrimSpace(roleFlag)))
	if !role.Valid() {
		return fmt.Errorf("unknown role %q", roleFlag)
	}

	in := bufio.NewReader(cmd.InOrStdin())
	out := cmd.OutOrStdout()
	var err error
	if email, err = promptIfEmpty(in, out, "Email", email); err != nil {
		return err
	}
	if name, err = promptIfEmpty(in, out, "Name", name); err != nil {
		return err
	}
	password, err := readPassword(in, out)
	if err != nil {
		return err
	}
	if len(password) < minPasswordLength {
		return fmt.Errorf("password must be at least %d characters", minPasswordLength)
	}

	e := loadEnv()
	pool, err := e.connect(cmd.Context())
	if err != nil {
		return err
	}
	defer pool.Close()

	auth := service.NewAuthService(e.cfg, nil)
	admins := service.NewAdminService(repository.NewAdminRepository(pool), auth)

	admin, err := admins.Create(cmd.Context(), email, name, password, role)
	if errors.Is(err, service.ErrDuplicateEmail) {
		return fmt.Errorf("an account with email %s already exists", email)
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Created %s %q <%s> with ID %d\n", admin.Role, admin.Name, admin.Email, admin.ID)
	return nil
}

func promptIfEmpty(in *bufio.Reader, out io.Writer, label, value string) (string, error) {
	if value = strings.TrimSpace(value); value != "" {
		return value, nil
	}
	fmt.Fprintf(out, "%s: ", label)
	line, err := in.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	if value = strings.TrimSpace(line); value == "" {
		return "", fmt.Errorf("%s is required", strings.ToLower(label))
	}
	return value, nil
}

// readPassword reads without echo from a terminal and falls back to a plain
// line when stdin is piped.
func readPassword(in *bufio.Reader, out io.Writer) (string, error) {
	fmt.Fprint(out, "Password: ")
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		raw, err := term.ReadPassword(fd)
		fmt.Fprintln(out)
		if err != nil {
			return "", fmt.Errorf("read password: %w", err)
		}
		return string(raw), nil
	}
	line, err := in.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}
