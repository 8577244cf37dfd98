package main

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/quocanhngo/fleetwatch/internal/config"
	"github.com/quocanhngo/fleetwatch/pkg/auth"
)

const usage = `usage:
  operator hash [password]   print a bcrypt hash for OPERATOR_PASSWORD_HASH (reads stdin when omitted)
  operator token [email]     mint a dashboard token signed with JWT_SECRET`

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}

	var err error
	switch os.Args[1] {
	case "hash":
		err = hashPassword(os.Args[2:])
	case "token":
		err = mintToken(os.Args[2:], logger)
	default:
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}
	if err != nil {
		logger.Error("operator command failed", "command", os.Args[1], "error", err)
		os.Exit(1)
	}
}

func hashPassword(args []string) error {
	var password string
	if len(args) > 0 {
		password = args[0]
	} else {
		line, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil && line == "" {
			return fmt.Errorf("failed to read password: %w", err)
		}
		password = strings.TrimRight(line, "\r\n")
	}
	if len(password) < 8 {
		return fmt.Errorf("password must be at least 8 characters")
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}
	fmt.Println(string(hashed))
	return nil
}

// mintToken issues a token for scripts that talk to the dashboard API
// without going through /auth/login.
func mintToken(args []string, logger *slog.Logger) error {
	cfg := config.Load()

	email := cfg.Operator.Email
	if len(args) > 0 {
		email = args[0]
	}
	if cfg.JWT.Secret == "default-secret" {
		logger.Warn("JWT_SECRET is the default value, the token is only good for local use")
	}

	token, err := auth.NewJWTManager(cfg.JWT.Secret, cfg.JWT.Expiry).GenerateToken(email)
	if err != nil {
		return fmt.Errorf("failed to sign token: %w", err)
	}
	fmt.Println(token)
	return nil
}
