// Command carectl performs privileged account operations that have no HTTP
// surface: creating users and assigning patients to therapists.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"cbt-companion/internal/config"
	"cbt-companion/internal/identity"
	"cbt-companion/internal/platform/database"
	"cbt-companion/internal/platform/logger"
)

const usage = `usage:
  carectl create-user -name <name> -email <email> -password <password> -role PATIENT|THERAPIST
  carectl assign -patient <id> -therapist <id>`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}

	cfg := config.Load()
	log, err := logger.New(cfg.Log.Level, "console", "carectl")
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer log.Sync()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	db, err := database.Open(ctx, database.Config{URL: cfg.Database.URL})
	if err != nil {
		log.Fatal("could not connect to database", zap.Error(err))
	}
	defer db.Close()

	svc := identity.NewService(identity.NewRepository(db), identity.NewTokenIssuer(cfg.Auth.JWTSecret, cfg.Auth.SessionTTL), log)

	switch os.Args[1] {
	case "create-user":
		err = createUser(ctx, svc, log, os.Args[2:])
	case "assign":
		err = assign(ctx, svc, log, os.Args[2:])
	default:
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}
	if err != nil {
		log.Error("command failed", zap.String("command", os.Args[1]), zap.Error(err))
		os.Exit(1)
	}
}

func createUser(ctx context.Context, svc *identity.Service, log *zap.Logger, args []string) error {
	fs := flag.NewFlagSet("create-user", flag.ExitOnError)
	name := fs.String("name", "", "login name")
	email := fs.String("email", "", "email address")
	password := fs.String("password", "", "initial password")
	role := fs.String("role", "PATIENT", "PATIENT or THERAPIST")
	_ = fs.Parse(args)

	r, ok := identity.ParseRole(*role)
	if !ok {
		return fmt.Errorf("invalid role %q", *role)
	}
	u, err := svc.CreateUser(ctx, identity.NewUser{Name: *name, Email: *email, Password: *password, Role: r})
	if err != nil {
		return err
	}
	log.Info("user created", zap.String("id", u.ID.String()), zap.String("name", u.Name), zap.String("role", string(u.Role)))
	return nil
}

func assign(ctx context.Context, svc *identity.Service, log *zap.Logger, args []string) error {
	fs := flag.NewFlagSet("assign", flag.ExitOnError)
	patient := fs.String("patient", "", "patient user id")
	therapist := fs.String("therapist", "", "therapist user id")
	_ = fs.Parse(args)

	patientID, err := uuid.Parse(*patient)
	if err != nil {
		return fmt.Errorf("invalid patient id: %w", err)
	}
	therapistID, err := uuid.Parse(*therapist)
	if err != nil {
		return fmt.Errorf("invalid therapist id: %w", err)
	}
	if err := svc.Assign(ctx, patientID, therapistID); err != nil {
		return err
	}
	log.Info("patient assigned", zap.String("patient_id", patientID.String()), zap.String("therapist_id", therapistID.String()))
	return nil
}
