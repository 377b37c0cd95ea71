// Package main is the entry point for the blog accounts admin CLI.
// This tool provides administrative commands for managing accounts and
// running maintenance jobs outside the server process.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"

	"github.com/prn-tf/blog-accounts/internal/cache/memory"
	"github.com/prn-tf/blog-accounts/internal/cache/redis"
	"github.com/prn-tf/blog-accounts/internal/config"
	"github.com/prn-tf/blog-accounts/internal/domain"
	"github.com/prn-tf/blog-accounts/internal/lock"
	"github.com/prn-tf/blog-accounts/internal/mail"
	"github.com/prn-tf/blog-accounts/internal/pkg/crypto"
	"github.com/prn-tf/blog-accounts/internal/repository"
	"github.com/prn-tf/blog-accounts/internal/repository/cached"
	_ "github.com/prn-tf/blog-accounts/internal/repository/postgres"
	_ "github.com/prn-tf/blog-accounts/internal/repository/sqlite"
	"github.com/prn-tf/blog-accounts/internal/service"
)

// Version information (set at build time)
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).Level(zerolog.WarnLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	command, args := os.Args[1], os.Args[2:]

	var err error
	switch command {
	case "version":
		fmt.Printf("Blog Accounts Admin CLI\n")
		fmt.Printf("Version: %s\n", Version)
		fmt.Printf("Build Time: %s\n", BuildTime)
		fmt.Printf("Git Commit: %s\n", GitCommit)

	case "user":
		err = runUser(ctx, args)

	case "authorities":
		err = runAuthorities(ctx, args)

	case "sweep":
		err = runSweep(ctx, args)

	case "help", "-h", "--help":
		printUsage()

	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", command)
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// env holds the components shared by admin commands.
type env struct {
	cfg      *config.Config
	store    *cached.AccountStore
	mailer   *service.MailService
	locker   lock.Locker
	users    *service.UserService
	accounts *service.AccountService
	closers  []func()
}

func (e *env) close() {
	for i := len(e.closers) - 1; i >= 0; i-- {
		e.closers[i]()
	}
}

// openEnv loads configuration and builds the account services.
func openEnv(ctx context.Context, configPath string) (*env, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	logger := log.Logger

	e := &env{cfg: cfg}

	result, err := repository.NewFactory(cfg.Database, logger).Create(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	e.closers = append(e.closers, func() { result.Database.Close() })

	// With redis enabled, cache evictions and the sweep lock are shared
	// with running servers.
	var cache repository.Cache
	if cfg.Redis.Enabled {
		client, err := redis.Connect(ctx, cfg.Redis, logger)
		if err != nil {
			e.close()
			return nil, err
		}
		e.closers = append(e.closers, func() { client.Close() })
		cache = redis.NewCache(client, "blog:")
		e.locker = lock.NewRedisLocker(client)
	} else {
		memCache := memory.NewCache(cfg.Cache.MaxEntries)
		e.closers = append(e.closers, memCache.Stop)
		cache = memCache
		e.locker = lock.NewNoOpLocker()
	}

	e.store = cached.NewAccountStore(result.Repos.Accounts, cache, cfg.Cache.TTL, logger, nil)

	renderer, err := mail.NewRenderer(cfg.Mail.BaseURL)
	if err != nil {
		e.close()
		return nil, err
	}
	sender, err := mail.NewSender(cfg.Mail, logger)
	if err != nil {
		e.close()
		return nil, err
	}
	e.mailer = service.NewMailService(renderer, sender, cfg.Mail.SendTimeout, nil, logger)
	e.closers = append(e.closers, e.mailer.Wait)

	clock := service.SystemClock()
	passwords := crypto.NewPasswordHasher(cfg.Auth.BcryptCost)
	unlinker := service.NewSocialService(e.store, result.Repos.Social, passwords, e.mailer,
		domain.NewLoginPolicy(cfg.Social.UsernameLoginProviders), nil, clock, nil, logger)

	e.users = service.NewUserService(e.store, result.Repos.Authorities, passwords, e.mailer, unlinker, clock, nil, logger)
	e.accounts = service.NewAccountService(e.store, passwords, e.mailer, unlinker, clock,
		service.AccountServiceConfig{ResetWindow: cfg.Account.ResetWindow}, nil, logger)

	return e, nil
}

// =============================================================================
// user
// =============================================================================

func runUser(ctx context.Context, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("user requires a subcommand: create, list, delete, activate")
	}

	fs := pflag.NewFlagSet("user "+args[0], pflag.ContinueOnError)
	configPath := fs.StringP("config", "c", "", "path to the configuration file")

	switch args[0] {
	case "create":
		login := fs.String("login", "", "login of the new account")
		email := fs.String("email", "", "email of the new account")
		firstName := fs.String("first-name", "", "first name")
		lastName := fs.String("last-name", "", "last name")
		langKey := fs.String("lang", domain.DefaultLangKey, "language key")
		authorities := fs.StringSlice("authority", []string{domain.RoleUser}, "authorities to grant")
		if err := fs.Parse(args[1:]); err != nil {
			return err
		}
		if *login == "" {
			return fmt.Errorf("--login is required")
		}

		e, err := openEnv(ctx, *configPath)
		if err != nil {
			return err
		}
		defer e.close()

		account, err := e.users.CreateUser(ctx, domain.SystemAccount, service.ManagedUserInput{
			Login:       *login,
			Email:       *email,
			FirstName:   *firstName,
			LastName:    *lastName,
			LangKey:     *langKey,
			Authorities: *authorities,
		})
		if err != nil {
			return err
		}
		fmt.Printf("Created account %s (id %d); a password reset mail was queued\n", account.Login, account.ID)
		return nil

	case "list":
		page := fs.Int("page", 0, "page number, starting at 0")
		size := fs.Int("size", 20, "page size")
		if err := fs.Parse(args[1:]); err != nil {
			return err
		}

		e, err := openEnv(ctx, *configPath)
		if err != nil {
			return err
		}
		defer e.close()

		result, err := e.users.ListUsers(ctx, repository.ListOptions{Offset: *page * *size, Limit: *size})
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tLOGIN\tEMAIL\tACTIVATED\tAUTHORITIES\tCREATED")
		for _, a := range result.Items {
			fmt.Fprintf(w, "%d\t%s\t%s\t%t\t%v\t%s\n", a.ID, a.Login, a.Email, a.Activated, a.Authorities, a.CreatedDate.Format(time.RFC3339))
		}
		if err := w.Flush(); err != nil {
			return err
		}
		fmt.Printf("%d of %d accounts\n", len(result.Items), result.Total)
		return nil

	case "delete":
		login := fs.String("login", "", "login of the account to delete")
		if err := fs.Parse(args[1:]); err != nil {
			return err
		}
		if *login == "" {
			return fmt.Errorf("--login is required")
		}

		e, err := openEnv(ctx, *configPath)
		if err != nil {
			return err
		}
		defer e.close()

		if err := e.users.DeleteUser(ctx, domain.SystemAccount, *login); err != nil {
			return err
		}
		fmt.Printf("Deleted account %s\n", *login)
		return nil

	case "activate":
		key := fs.String("key", "", "activation key")
		if err := fs.Parse(args[1:]); err != nil {
			return err
		}
		if *key == "" {
			return fmt.Errorf("--key is required")
		}

		e, err := openEnv(ctx, *configPath)
		if err != nil {
			return err
		}
		defer e.close()

		account, found, err := e.accounts.Activate(ctx, *key)
		if err != nil {
			return err
		}
		if !found {
			return fmt.Errorf("no account for activation key %q", *key)
		}
		fmt.Printf("Activated account %s\n", account.Login)
		return nil

	default:
		return fmt.Errorf("unknown user subcommand %q", args[0])
	}
}

// =============================================================================
// authorities
// =============================================================================

func runAuthorities(ctx context.Context, args []string) error {
	fs := pflag.NewFlagSet("authorities", pflag.ContinueOnError)
	configPath := fs.StringP("config", "c", "", "path to the configuration file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	e, err := openEnv(ctx, *configPath)
	if err != nil {
		return err
	}
	defer e.close()

	names, err := e.users.ListAuthorities(ctx)
	if err != nil {
		return err
	}
	for _, name := range names {
		fmt.Println(name)
	}
	return nil
}

// =============================================================================
// sweep
// =============================================================================

func runSweep(ctx context.Context, args []string) error {
	if len(args) < 1 || args[0] != "run" {
		return fmt.Errorf("sweep requires the subcommand: run")
	}

	fs := pflag.NewFlagSet("sweep run", pflag.ContinueOnError)
	configPath := fs.StringP("config", "c", "", "path to the configuration file")
	window := fs.Duration("window", 0, "activation window override (default from configuration)")
	if err := fs.Parse(args[1:]); err != nil {
		return err
	}

	e, err := openEnv(ctx, *configPath)
	if err != nil {
		return err
	}
	defer e.close()

	sweepCfg := service.SweepConfig{
		Interval:         e.cfg.Account.SweepInterval,
		ActivationWindow: e.cfg.Account.ActivationWindow,
		BatchSize:        e.cfg.Account.SweepBatchSize,
	}
	if *window > 0 {
		sweepCfg.ActivationWindow = *window
	}

	sweeper := service.NewActivationSweeper(nil, e.store, e.locker, service.SystemClock(), nil, log.Logger, sweepCfg)
	result := sweeper.RunOnce(ctx)

	if result.Skipped {
		fmt.Println("Sweep skipped: another instance holds the sweep lock")
		return nil
	}
	fmt.Printf("Candidates: %d\nDeleted: %d\nErrors: %d\nDuration: %s\n",
		result.Candidates, result.Deleted, result.Errors, result.Duration)
	if result.Errors > 0 {
		return fmt.Errorf("sweep finished with %d errors", result.Errors)
	}
	return nil
}

func printUsage() {
	fmt.Println(`Blog Accounts Admin CLI

Usage:
  blog-admin <command> [arguments]

Commands:
  user          Manage accounts (create, list, delete, activate)
  authorities   List the known authorities
  sweep run     Delete accounts never activated within the activation window
  version       Print version information
  help          Show this help message

Flags:
  -c, --config  Path to the configuration file (default: ./config.yaml)

Examples:
  blog-admin user create --login admin --email admin@example.com --authority ROLE_ADMIN,ROLE_USER
  blog-admin user list --page 0 --size 50
  blog-admin user delete --login joe
  blog-admin user activate --key 12345678901234567890
  blog-admin sweep run --window 72h`)
}
