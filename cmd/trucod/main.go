package main

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/MarkoPoloResearchLab/truco/internal/lobbyapi"
	"github.com/MarkoPoloResearchLab/truco/pkg/mesas"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	flagListenAddr     = "listen-addr"
	flagDatabaseURL    = "database-url"
	flagStoreDriver    = "store-driver"
	flagRedisAddr      = "redis-addr"
	flagCacheTTL       = "cache-ttl"
	flagSweepInterval  = "sweep-interval"
	flagSweepGrace     = "sweep-grace"
	flagAllowedOrigins = "allowed-origins"
	flagJWTSigningKey  = "jwt-signing-key"
	flagJWTIssuer      = "jwt-issuer"
	flagJWTCookieName  = "jwt-cookie-name"
	flagRequestTimeout = "request-timeout"
	flagPlayer         = "player"
	flagName           = "name"
	flagPhoto          = "photo"
	flagTokenTTL       = "ttl"
	envPrefix          = "TRUCO"

	storeDriverGorm      = "gorm"
	storeDriverPgx       = "pgx"
	defaultDatabaseURL   = "sqlite:///tmp/truco.db"
	defaultCacheTTL      = 2 * time.Second
	defaultSweepInterval = time.Minute
	defaultSweepGrace    = 30 * time.Second
)

type runtimeConfig struct {
	API           lobbyapi.Config
	Database      databaseTarget
	StoreDriver   string
	RedisAddr     string
	CacheTTL      time.Duration
	SweepInterval time.Duration
	SweepGrace    time.Duration
}

func main() {
	rootCmd := newRootCommand()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "trucod: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cfg := &runtimeConfig{}
	cmd := &cobra.Command{
		Use:           "trucod",
		Short:         "Truco lobby table registry",
		SilenceUsage:  true,
		SilenceErrors: true,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return loadConfig(cmd, cfg)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServer(ctx, cfg)
		},
	}

	cmd.Flags().String(flagListenAddr, ":8080", "HTTP listen address")
	cmd.Flags().String(flagDatabaseURL, defaultDatabaseURL, "database connection string (sqlite:// or postgres://)")
	cmd.Flags().String(flagStoreDriver, storeDriverGorm, "store implementation: gorm or pgx (pgx requires postgres)")
	cmd.Flags().String(flagRedisAddr, "", "redis address for the lobby cache (empty disables it)")
	cmd.Flags().Duration(flagCacheTTL, defaultCacheTTL, "lobby cache lifetime")
	cmd.Flags().Duration(flagSweepInterval, defaultSweepInterval, "how often empty tables are swept")
	cmd.Flags().Duration(flagSweepGrace, defaultSweepGrace, "minimum age of an empty table before it is swept")
	cmd.Flags().String(flagAllowedOrigins, "", "comma-separated list of allowed CORS origins")
	cmd.Flags().String(flagJWTSigningKey, "", "TAuth JWT signing key (required)")
	cmd.Flags().String(flagJWTIssuer, "tauth", "expected JWT issuer")
	cmd.Flags().String(flagJWTCookieName, "app_session", "JWT cookie name")
	cmd.Flags().Duration(flagRequestTimeout, 3*time.Second, "per-request registry timeout")

	cmd.AddCommand(newTokenCommand())
	return cmd
}

func newTokenCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "token",
		Short:         "Mint a bearer token for a player",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			v := newViper()
			for _, flagName := range []string{flagJWTSigningKey, flagJWTIssuer, flagPlayer, flagName, flagPhoto, flagTokenTTL} {
				if err := v.BindPFlag(flagName, cmd.Flags().Lookup(flagName)); err != nil {
					return err
				}
			}
			signingKey := v.GetString(flagJWTSigningKey)
			if signingKey == "" {
				return fmt.Errorf("%s is required", flagJWTSigningKey)
			}
			identity, err := mesas.NewIdentity(v.GetString(flagPlayer), v.GetString(flagName), v.GetString(flagPhoto))
			if err != nil {
				return fmt.Errorf("%s: %w", flagPlayer, err)
			}
			token, err := lobbyapi.IssueBearerToken([]byte(signingKey), v.GetString(flagJWTIssuer), identity, v.GetDuration(flagTokenTTL), time.Now())
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), token)
			return err
		},
	}
	cmd.Flags().String(flagJWTSigningKey, "", "TAuth JWT signing key (required)")
	cmd.Flags().String(flagJWTIssuer, "tauth", "JWT issuer")
	cmd.Flags().String(flagPlayer, "", "player id (required)")
	cmd.Flags().String(flagName, "", "display name")
	cmd.Flags().String(flagPhoto, "", "avatar url")
	cmd.Flags().Duration(flagTokenTTL, lobbyapi.DefaultBearerTokenTTL(), "token lifetime")
	return cmd
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	return v
}

func loadConfig(cmd *cobra.Command, cfg *runtimeConfig) error {
	v := newViper()
	for _, flagName := range []string{
		flagListenAddr, flagDatabaseURL, flagStoreDriver, flagRedisAddr, flagCacheTTL,
		flagSweepInterval, flagSweepGrace, flagAllowedOrigins, flagJWTSigningKey,
		flagJWTIssuer, flagJWTCookieName, flagRequestTimeout,
	} {
		if err := v.BindPFlag(flagName, cmd.Flags().Lookup(flagName)); err != nil {
			return err
		}
	}

	cfg.API = lobbyapi.Config{
		ListenAddr:        strings.TrimSpace(v.GetString(flagListenAddr)),
		AllowedOrigins:    lobbyapi.ParseAllowedOrigins(v.GetString(flagAllowedOrigins)),
		SessionSigningKey: v.GetString(flagJWTSigningKey),
		SessionIssuer:     strings.TrimSpace(v.GetString(flagJWTIssuer)),
		SessionCookieName: strings.TrimSpace(v.GetString(flagJWTCookieName)),
		RequestTimeout:    v.GetDuration(flagRequestTimeout),
	}
	database, err := parseDatabaseURL(v.GetString(flagDatabaseURL))
	if err != nil {
		return fmt.Errorf("%s: %w", flagDatabaseURL, err)
	}
	cfg.Database = database
	cfg.StoreDriver = strings.ToLower(strings.TrimSpace(v.GetString(flagStoreDriver)))
	cfg.RedisAddr = strings.TrimSpace(v.GetString(flagRedisAddr))
	cfg.CacheTTL = v.GetDuration(flagCacheTTL)
	cfg.SweepInterval = v.GetDuration(flagSweepInterval)
	cfg.SweepGrace = v.GetDuration(flagSweepGrace)

	switch cfg.StoreDriver {
	case storeDriverGorm:
	case storeDriverPgx:
		if cfg.Database.Driver != driverPostgres {
			return fmt.Errorf("%s=%s requires a postgres %s", flagStoreDriver, storeDriverPgx, flagDatabaseURL)
		}
	default:
		return fmt.Errorf("unsupported %s %q", flagStoreDriver, cfg.StoreDriver)
	}
	if cfg.SweepInterval <= 0 {
		return fmt.Errorf("%s must be positive", flagSweepInterval)
	}
	if cfg.SweepGrace < 0 {
		return fmt.Errorf("%s must not be negative", flagSweepGrace)
	}
	return cfg.API.Validate()
}
