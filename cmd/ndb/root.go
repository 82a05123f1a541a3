package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/Sternrassler/usda-ndb-client/pkg/client"
	"github.com/Sternrassler/usda-ndb-client/pkg/logging"
	"github.com/Sternrassler/usda-ndb-client/pkg/metrics"
	"github.com/Sternrassler/usda-ndb-client/pkg/usda"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const defaultUserAgent = "usda-ndb-client/0.1.0"

// app carries the state shared by all subcommands of one invocation.
type app struct {
	v      *viper.Viper
	logger zerolog.Logger

	redis       *redis.Client
	transport   *client.Client
	ndb         *usda.Client
	stopMetrics context.CancelFunc
}

func newRootCommand() *cobra.Command {
	a := &app{v: viper.New()}

	root := &cobra.Command{
		Use:   "ndb",
		Short: "USDA National Nutrient Database CLI",
		Long: `A command-line interface for the USDA National Nutrient Database (NDB) API.

List foods, nutrients, food groups and derivation codes, search foods,
and fetch food and nutrient reports. Results can be printed as a table,
JSON or YAML.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init(cmd)
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return a.close()
		},
	}

	flags := root.PersistentFlags()
	flags.StringP("config", "c", "", "config file (default is $HOME/.ndb/config.yml)")
	flags.StringP("api-key", "k", "", "data.gov API key")
	flags.String("base-url", client.DefaultBaseURL, "NDB API base URL")
	flags.String("redis", "", "Redis address for the response cache and quota state (optional)")
	flags.StringP("output", "o", outputTable, "output format (table, json, yaml)")
	flags.String("log-level", "warn", "log level (debug, info, warn, error, off)")
	flags.String("metrics-addr", "", "serve Prometheus metrics on this address while running")
	flags.Int("page-size", 50, "items requested per page")
	flags.String("user-agent", defaultUserAgent, "User-Agent header")

	for _, name := range []string{"api-key", "base-url", "redis", "output", "log-level", "metrics-addr", "page-size", "user-agent"} {
		_ = a.v.BindPFlag(name, flags.Lookup(name))
	}

	root.AddCommand(
		newListCommand(a, "foods", "List foods", (*usda.Client).ListFoods, foodHeader, foodRow),
		newListCommand(a, "nutrients", "List nutrients", (*usda.Client).ListNutrients, nutrientHeader, nutrientRow),
		newListCommand(a, "food-groups", "List food groups", (*usda.Client).ListFoodGroups, idNameHeader, foodGroupRow),
		newListCommand(a, "derivation-codes", "List nutrient derivation codes", (*usda.Client).ListDerivationCodes, idNameHeader, derivationCodeRow),
		newSearchCommand(a),
		newReportCommand(a),
		newReportV2Command(a),
		newNutrientReportCommand(a),
		newCacheClearCommand(a),
	)

	return root
}

// init loads configuration and builds the clients.
func (a *app) init(cmd *cobra.Command) error {
	if err := a.loadConfig(cmd); err != nil {
		return err
	}

	if _, err := logging.ParseLevel(a.v.GetString("log-level")); err != nil {
		return err
	}
	logging.Setup(logging.Config{
		Level:   logging.LogLevel(a.v.GetString("log-level")),
		Output:  cmd.ErrOrStderr(),
		Pretty:  true,
		Service: "ndb",
	})
	a.logger = logging.NewLogger("cli")

	switch a.v.GetString("output") {
	case outputTable, outputJSON, outputYAML:
	default:
		return fmt.Errorf("unknown output format %q (want table, json or yaml)", a.v.GetString("output"))
	}

	if addr := a.v.GetString("redis"); addr != "" {
		a.redis = redis.NewClient(&redis.Options{Addr: addr})
		if err := a.redis.Ping(cmd.Context()).Err(); err != nil {
			return fmt.Errorf("connect to redis at %s: %w", addr, err)
		}
		a.logger.Debug().Str("addr", addr).Msg("Connected to Redis")
	}

	if addr := a.v.GetString("metrics-addr"); addr != "" {
		ctx, cancel := context.WithCancel(context.Background())
		a.stopMetrics = cancel
		go func() {
			if err := metrics.Serve(ctx, addr); err != nil {
				a.logger.Error().Err(err).Str("addr", addr).Msg("Metrics server failed")
			}
		}()
	}

	cfg := client.DefaultConfig(a.redis, a.v.GetString("user-agent"))
	cfg.BaseURL = a.v.GetString("base-url")
	transport, err := client.New(cfg)
	if err != nil {
		return fmt.Errorf("create client: %w", err)
	}
	a.transport = transport

	a.ndb = usda.NewClient(transport, a.v.GetString("api-key"), usda.WithPageSize(a.v.GetInt("page-size")))
	return nil
}

// loadConfig reads the config file and NDB_* environment variables.
func (a *app) loadConfig(cmd *cobra.Command) error {
	a.v.SetEnvPrefix("NDB")
	a.v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	a.v.AutomaticEnv()

	cfgFile, _ := cmd.Flags().GetString("config")
	if cfgFile != "" {
		a.v.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil
		}
		a.v.AddConfigPath(filepath.Join(home, ".ndb"))
		a.v.SetConfigType("yml")
		a.v.SetConfigName("config")
	}

	if err := a.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			return fmt.Errorf("read config: %w", err)
		}
	}
	return nil
}

// requireAPIKey fails commands that talk to the API without a key.
func (a *app) requireAPIKey() error {
	if a.v.GetString("api-key") == "" {
		return errors.New("an API key is required (--api-key or NDB_API_KEY)")
	}
	return nil
}

func (a *app) close() error {
	if a.stopMetrics != nil {
		a.stopMetrics()
	}
	if a.transport != nil {
		_ = a.transport.Close()
	}
	if a.redis != nil {
		return a.redis.Close()
	}
	return nil
}
