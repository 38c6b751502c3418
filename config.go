package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type Config struct {
	apiKey         string
	apiModel       string
	apiTimeout     time.Duration
	apiURL         string
	bind           string
	dataFile       string
	maxPlayers     int
	port           int
	prefix         string
	profile        bool
	questions      string
	reconnectGrace time.Duration
	roundDelay     time.Duration
	targetScore    int
	tlsCert        string
	tlsKey         string
	verbose        bool
	version        bool
}

func (c *Config) validate() error {
	if (c.tlsCert == "") != (c.tlsKey == "") {
		return errors.New("both --tls-cert and --tls-key must be provided together")
	}
	if c.port < 1 || c.port > 65535 {
		return fmt.Errorf("invalid port (must be between 1-65535 inclusive): %d", c.port)
	}
	if c.maxPlayers < 1 {
		return fmt.Errorf("invalid max player count (must be at least 1): %d", c.maxPlayers)
	}
	if c.targetScore < 1 {
		return fmt.Errorf("invalid target score (must be at least 1): %d", c.targetScore)
	}
	return nil
}

func (c *Config) scheme() string {
	if c.tlsCert != "" && c.tlsKey != "" {
		return "https"
	}
	return "http"
}

func newCmd(cfg *Config) *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix("KTO")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	cmd := &cobra.Command{
		Use:           "ktopoblizhe",
		Short:         "«Кто поближе?» — a live multiplayer numeric trivia game in a single binary.",
		Args:          cobra.ExactArgs(0),
		SilenceErrors: true,
		Version:       releaseVersion,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.validate(); err != nil {
				return err
			}
			return ServePage(cmd.Context(), cfg, args)
		},
	}

	fs := cmd.Flags()

	fs.SetNormalizeFunc(func(_ *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})

	fs.StringVar(&cfg.apiKey, "api-key", "", "API key for the answer judge model; empty disables AI scoring (env: KTO_API_KEY)")
	fs.StringVar(&cfg.apiModel, "api-model", "gpt-4o-mini", "model used to judge free-text answers (env: KTO_API_MODEL)")
	fs.DurationVar(&cfg.apiTimeout, "api-timeout", 45*time.Second, "timeout for a single judge request (env: KTO_API_TIMEOUT)")
	fs.StringVar(&cfg.apiURL, "api-url", "https://api.openai.com/v1", "base URL of an OpenAI-compatible chat completions API (env: KTO_API_URL)")
	fs.StringVarP(&cfg.bind, "bind", "b", "0.0.0.0", "address to bind to (env: KTO_BIND)")
	fs.StringVar(&cfg.dataFile, "data-file", "players.json", "path to the persistent player statistics file (env: KTO_DATA_FILE)")
	fs.IntVar(&cfg.maxPlayers, "max-players", 8, "default lobby capacity (env: KTO_MAX_PLAYERS)")
	fs.IntVarP(&cfg.port, "port", "p", 8080, "port to listen on (env: KTO_PORT)")
	fs.StringVar(&cfg.prefix, "prefix", "", "path to prepend to all URLs, for use behind reverse proxy (env: KTO_PREFIX)")
	fs.BoolVar(&cfg.profile, "profile", false, "register net/http/pprof handlers (env: KTO_PROFILE)")
	fs.StringVar(&cfg.questions, "questions", "", "path to a question CSV file; empty uses the embedded bank (env: KTO_QUESTIONS)")
	fs.DurationVar(&cfg.reconnectGrace, "reconnect-grace", 15*time.Second, "time a disconnected player may reconnect before being dropped (env: KTO_RECONNECT_GRACE)")
	fs.DurationVar(&cfg.roundDelay, "round-delay", 6*time.Second, "pause between the round results and the next question (env: KTO_ROUND_DELAY)")
	fs.IntVar(&cfg.targetScore, "target-score", 10, "default score needed to win a game (env: KTO_TARGET_SCORE)")
	fs.StringVar(&cfg.tlsCert, "tls-cert", "", "path to tls certificate (env: KTO_TLS_CERT)")
	fs.StringVar(&cfg.tlsKey, "tls-key", "", "path to tls keyfile (env: KTO_TLS_KEY)")
	fs.BoolVarP(&cfg.verbose, "verbose", "v", false, "display additional output (env: KTO_VERBOSE)")
	fs.BoolVarP(&cfg.version, "version", "V", false, "display version and exit (env: KTO_VERSION)")

	fs.VisitAll(func(f *pflag.Flag) {
		_ = v.BindPFlag(f.Name, f)
		_ = v.BindEnv(f.Name)
		if !f.Changed && v.IsSet(f.Name) {
			_ = fs.Set(f.Name, fmt.Sprintf("%v", v.Get(f.Name)))
		}
	})

	cmd.CompletionOptions.HiddenDefaultCmd = true
	cmd.SetHelpCommand(&cobra.Command{Hidden: true})
	cmd.SetVersionTemplate("ktopoblizhe v{{.Version}}\n")

	cmd.SilenceErrors = true
	cmd.SilenceUsage = true

	return cmd
}
