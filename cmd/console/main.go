package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/common-nighthawk/go-figure"
	"github.com/jrsteele09/hms-console/internal/config"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	v := viper.New()
	var cfg config.Config

	rootCmd := &cobra.Command{
		Use:           "console",
		Short:         "HMS staff console",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			cfg = config.NewFromViper(v)
			setupLogger(cfg)
		},
	}
	flags := rootCmd.PersistentFlags()
	flags.String("api-url", "", "backend base URL (HMS_API_URL)")
	flags.String("store", "", "session store: file, memory or redis (HMS_STORE)")
	flags.String("store-dir", "", "directory of the file store (HMS_STORE_DIR)")
	flags.String("redis-addr", "", "redis address for the redis store (HMS_REDIS_ADDR)")
	flags.String("client-id", "", "console identity in a shared store (HMS_CLIENT_ID)")
	flags.String("log-level", "", "trace, debug, info, warn or error (HMS_LOG_LEVEL)")
	for _, name := range []string{"api-url", "store", "store-dir", "redis-addr", "client-id", "log-level"} {
		_ = v.BindPFlag(strings.ReplaceAll(name, "-", "_"), flags.Lookup(name))
	}

	conf := func() config.Config { return cfg }
	rootCmd.AddCommand(loginCmd(conf))
	rootCmd.AddCommand(logoutCmd(conf))
	rootCmd.AddCommand(whoamiCmd(conf))
	rootCmd.AddCommand(watchCmd(conf))
	rootCmd.AddCommand(serveDevCmd(conf))
	return rootCmd
}

// setupLogger points the global logger at stderr; DEV gets the console writer.
func setupLogger(cfg config.Config) {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.GetLogLevel()))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	logger := zerolog.New(os.Stderr).With().Timestamp().Logger()
	if cfg.IsDev() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).With().Timestamp().Logger()
	}
	log.Logger = logger
}

func displayAppname(appname string) {
	myFigure := figure.NewFigure(appname, "cybermedium", true)
	myFigure.Print()
	fmt.Println()
}
