package cmd

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/abe-nagisa/arcparse/codec"
	"github.com/charmbracelet/log"
	homedir "github.com/mitchellh/go-homedir"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var cfgFile string

var logger = log.NewWithOptions(os.Stderr, log.Options{
	Prefix: "arcparse",
})

var rootCmd = &cobra.Command{
	Use:   "arcparse",
	Short: "Inspect, verify and extract gzip and zip archives",
	Long: `arcparse parses gzip and zip archives held in memory, verifies every
checksum and extracts their contents.

Sources are file paths, "-" for standard input, or http(s) URLs. URLs are
downloaded with ranged GET requests split into http.parts chunks.`,
	SilenceUsage: true,
	PersistentPreRunE: func(c *cobra.Command, args []string) error {
		lvl, err := log.ParseLevel(viper.GetString("log-level"))
		if err != nil {
			return err
		}
		logger.SetLevel(lvl)
		logger.SetOutput(c.ErrOrStderr())
		return nil
	},
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		logger.Error("command failed", "err", err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.arcparse.yaml)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level: debug, info, warn or error")
	rootCmd.PersistentFlags().Int64("max-output", 0, "largest payload any entry may decode to in bytes, 0 for no limit")
	rootCmd.PersistentFlags().Int("parts", 5, "number of ranged requests per download")
	rootCmd.PersistentFlags().Duration("timeout", 30*time.Second, "timeout of each HTTP request")

	viper.SetDefault("log-level", "info")
	viper.SetDefault("max-output", 0)
	viper.SetDefault("http.parts", 5)
	viper.SetDefault("http.timeout", 30*time.Second)
	bindFlag("log-level", "log-level")
	bindFlag("max-output", "max-output")
	bindFlag("http.parts", "parts")
	bindFlag("http.timeout", "timeout")
}

func bindFlag(key, flag string) {
	if err := viper.BindPFlag(key, rootCmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := homedir.Dir()
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		viper.AddConfigPath(home)
		viper.SetConfigName(".arcparse")
	}

	viper.SetEnvPrefix("arcparse")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		logger.Debug("using config file", "path", viper.ConfigFileUsed())
	}
}

// dispatcher returns the codec dispatcher for one command run, with every
// codec capped at max-output when it is set.
func dispatcher() *codec.Dispatcher {
	d := codec.NewDispatcher()
	if limit := viper.GetInt64("max-output"); limit > 0 {
		d.Wrap(func(c codec.Codec) codec.Codec { return codec.Limit(c, limit) })
	}
	return d
}
