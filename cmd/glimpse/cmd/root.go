package cmd

import (
	"os"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/soapboxsocial/glimpse/pkg/conf"
)

type Conf struct {
	Backend  conf.BackendConf  `mapstructure:"backend"`
	DB       conf.PostgresConf `mapstructure:"db"`
	Redis    conf.RedisConf    `mapstructure:"redis"`
	Storage  conf.StorageConf  `mapstructure:"storage"`
	Session  conf.SessionConf  `mapstructure:"session"`
	Tracking conf.TrackingConf `mapstructure:"tracking"`
	Login    struct {
		Addr     conf.AddrConf `mapstructure:"addr"`
		Callback string        `mapstructure:"callback"`
		Origins  []string      `mapstructure:"origins"`
	} `mapstructure:"login"`
}

var (
	file    string
	envFile string
	verbose bool

	config = &Conf{}

	rootCmd = &cobra.Command{
		Use:               "glimpse",
		Short:             "Glimpse photo and story sharing client",
		Long:              "",
		SilenceUsage:      true,
		PersistentPreRunE: parse,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&file, "config", "c", "config.toml", "config file")
	rootCmd.PersistentFlags().StringVar(&envFile, "env", ".env", "dotenv file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log debug output")

	rootCmd.AddCommand(signup)
	rootCmd.AddCommand(signin)
	rootCmd.AddCommand(signout)
	rootCmd.AddCommand(whoami)
	rootCmd.AddCommand(account)
	rootCmd.AddCommand(feed)
	rootCmd.AddCommand(post)
	rootCmd.AddCommand(deletePost)
	rootCmd.AddCommand(like)
	rootCmd.AddCommand(commentsCmd)
	rootCmd.AddCommand(comment)
	rootCmd.AddCommand(storiesCmd)
	rootCmd.AddCommand(story)
	rootCmd.AddCommand(follow)
	rootCmd.AddCommand(unfollow)
	rootCmd.AddCommand(profileCmd)
	rootCmd.AddCommand(followersCmd)
	rootCmd.AddCommand(followingCmd)
	rootCmd.AddCommand(friends)
	rootCmd.AddCommand(watch)
	rootCmd.AddCommand(callback)
	rootCmd.AddCommand(admin)
}

// Execute executes the root command.
func Execute() error {
	return rootCmd.Execute()
}

func parse(cmd *cobra.Command, _ []string) error {
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if verbose {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	err := godotenv.Load(envFile)
	if err != nil && !os.IsNotExist(err) {
		log.Warn().Err(err).Str("file", envFile).Msg("failed to read dotenv file")
	}

	err = conf.Load(file, config)
	if os.IsNotExist(err) && !cmd.Flags().Changed("config") {
		err = conf.LoadEnv(config)
	}

	if err != nil {
		return errors.Wrap(err, "failed to parse config")
	}

	if config.Backend.URL == "" || config.Backend.AnonKey == "" {
		return errors.New("backend url and anon key are required")
	}

	conf.Defaults(&config.Storage, &config.Session)
	return nil
}
