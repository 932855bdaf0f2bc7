package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/fieldstream/iec104-gateway/clog"
	"github.com/fieldstream/iec104-gateway/registry"
	"github.com/fieldstream/iec104-gateway/store"

	"github.com/redis/go-redis/v9"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	v := viper.New()

	root := &cobra.Command{
		Use:   "gateway",
		Short: "IEC 60870-5-104 telemetry gateway",
	}
	root.PersistentFlags().String("config", "", "path to a config file (yaml/json/toml)")
	root.PersistentFlags().String("redis-addr", "127.0.0.1:6379", "redis address")
	root.PersistentFlags().String("redis-password", "", "redis password")
	root.PersistentFlags().Int("redis-db", 0, "redis database index")
	root.PersistentFlags().String("log-level", "info", "logrus log level")
	_ = v.BindPFlags(root.PersistentFlags())

	root.AddCommand(newRunCmd(v))
	return root
}

func newRunCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "start the gateway and supervise every configured device session",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGateway(cmd.Context(), v)
		},
	}
}

func runGateway(ctx context.Context, v *viper.Viper) error {
	if cfgFile := v.GetString("config"); cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("read config: %w", err)
		}
	}
	v.SetEnvPrefix("gateway")
	v.AutomaticEnv()

	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	if lvl, err := logrus.ParseLevel(v.GetString("log-level")); err == nil {
		logger.SetLevel(lvl)
	}
	entry := logrus.NewEntry(logger)
	clog.NewLogrusLogger(entry) // validates the provider wiring at startup

	rdb := redis.NewClient(&redis.Options{
		Addr:     v.GetString("redis-addr"),
		Password: v.GetString("redis-password"),
		DB:       v.GetInt("redis-db"),
	})
	defer rdb.Close()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}

	st := store.New(rdb, entry)
	reg := registry.New(st, entry)

	runCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	entry.Info("gateway starting")
	err := reg.Run(runCtx)
	entry.Info("gateway stopped")
	return err
}
