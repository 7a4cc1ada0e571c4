package main

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/hlindberg/vigilancia/internal/broker"
	"github.com/hlindberg/vigilancia/internal/config"
	"github.com/hlindberg/vigilancia/internal/logging"
)

var (
	configPath string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "broker <port>",
	Short: "Runs the vigilancia MQTT broker",
	Long: `Runs the vigilancia MQTT broker, accepting CONNECT/PUBLISH/SUBSCRIBE
traffic from camera, dron and monitor clients on the given TCP port.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		logging.SetLevelFromName(logLevel)

		port, err := strconv.Atoi(args[0])
		if err != nil {
			log.Fatalf("invalid port %q: %s", args[0], err)
		}

		cfg, err := config.LoadBrokerConfig(configPath)
		if err != nil {
			log.Fatalf("cannot load broker config: %s", err)
		}

		b := broker.New(
			broker.SigningKey([]byte(cfg.Password)),
			broker.MailboxSize(cfg.MailboxSize),
			broker.RetryInterval(time.Duration(cfg.RetryIntervalSeconds)*time.Second),
			broker.MaxRetries(cfg.MaxRetries),
		)

		listener, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
		if err != nil {
			log.Fatalf("cannot bind port %d: %s", port, err)
		}
		log.Infof("vigilancia broker listening on port %d", port)

		if err := b.Serve(listener); err != nil {
			log.Fatalf("broker stopped: %s", err)
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "",
		"path to the broker settings file (default "+config.DefaultConfigPath+")")
	rootCmd.PersistentFlags().StringVar(&logLevel, "loglevel", "info",
		"logging level: debug, info, warn, error")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
