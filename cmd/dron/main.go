package main

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/hlindberg/vigilancia/internal/domain"
	"github.com/hlindberg/vigilancia/internal/logging"
	"github.com/hlindberg/vigilancia/internal/mqtt"
)

var logLevel string

var rootCmd = &cobra.Command{
	Use:   "dron <server-ip> <port> <id> <latitude> <longitude>",
	Short: "Runs a drone that responds to incidents published by cameras",
	Args:  cobra.ExactArgs(5),
	Run: func(cmd *cobra.Command, args []string) {
		logging.SetLevelFromName(logLevel)

		lat, err := strconv.ParseFloat(args[3], 64)
		if err != nil {
			log.Fatalf("invalid latitude %q: %s", args[3], err)
		}
		lon, err := strconv.ParseFloat(args[4], 64)
		if err != nil {
			log.Fatalf("invalid longitude %q: %s", args[4], err)
		}
		run(args[0], args[1], args[2], lat, lon)
	},
}

func run(serverIP, port, id string, lat, lon float64) {
	conn, err := net.Dial("tcp", fmt.Sprintf("%s:%s", serverIP, port))
	if err != nil {
		log.Fatalf("cannot connect to broker: %s", err)
	}
	defer conn.Close()

	session := mqtt.NewSession(mqtt.ClientID("dron-"+id), mqtt.Connection(conn))
	if err := session.Connect(mqtt.CleanSession(true)); err != nil {
		log.Fatalf("CONNECT failed: %s", err)
	}
	defer session.Disconnect(1)

	rangeCenter := domain.Position{Lat: lat, Lon: lon}
	maintenance := domain.Position{Lat: lat - 0.1, Lon: lon - 0.1}
	d := domain.NewDron(id, rangeCenter, maintenance)

	if _, err := session.Subscribe(
		mqtt.TopicFilter{Topic: domain.Automated.Topic(), QoS: 1},
		mqtt.TopicFilter{Topic: domain.Manual.Topic(), QoS: 1},
	); err != nil {
		log.Fatalf("SUBSCRIBE failed: %s", err)
	}
	log.Infof("dron %s online at (%.4f, %.4f)", id, lat, lon)

	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case incoming := <-session.Received():
			incident, err := domain.UnmarshalIncident(incoming.Message)
			if err != nil {
				log.Errorf("cannot decode incident: %s", err)
				continue
			}
			if incident.State == domain.InProgress {
				d.RespondTo(incident)
				log.Infof("dron %s responding to incident %s", id, incident.ID)
			}

		case <-ticker.C:
			if !d.Step() {
				continue
			}
			payload, err := d.MarshalPayload()
			if err != nil {
				log.Errorf("cannot encode dron state: %s", err)
				continue
			}
			if err := session.Publish(
				mqtt.Topic("vigilancia/dron/"+id),
				mqtt.Message(payload),
				mqtt.QoS(0),
			); err != nil {
				log.Errorf("PUBLISH failed: %s", err)
			}
		}
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "loglevel", "info", "logging level: debug, info, warn, error")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
