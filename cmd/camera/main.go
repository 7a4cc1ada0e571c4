package main

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"math/rand"
	"net"
	"os"
	"time"

	"golang.org/x/image/bmp"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/hlindberg/vigilancia/internal/domain"
	"github.com/hlindberg/vigilancia/internal/logging"
	"github.com/hlindberg/vigilancia/internal/mqtt"
)

var (
	cameraID  string
	lat, lon  float64
	rng       float64
	logLevel  string

	generateCount  int
	generateCenter string
)

var rootCmd = &cobra.Command{
	Use:   "camera <server-ip> <port>",
	Short: "Simulates a surveillance camera reporting incidents over MQTT",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		logging.SetLevelFromName(logLevel)
		run(args[0], args[1])
	},
}

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Emits --count randomly-placed camera inventory lines to stdout",
	Run: func(cmd *cobra.Command, args []string) {
		generate()
	},
}

func run(serverIP, port string) {
	if cameraID == "" {
		cameraID = "camera-" + mqtt.RandomClientID()
	}

	conn, err := net.Dial("tcp", fmt.Sprintf("%s:%s", serverIP, port))
	if err != nil {
		log.Fatalf("cannot connect to broker: %s", err)
	}
	defer conn.Close()

	session := mqtt.NewSession(mqtt.ClientID(cameraID), mqtt.Connection(conn))
	if err := session.Connect(mqtt.CleanSession(true)); err != nil {
		log.Fatalf("CONNECT failed: %s", err)
	}
	defer session.Disconnect(1)

	log.Infof("camera %s online at (%.4f, %.4f), range %.1fm", cameraID, lat, lon, rng)

	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for range ticker.C {
		if !detectsIncident() {
			continue
		}
		incident := domain.NewIncident(mqtt.RandomClientID(), domain.Automated, lat, lon)
		incident.Thumbnail = placeholderThumbnail()

		payload, err := incident.MarshalPayload()
		if err != nil {
			log.Errorf("cannot encode incident: %s", err)
			continue
		}
		if err := session.Publish(
			mqtt.Topic(domain.Automated.Topic()),
			mqtt.Message(payload),
			mqtt.QoS(1),
		); err != nil {
			log.Errorf("PUBLISH failed: %s", err)
			continue
		}
		log.Infof("reported incident %s", incident.ID)
	}
}

// detectsIncident stands in for the automatic detector - it fires occasionally rather than on
// every tick, to keep a running camera from flooding the broker with incidents.
func detectsIncident() bool {
	return rand.Intn(5) == 0
}

// placeholderThumbnail produces a tiny solid-color bmp, standing in for a detector snapshot.
func placeholderThumbnail() []byte {
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	for y := 0; y < 8; y++ {
		for x := 0; x < 8; x++ {
			img.Set(x, y, color.RGBA{R: 200, G: 40, B: 40, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := bmp.Encode(&buf, img); err != nil {
		log.Errorf("cannot encode thumbnail: %s", err)
		return nil
	}
	return buf.Bytes()
}

func generate() {
	center, err := parseLatLon(generateCenter)
	if err != nil {
		log.Fatalf("invalid --center: %s", err)
	}
	placements := domain.GenerateCameraPlacements(center, 0.05, generateCount, nil)
	for i, p := range placements {
		fmt.Printf("cam-%d:%g:%g:%g\n", i+1, p.Lat, p.Lon, 50.0)
	}
}

func parseLatLon(s string) (domain.Position, error) {
	var lat, lon float64
	_, err := fmt.Sscanf(s, "%g,%g", &lat, &lon)
	return domain.Position{Lat: lat, Lon: lon}, err
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cameraID, "id", "", "camera ID (default: generated)")
	rootCmd.PersistentFlags().Float64Var(&lat, "lat", 0, "camera latitude")
	rootCmd.PersistentFlags().Float64Var(&lon, "lon", 0, "camera longitude")
	rootCmd.PersistentFlags().Float64Var(&rng, "range", 50, "camera detection range in meters")
	rootCmd.PersistentFlags().StringVar(&logLevel, "loglevel", "info", "logging level: debug, info, warn, error")

	generateCmd.Flags().IntVar(&generateCount, "count", 10, "number of cameras to generate")
	generateCmd.Flags().StringVar(&generateCenter, "center", "19.4326,-99.1332", "center point as lat,lon")
	rootCmd.AddCommand(generateCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
