package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"strings"
	"sync"

	svg "github.com/ajstarks/svgo"
	"github.com/jung-kurt/gofpdf"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/image/bmp"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/hlindberg/vigilancia/internal/domain"
	"github.com/hlindberg/vigilancia/internal/logging"
	"github.com/hlindberg/vigilancia/internal/mqtt"
)

var (
	logLevel   string
	renderPath string
	reportPath string
)

var rootCmd = &cobra.Command{
	Use:   "monitor <server-ip> <port>",
	Short: "Monitoring UI that tracks incidents and dron state over MQTT",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		logging.SetLevelFromName(logLevel)
		run(args[0], args[1])
	},
}

// board is the monitor's live view of the world, updated as PUBLISHes arrive.
type board struct {
	mutex     sync.Mutex
	incidents map[string]domain.Incident
	drones    map[string]domain.DronInfo
}

func newBoard() *board {
	return &board{incidents: map[string]domain.Incident{}, drones: map[string]domain.DronInfo{}}
}

func (b *board) applyIncident(i domain.Incident) {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	if i.State == domain.Resolved {
		delete(b.incidents, i.ID)
		return
	}
	b.incidents[i.ID] = i
}

func (b *board) applyDron(d domain.DronInfo) {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	b.drones[d.ID] = d
}

func (b *board) snapshot() ([]domain.Incident, []domain.DronInfo) {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	incidents := make([]domain.Incident, 0, len(b.incidents))
	for _, i := range b.incidents {
		incidents = append(incidents, i)
	}
	drones := make([]domain.DronInfo, 0, len(b.drones))
	for _, d := range b.drones {
		drones = append(drones, d)
	}
	return incidents, drones
}

func run(serverIP, port string) {
	conn, err := net.Dial("tcp", fmt.Sprintf("%s:%s", serverIP, port))
	if err != nil {
		log.Fatalf("cannot connect to broker: %s", err)
	}
	defer conn.Close()

	clientID := "monitor-" + mqtt.RandomClientID()
	session := mqtt.NewSession(mqtt.ClientID(clientID), mqtt.Connection(conn))
	if err := session.Connect(mqtt.CleanSession(true)); err != nil {
		log.Fatalf("CONNECT failed: %s", err)
	}
	defer session.Disconnect(1)

	if _, err := session.Subscribe(
		mqtt.TopicFilter{Topic: domain.Automated.Topic(), QoS: 1},
		mqtt.TopicFilter{Topic: domain.Manual.Topic(), QoS: 1},
		mqtt.TopicFilter{Topic: "vigilancia/dron/+", QoS: 0},
	); err != nil {
		log.Fatalf("SUBSCRIBE failed: %s", err)
	}
	log.Infof("monitor %s online, watching the fleet", clientID)

	b := newBoard()
	for incoming := range session.Received() {
		if incoming.Topic == domain.Automated.Topic() || incoming.Topic == domain.Manual.Topic() {
			incident, err := domain.UnmarshalIncident(incoming.Message)
			if err != nil {
				log.Errorf("cannot decode incident: %s", err)
				continue
			}
			b.applyIncident(incident)
			if reportPath != "" {
				if err := renderReport(b, reportPath); err != nil {
					log.Errorf("report failed: %s", err)
				}
			}
		} else if strings.HasPrefix(incoming.Topic, "vigilancia/dron/") {
			var dron domain.DronInfo
			if err := json.Unmarshal(incoming.Message, &dron); err != nil {
				log.Errorf("cannot decode dron state: %s", err)
				continue
			}
			b.applyDron(dron)
		} else {
			continue
		}

		if renderPath != "" {
			if err := renderMap(b, renderPath); err != nil {
				log.Errorf("render failed: %s", err)
			}
		}
	}
}

// renderMap plots incidents and drones as a scatter of their (lon, lat) positions. The plot
// itself is gonum/plot's job; svgo then overlays one colored icon per place type on a sibling
// file, since svgo draws shapes directly rather than composing onto an existing canvas.
func renderMap(b *board, path string) error {
	incidents, drones := b.snapshot()

	p := plot.New()
	p.Title.Text = "vigilancia live map"
	p.X.Label.Text = "longitude"
	p.Y.Label.Text = "latitude"

	if pts := incidentPoints(incidents); len(pts) > 0 {
		scatter, err := plotter.NewScatter(pts)
		if err != nil {
			return err
		}
		p.Add(scatter)
	}
	if pts := dronPoints(drones); len(pts) > 0 {
		scatter, err := plotter.NewScatter(pts)
		if err != nil {
			return err
		}
		p.Add(scatter)
	}

	if err := p.Save(8*vg.Inch, 6*vg.Inch, path); err != nil {
		return err
	}

	return renderIconOverlay(incidents, drones, iconOverlayPath(path))
}

// renderIconOverlay draws one circle per tracked incident/drone, colored by place type, as a
// standalone legend SVG alongside the rendered map.
func renderIconOverlay(incidents []domain.Incident, drones []domain.DronInfo, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	const width, height = 400, 300
	s := svg.New(f)
	s.Start(width, height)
	for _, i := range incidents {
		s.Circle(svgX(i.Lon, width), svgY(i.Lat, height), 6, iconStyle(domain.PlaceTypeFor(i.Source)))
	}
	for _, d := range drones {
		s.Circle(svgX(d.Pos.Lon, width), svgY(d.Pos.Lat, height), 4, iconStyle(domain.DronPlace))
	}
	s.End()
	return nil
}

func iconOverlayPath(renderPath string) string {
	if ext := strings.LastIndex(renderPath, "."); ext >= 0 {
		return renderPath[:ext] + ".icons.svg"
	}
	return renderPath + ".icons.svg"
}

func incidentPoints(incidents []domain.Incident) plotter.XYs {
	pts := make(plotter.XYs, len(incidents))
	for i, inc := range incidents {
		pts[i].X = inc.Lon
		pts[i].Y = inc.Lat
	}
	return pts
}

func dronPoints(drones []domain.DronInfo) plotter.XYs {
	pts := make(plotter.XYs, len(drones))
	for i, d := range drones {
		pts[i].X = d.Pos.Lon
		pts[i].Y = d.Pos.Lat
	}
	return pts
}

// renderReport writes a one-page PDF summary of every tracked incident, decoding and embedding
// each camera's bmp thumbnail where present.
func renderReport(b *board, path string) error {
	incidents, _ := b.snapshot()

	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.AddPage()
	pdf.SetFont("Arial", "B", 16)
	pdf.Cell(40, 10, "Incident report")
	pdf.Ln(12)
	pdf.SetFont("Arial", "", 11)

	for _, inc := range incidents {
		pdf.Cell(0, 8, fmt.Sprintf("%s  source=%s  (%.4f, %.4f)", inc.ID, inc.Source, inc.Lat, inc.Lon))
		pdf.Ln(6)
		if len(inc.Thumbnail) == 0 {
			pdf.Ln(4)
			continue
		}
		if _, err := bmp.Decode(bytes.NewReader(inc.Thumbnail)); err != nil {
			log.Warnf("incident %s has an unreadable thumbnail: %s", inc.ID, err)
			pdf.Ln(4)
			continue
		}
		opts := gofpdf.ImageOptions{ImageType: "BMP"}
		pdf.RegisterImageOptionsReader(inc.ID, opts, bytes.NewReader(inc.Thumbnail))
		pdf.ImageOptions(inc.ID, -1, -1, 20, 20, false, opts, 0, "")
		pdf.Ln(4)
	}
	return pdf.OutputFileAndClose(path)
}

func iconStyle(place domain.PlaceType) string {
	switch place {
	case domain.ManualIncidentPlace:
		return "fill:orange"
	case domain.AutomatedIncidentPlace:
		return "fill:red"
	case domain.DronPlace:
		return "fill:blue"
	default:
		return "fill:gray"
	}
}

func svgX(lon float64, width int) int { return int((lon + 180) / 360 * float64(width)) }
func svgY(lat float64, height int) int { return int((90 - lat) / 180 * float64(height)) }

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "loglevel", "info", "logging level: debug, info, warn, error")
	rootCmd.PersistentFlags().StringVar(&renderPath, "render", "", "re-render an SVG map snapshot to this path on every update")
	rootCmd.PersistentFlags().StringVar(&reportPath, "report", "", "re-export a PDF incident report to this path on every incident update")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
