package config

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// CameraSpec is one line of a camera inventory file: id:lat:lon:range.
type CameraSpec struct {
	ID    string
	Lat   float64
	Lon   float64
	Range float64 // meters
}

// ParseCameraInventory reads "id:lat:lon:range" lines from r, one camera per line. Blank lines
// and lines starting with # are ignored.
func ParseCameraInventory(r io.Reader) ([]CameraSpec, error) {
	scanner := bufio.NewScanner(r)
	var result []CameraSpec
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.Split(line, ":")
		if len(parts) != 4 {
			return nil, fmt.Errorf("camera inventory line %d: expected id:lat:lon:range, got %q", lineNo, line)
		}
		lat, err := strconv.ParseFloat(parts[1], 64)
		if err != nil {
			return nil, fmt.Errorf("camera inventory line %d: bad latitude: %w", lineNo, err)
		}
		lon, err := strconv.ParseFloat(parts[2], 64)
		if err != nil {
			return nil, fmt.Errorf("camera inventory line %d: bad longitude: %w", lineNo, err)
		}
		rng, err := strconv.ParseFloat(parts[3], 64)
		if err != nil {
			return nil, fmt.Errorf("camera inventory line %d: bad range: %w", lineNo, err)
		}
		result = append(result, CameraSpec{ID: parts[0], Lat: lat, Lon: lon, Range: rng})
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// LoadCameraInventory opens path and parses it as a camera inventory file.
func LoadCameraInventory(path string) ([]CameraSpec, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ParseCameraInventory(f)
}

// WriteCameraInventory serializes cameras back to the id:lat:lon:range line format, the same
// format cmd/camera's generate subcommand prints.
func WriteCameraInventory(w io.Writer, cameras []CameraSpec) error {
	for _, c := range cameras {
		_, err := fmt.Fprintf(w, "%s:%g:%g:%g\n", c.ID, c.Lat, c.Lon, c.Range)
		if err != nil {
			return err
		}
	}
	return nil
}
