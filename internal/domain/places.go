package domain

import (
	"math"
	"math/rand"
)

// PlaceType identifies what kind of entity occupies a position on the monitoring UI's map -
// cameras, drones and incidents share the same coordinate space but are drawn differently.
type PlaceType int

const (
	CameraPlace PlaceType = iota + 1
	DronPlace
	ManualIncidentPlace
	AutomatedIncidentPlace
	MaintenancePlace
)

// PlaceTypeFor returns the PlaceType an incident from the given source is drawn as.
func PlaceTypeFor(source IncidentSource) PlaceType {
	if source == Manual {
		return ManualIncidentPlace
	}
	return AutomatedIncidentPlace
}

// GenerateCameraPlacements scatters count positions uniformly within radiusDegrees of center,
// for cmd/camera's generate subcommand. Each returned position is paired by the caller with a
// generated ID and range to build a config.CameraSpec line.
func GenerateCameraPlacements(center Position, radiusDegrees float64, count int, rng *rand.Rand) []Position {
	if rng == nil {
		rng = rand.New(rand.NewSource(1))
	}
	positions := make([]Position, count)
	for i := 0; i < count; i++ {
		angle := rng.Float64() * 2 * math.Pi
		r := radiusDegrees * math.Sqrt(rng.Float64())
		positions[i] = Position{
			Lat: center.Lat + r*math.Sin(angle),
			Lon: center.Lon + r*math.Cos(angle),
		}
	}
	return positions
}
