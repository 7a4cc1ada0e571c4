package domain

import (
	"encoding/json"
	"math"
)

// DronState mirrors the drone's lifecycle while responding to an incident.
type DronState int

const (
	// ExpectingToRecvIncident is the drone idling at its range center, waiting for work.
	ExpectingToRecvIncident DronState = iota + 1
	// RespondingToIncident is the drone in flight toward an incident's coordinates.
	RespondingToIncident
	// ManagingIncident is the drone holding position at the incident site.
	ManagingIncident
	// Mantainance is the drone flying to, or parked at, its maintenance point to recharge.
	Mantainance
)

func (s DronState) String() string {
	switch s {
	case ExpectingToRecvIncident:
		return "expecting_incident"
	case RespondingToIncident:
		return "responding_to_incident"
	case ManagingIncident:
		return "managing_incident"
	case Mantainance:
		return "maintenance"
	default:
		return "unknown"
	}
}

// Position is a point in decimal-degree latitude/longitude.
type Position struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Dron is one drone of the fleet. Info() is the part published on its state topic; the rest
// are fleet constants, normally loaded once from a config file and never transmitted.
type Dron struct {
	ID           string
	Pos          Position
	State        DronState
	BatteryLevel int // 0..MaxBatteryLevel

	MaxBatteryLevel            int
	MinOperationalBatteryLevel int
	RangeCenter                Position
	MaintenancePos             Position
	StepDegrees                float64 // how far Step moves per tick, in decimal degrees
	StayAtIncidentTicks        int     // how many Step calls to hold ManagingIncident before returning to range center

	target        Position // current destination while RespondingToIncident or Mantainance; not published
	stayRemaining int
}

// NewDron creates a drone parked at rangeCenter with a full battery, idling.
func NewDron(id string, rangeCenter, maintenancePos Position) *Dron {
	return &Dron{
		ID:                          id,
		Pos:                         rangeCenter,
		State:                       ExpectingToRecvIncident,
		BatteryLevel:                100,
		MaxBatteryLevel:             100,
		MinOperationalBatteryLevel:  20,
		RangeCenter:                 rangeCenter,
		MaintenancePos:              maintenancePos,
		StepDegrees:                 0.01,
		StayAtIncidentTicks:         3,
	}
}

// DronInfo is the payload published on a drone's state topic - CurrentInfo in the original.
type DronInfo struct {
	ID           string    `json:"id"`
	Pos          Position  `json:"pos"`
	State        DronState `json:"state"`
	BatteryLevel int       `json:"battery_level"`
}

// Info returns the wire payload for this drone's current state.
func (d *Dron) Info() DronInfo {
	return DronInfo{ID: d.ID, Pos: d.Pos, State: d.State, BatteryLevel: d.BatteryLevel}
}

// MarshalPayload encodes Info() as the bytes carried by a PUBLISH.
func (d *Dron) MarshalPayload() ([]byte, error) {
	return json.Marshal(d.Info())
}

// RespondTo switches an idling drone into flight toward an incident.
func (d *Dron) RespondTo(incident Incident) {
	if d.State != ExpectingToRecvIncident {
		return
	}
	d.State = RespondingToIncident
	d.target = Position{Lat: incident.Lat, Lon: incident.Lon}
}

// Step advances the drone one tick: moves it toward its current target, drains battery while in
// flight, and switches state on arrival or low battery. It returns true if the drone moved.
func (d *Dron) Step() bool {
	if d.BatteryLevel <= d.MinOperationalBatteryLevel && d.State != Mantainance {
		d.State = Mantainance
		d.target = d.MaintenancePos
	}

	switch d.State {
	case ExpectingToRecvIncident:
		return false
	case RespondingToIncident, Mantainance:
		arrived := d.moveToward(d.target)
		if d.State == RespondingToIncident {
			d.BatteryLevel--
		}
		if arrived && d.State == RespondingToIncident {
			d.State = ManagingIncident
			d.stayRemaining = d.StayAtIncidentTicks
		}
		if arrived && d.State == Mantainance {
			d.BatteryLevel = d.MaxBatteryLevel
			d.State = ExpectingToRecvIncident
			d.Pos = d.RangeCenter
		}
		return true
	case ManagingIncident:
		if d.stayRemaining > 0 {
			d.stayRemaining--
			return false
		}
		d.Resolve()
		return true
	default:
		return false
	}
}

// Resolve returns a drone managing an incident to its idle range center.
func (d *Dron) Resolve() {
	if d.State != ManagingIncident {
		return
	}
	d.State = ExpectingToRecvIncident
	d.Pos = d.RangeCenter
	d.target = Position{}
}

// moveToward steps Pos at most StepDegrees toward target and reports whether it arrived.
func (d *Dron) moveToward(target Position) bool {
	dLat := target.Lat - d.Pos.Lat
	dLon := target.Lon - d.Pos.Lon
	distance := math.Hypot(dLat, dLon)
	if distance <= d.StepDegrees {
		d.Pos = target
		return true
	}
	d.Pos.Lat += d.StepDegrees * dLat / distance
	d.Pos.Lon += d.StepDegrees * dLon / distance
	return false
}
