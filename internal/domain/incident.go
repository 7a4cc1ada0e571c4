// Package domain holds the opaque-to-the-broker payloads and small simulation helpers shared by
// cmd/camera, cmd/dron and cmd/monitor: incidents, drone movement and camera placement.
package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// IncidentSource identifies whether an incident was raised by a camera's automatic detector or
// entered manually from the monitoring UI.
type IncidentSource int

const (
	// Manual incidents are entered by an operator in cmd/monitor.
	Manual IncidentSource = iota + 1
	// Automated incidents are raised by cmd/camera's simulated detector.
	Automated
)

func (s IncidentSource) String() string {
	switch s {
	case Manual:
		return "manual"
	case Automated:
		return "automated"
	default:
		return fmt.Sprintf("IncidentSource(%d)", int(s))
	}
}

// IncidentState tracks whether an incident is still being responded to.
type IncidentState int

const (
	// InProgress incidents have not yet been resolved.
	InProgress IncidentState = iota + 1
	// Resolved incidents have been closed, either by a drone or by an operator.
	Resolved
)

func (s IncidentState) String() string {
	switch s {
	case InProgress:
		return "in_progress"
	case Resolved:
		return "resolved"
	default:
		return fmt.Sprintf("IncidentState(%d)", int(s))
	}
}

// Incident is the payload published on an incident topic. It is JSON-encoded before being handed
// to a PUBLISH - the broker only ever sees it as opaque bytes.
type Incident struct {
	ID        string        `json:"id"`
	Source    IncidentSource `json:"source"`
	State     IncidentState  `json:"state"`
	Lat       float64        `json:"lat"`
	Lon       float64        `json:"lon"`
	Reported  time.Time      `json:"reported"`
	Thumbnail []byte         `json:"thumbnail,omitempty"` // bmp-encoded, set by cmd/camera
}

// NewIncident creates an InProgress incident reported right now.
func NewIncident(id string, source IncidentSource, lat, lon float64) Incident {
	return Incident{ID: id, Source: source, State: InProgress, Lat: lat, Lon: lon, Reported: time.Now()}
}

// Resolve returns a copy of the incident with its state set to Resolved.
func (i Incident) Resolve() Incident {
	i.State = Resolved
	return i
}

// MarshalPayload encodes the incident as the bytes carried by a PUBLISH.
func (i Incident) MarshalPayload() ([]byte, error) {
	return json.Marshal(i)
}

// UnmarshalIncident decodes a PUBLISH payload previously produced by MarshalPayload.
func UnmarshalIncident(payload []byte) (Incident, error) {
	var i Incident
	err := json.Unmarshal(payload, &i)
	return i, err
}

// Topic returns the topic an incident from this source is published on.
func (s IncidentSource) Topic() string {
	return "vigilancia/incident/" + s.String()
}
