package model

import "time"

// Device is the per-device state document. Identity is an opaque id;
// Hostname is the unique join key between the sample buffer (keyed by
// hostname) and this store (keyed by id).
//
// Static entries are wholesale-replaced per key. Live entries are shallow
// unions: successive aggregation cycles accumulate timestamp→value points
// under one metric key without clobbering earlier points.
type Device struct {
	ID         string      `json:"id"`
	Hostname   string      `json:"hostname"`
	IP         string      `json:"ip,omitempty"`
	CategoryID string      `json:"category_id,omitempty"`
	Static     []DataEntry `json:"static"`
	Live       []LiveEntry `json:"live"`
	CreatedAt  time.Time   `json:"created_at"`
}

// DataEntry is one static attribute of a device. Value is open-ended JSON.
type DataEntry struct {
	Key   string `json:"key"`
	Value any    `json:"value"`
}

// LiveEntry is one live metric series of a device: a mapping of
// timestamp-string to aggregated value.
type LiveEntry struct {
	Key    string             `json:"key"`
	Values map[string]float64 `json:"values"`
}

// Category groups devices. Name is unique within the system.
type Category struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// Alert is an append-only anomaly record. Severity is an integer in
// [0, 10]; values outside the range are rejected, never clamped.
// Timestamp is the offending sample's own timestamp, not the drain time.
type Alert struct {
	ID        string    `json:"id"`
	DeviceID  string    `json:"device_id"`
	Severity  int       `json:"severity"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// Sample is a single timestamped counter reading.
type Sample struct {
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
}

// HostSamples carries the drained samples of one hostname for one metric.
type HostSamples struct {
	Hostname string
	Samples  []Sample
}

// Aggregator is a registered collector agent instance.
type Aggregator struct {
	ID        string    `json:"id"`
	Token     string    `json:"-"`
	Version   string    `json:"version,omitempty"`
	IP        string    `json:"ip,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// ModuleType describes a collector module kind and its config schema.
type ModuleType struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	ConfigSignature any    `json:"config_signature,omitempty"`
	ConfigFields    any    `json:"config_fields,omitempty"`
}

// Module is one module instance bound to a device. Devices with zero
// modules are valid.
type Module struct {
	ID       string `json:"id"`
	DeviceID string `json:"device_id"`
	TypeID   string `json:"type_id"`
	Config   any    `json:"config,omitempty"`
}

// DevicePage is one page of a device listing. Total is always the full
// matching count, independent of the requested window.
type DevicePage struct {
	Page    int      `json:"page,omitempty"`
	Amount  int      `json:"amount,omitempty"`
	Total   int64    `json:"total"`
	Devices []Device `json:"devices"`
}

// AlertFilter narrows an alert listing. Zero values mean "no bound".
type AlertFilter struct {
	MinSeverity int
	MaxSeverity int
	Since       time.Time
	Until       time.Time
	Page        PageRequest
}

const (
	// MinSeverity and MaxSeverity bound valid alert severities, inclusive.
	MinSeverity = 0
	MaxSeverity = 10
)
