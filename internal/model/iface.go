package model

import "time"

// SampleBuffer is the contract the core requires from the ephemeral
// sample store. Push must not block producers beyond a short critical
// section; Drain enumerates every hostname with pending samples for the
// metric exactly once; Clear must be invoked only after the drain's
// results are durably persisted.
type SampleBuffer interface {
	Push(metric, hostname string, ts time.Time, value float64) error
	Drain(metric string) ([]HostSamples, error)
	Clear(metric string) error
}

// DeviceWriter covers the device mutations used by the aggregation job.
type DeviceWriter interface {
	UpsertDevice(hostname, categoryID, ip string) (*Device, error)
	MergeLive(deviceID, key string, values map[string]float64) error
	ReplaceStatic(deviceID, key string, value any) error
}

// DeviceReader covers the read side consumed by the REST layer.
type DeviceReader interface {
	DeviceByID(id string) (*Device, error)
	DeviceByHostname(hostname string) (*Device, error)
	DevicesByCategory(categoryIDs []string, page PageRequest) (DevicePage, error)
}

// AlertWriter appends anomaly records. Inserting the same logical alert
// twice (crash-then-replay) is a no-op.
type AlertWriter interface {
	InsertAlert(a Alert) (Alert, error)
}

// AlertReader lists alerts for the query layer.
type AlertReader interface {
	AlertsByDevice(deviceID string, f AlertFilter) ([]Alert, int64, error)
}

// CategoryStore manages device categories.
type CategoryStore interface {
	AddCategory(name string) (*Category, error)
	EnsureCategory(name string) (*Category, error)
	CategoryByID(id string) (*Category, error)
	CategoryByName(name string) (*Category, error)
	ListCategories() ([]Category, error)
	DeleteCategory(id string) error
}
