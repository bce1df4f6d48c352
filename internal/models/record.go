package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/smartdevs17/droneops-sync/pkg/utils"
)

// StoreName identifies one durable entity collection
type StoreName string

const (
	StoreFlightLogs         StoreName = "flight_logs"
	StoreInspections        StoreName = "inspections"
	StoreMaintenanceRecords StoreName = "maintenance_records"
)

// AllStores lists every entity collection in a stable order
var AllStores = []StoreName{StoreFlightLogs, StoreInspections, StoreMaintenanceRecords}

var storeAliases = map[string]StoreName{
	"flight_logs":         StoreFlightLogs,
	"flight-logs":         StoreFlightLogs,
	"flight-log":          StoreFlightLogs,
	"flightlogs":          StoreFlightLogs,
	"inspections":         StoreInspections,
	"inspection":          StoreInspections,
	"daily-inspections":   StoreInspections,
	"daily_inspections":   StoreInspections,
	"maintenance_records": StoreMaintenanceRecords,
	"maintenance-records": StoreMaintenanceRecords,
	"maintenancerecords":  StoreMaintenanceRecords,
	"maintenance":         StoreMaintenanceRecords,
}

// ParseStoreName resolves the accepted spellings of a store name
func ParseStoreName(s string) (StoreName, error) {
	if name, ok := storeAliases[strings.ToLower(strings.TrimSpace(s))]; ok {
		return name, nil
	}
	return "", utils.NewAppError(utils.ErrCodeValidation, "Unknown store", s)
}

// Valid reports whether s is one of the known stores
func (s StoreName) Valid() bool {
	for _, known := range AllStores {
		if s == known {
			return true
		}
	}
	return false
}

// SyncStatus is the per-record synchronization state
type SyncStatus string

const (
	SyncStatusPending SyncStatus = "pending"
	SyncStatusSynced  SyncStatus = "synced"
	SyncStatusError   SyncStatus = "error"
)

// IDKind tells placeholder ids apart from canonical ones
type IDKind int

const (
	IDKindLocal IDKind = iota
	IDKindRemote
)

// RecordID is either a local placeholder or a canonical remote identifier
type RecordID struct {
	Kind  IDKind
	Value string
}

// LocalID wraps a placeholder id
func LocalID(v string) RecordID { return RecordID{Kind: IDKindLocal, Value: v} }

// RemoteID wraps a canonical id assigned by the remote service
func RemoteID(v string) RecordID { return RecordID{Kind: IDKindRemote, Value: v} }

// NewLocalRecordID generates a fresh placeholder id
func NewLocalRecordID(now time.Time) RecordID {
	return LocalID(utils.NewLocalID(now))
}

// ParseRecordID classifies a stored id string by its prefix
func ParseRecordID(s string) RecordID {
	if strings.HasPrefix(s, utils.LocalIDPrefix) {
		return LocalID(s)
	}
	return RemoteID(s)
}

// IsLocal reports whether the id is an unconfirmed placeholder
func (id RecordID) IsLocal() bool { return id.Kind == IDKindLocal }

// IsZero reports whether no id is set
func (id RecordID) IsZero() bool { return id.Value == "" }

func (id RecordID) String() string { return id.Value }

// Record is a flight log, inspection or maintenance record held locally
type Record struct {
	ID             RecordID               `json:"-"`
	Store          StoreName              `json:"store"`
	Data           map[string]interface{} `json:"data"`
	SyncStatus     SyncStatus             `json:"syncStatus"`
	LocalTimestamp time.Time              `json:"localTimestamp"`
	CreatedAt      time.Time              `json:"createdAt"`
	UpdatedAt      time.Time              `json:"updatedAt"`
}

// View flattens the record into the shape returned to UI callers
func (r *Record) View() map[string]interface{} {
	out := make(map[string]interface{}, len(r.Data)+4)
	for k, v := range r.Data {
		out[k] = v
	}
	out["id"] = r.ID.Value
	out["syncStatus"] = string(r.SyncStatus)
	out["localTimestamp"] = r.LocalTimestamp
	out["isLocal"] = r.ID.IsLocal()
	return out
}

// IDFromData extracts an id field from opaque record data. JSON numbers are
// rendered without exponent.
func IDFromData(data map[string]interface{}) string {
	raw, ok := data["id"]
	if !ok || raw == nil {
		return ""
	}
	switch v := raw.(type) {
	case string:
		return v
	case float64:
		if v == float64(int64(v)) {
			return fmt.Sprintf("%d", int64(v))
		}
		return fmt.Sprintf("%v", v)
	default:
		return fmt.Sprintf("%v", v)
	}
}
