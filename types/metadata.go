package types

import (
	"strconv"
	"time"
)

// ClusterMetadata is the reporting surface for one provisioned
// service. Consumed by reporting, never by the engine itself.
type ClusterMetadata struct {
	Service       string `json:"service"`
	Version       string `json:"version"`
	ClusterID     string `json:"cluster_id"`
	MachineType   string `json:"machine_type,omitempty"`
	WorkerCount   int    `json:"worker_count,omitempty"`
	Zone          string `json:"zone,omitempty"`
	JobProperties string `json:"job_properties,omitempty"`
}

// Map flattens the metadata into the key=value form reports expect.
func (m ClusterMetadata) Map() map[string]string {
	pretty := m.Version
	if pretty == "" {
		pretty = "default"
	}
	data := map[string]string{
		"service":         m.Service,
		"version":         pretty,
		"service_version": m.Service + "_" + pretty,
		"cluster_id":      m.ClusterID,
	}
	if m.MachineType != "" {
		data["cluster_shape"] = m.MachineType
	}
	if m.WorkerCount > 0 {
		data["cluster_size"] = strconv.Itoa(m.WorkerCount)
	}
	if m.Zone != "" {
		data["zone"] = m.Zone
	}
	if m.JobProperties != "" {
		data["job_properties"] = m.JobProperties
	}
	return data
}

// Sample is one recorded measurement from a run.
type Sample struct {
	Metric    string            `json:"metric"`
	Value     float64           `json:"value"`
	Unit      string            `json:"unit"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}
