package catalog

import (
	"context"
	"errors"
	"sync"
)

// ErrNotFound is returned when a dataset or file is not in the catalog.
var ErrNotFound = errors.New("catalog: not found")

// ServiceKind names an access service offered by a replica.
type ServiceKind string

const (
	ServiceHTTP    ServiceKind = "HTTPServer"
	ServiceOPeNDAP ServiceKind = "OPENDAP"
	ServiceGridFTP ServiceKind = "GridFTP"
)

// Replica is one hosted copy of a file on a data node.
type Replica struct {
	DataNode string                 `json:"data_node"`
	Services map[ServiceKind]string `json:"services"`
}

// URL returns the endpoint for the given service, if the replica offers it.
func (r Replica) URL(kind ServiceKind) (string, bool) {
	u, ok := r.Services[kind]
	return u, ok && u != ""
}

// File describes one logical file of a dataset.
type File struct {
	InstanceID   string    `json:"instance_id"`
	Size         int64     `json:"size"`
	Checksum     string    `json:"checksum,omitempty"`
	ChecksumType string    `json:"checksum_type,omitempty"`
	Replicas     []Replica `json:"replicas"`
}

// Replica returns the replica hosted on dataNode.
func (f *File) Replica(dataNode string) (Replica, bool) {
	for _, r := range f.Replicas {
		if r.DataNode == dataNode {
			return r, true
		}
	}
	return Replica{}, false
}

// Dataset is a named, ordered collection of files plus the classification
// metadata used to derive its storage path.
type Dataset struct {
	InstanceID string            `json:"instance_id"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	Files      []File            `json:"files"`
}

// File returns the file with the given instance id.
func (d *Dataset) File(id string) (*File, bool) {
	for i := range d.Files {
		if d.Files[i].InstanceID == id {
			return &d.Files[i], true
		}
	}
	return nil, false
}

// Catalog resolves datasets and files. Implementations must be safe for
// concurrent use. Returned values are shared and must not be modified.
type Catalog interface {
	GetDataset(ctx context.Context, datasetID string) (*Dataset, error)
	GetFile(ctx context.Context, datasetID, fileID string) (*File, error)
}

// Memory is an in-process Catalog.
type Memory struct {
	mu       sync.RWMutex
	datasets map[string]*Dataset
}

// NewMemory returns a Memory catalog holding the given datasets.
func NewMemory(datasets ...*Dataset) *Memory {
	m := &Memory{datasets: make(map[string]*Dataset)}
	for _, d := range datasets {
		m.datasets[d.InstanceID] = d
	}
	return m
}

// Put adds or replaces a dataset.
func (m *Memory) Put(d *Dataset) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.datasets[d.InstanceID] = d
}

func (m *Memory) GetDataset(_ context.Context, datasetID string) (*Dataset, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	d, ok := m.datasets[datasetID]
	if !ok {
		return nil, ErrNotFound
	}
	return d, nil
}

func (m *Memory) GetFile(ctx context.Context, datasetID, fileID string) (*File, error) {
	d, err := m.GetDataset(ctx, datasetID)
	if err != nil {
		return nil, err
	}
	f, ok := d.File(fileID)
	if !ok {
		return nil, ErrNotFound
	}
	return f, nil
}
