package hnode

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/nerrad567/hnode2-datasink/internal/devconfig"
	"github.com/nerrad567/hnode2-datasink/internal/dispatch"
	"github.com/nerrad567/hnode2-datasink/internal/endpoint"
)

// DefaultInstance is the instance name used when none is given.
const DefaultInstance = "default"

// Device config section and its keys.
const (
	SectionDevice = "device"

	KeyHNodeID    = "hnodeID"
	KeyName       = "name"
	KeyDeviceType = "deviceType"
	KeyInstance   = "instance"
)

// Identity names one daemon instance. It is the configuration store key.
type Identity struct {
	DeviceType string `json:"deviceType"`
	Instance   string `json:"instance"`
}

// NewIdentity returns an Identity, substituting DefaultInstance for an
// empty instance name.
func NewIdentity(deviceType, instance string) Identity {
	if instance == "" {
		instance = DefaultInstance
	}
	return Identity{DeviceType: deviceType, Instance: instance}
}

// String returns "deviceType/instance".
func (id Identity) String() string {
	return id.DeviceType + "/" + id.Instance
}

// Info describes the running device, as accepted from its configuration.
type Info struct {
	HNodeID    string `json:"hnodeID"`
	Name       string `json:"name"`
	DeviceType string `json:"deviceType"`
	Instance   string `json:"instance"`
	Version    string `json:"version"`
}

// Dispatcher executes a resolved operation. *dispatch.Dispatcher satisfies it.
type Dispatcher interface {
	Dispatch(ctx context.Context, opID string, op dispatch.Operation) error
}

// Endpoint is one registered endpoint set.
type Endpoint struct {
	DispatchID string
	Table      *endpoint.Table
	Dispatcher Dispatcher
}

// Device is the framework side of a device daemon.
//
// Thread Safety:
//   - Endpoints and Info are safe for concurrent use.
//   - AddEndpoint is expected during startup but is also safe.
type Device struct {
	id      Identity
	version string

	mu        sync.RWMutex
	endpoints []Endpoint

	info atomic.Pointer[Info]
}

// NewDevice creates a Device for id.
func NewDevice(id Identity, version string) *Device {
	return &Device{id: id, version: version}
}

// Identity returns the device identity.
func (d *Device) Identity() Identity {
	return d.id
}

// Version returns the daemon version reported in Info.
func (d *Device) Version() string {
	return d.version
}

// AddEndpoint registers an endpoint set. Every route of table is served
// by disp.
func (d *Device) AddEndpoint(dispatchID string, table *endpoint.Table, disp Dispatcher) error {
	if dispatchID == "" || table == nil || disp == nil {
		return fmt.Errorf("%w: dispatch ID, table and dispatcher are required", ErrInvalidEndpoint)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	for _, ep := range d.endpoints {
		if ep.DispatchID == dispatchID {
			return fmt.Errorf("%w: dispatch ID %q already registered", ErrInvalidEndpoint, dispatchID)
		}
		for _, r := range table.Routes() {
			if _, taken := ep.Table.Resolve(r.Method, r.Path); taken {
				return fmt.Errorf("%w: %s %s (held by %s)", ErrRouteConflict, r.Method, r.Path, ep.DispatchID)
			}
		}
	}

	d.endpoints = append(d.endpoints, Endpoint{
		DispatchID: dispatchID,
		Table:      table,
		Dispatcher: disp,
	})
	return nil
}

// Endpoints returns the registered endpoint sets in registration order.
func (d *Device) Endpoints() []Endpoint {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make([]Endpoint, len(d.endpoints))
	copy(out, d.endpoints)
	return out
}

// InitConfigSections writes the default device section into cfg. A new
// hnode ID is minted on each call.
func (d *Device) InitConfigSections(cfg *devconfig.Config) error {
	cfg.SetSection(SectionDevice, devconfig.Section{
		KeyHNodeID:    uuid.NewString(),
		KeyName:       d.id.Instance,
		KeyDeviceType: d.id.DeviceType,
		KeyInstance:   d.id.Instance,
	})
	return nil
}

// ValidateConfigSections checks cfg the way ReadConfigSections does
// without publishing anything.
func (d *Device) ValidateConfigSections(cfg *devconfig.Config) error {
	_, err := d.infoFrom(cfg)
	return err
}

// ReadConfigSections accepts cfg and publishes its Info.
func (d *Device) ReadConfigSections(cfg *devconfig.Config) error {
	info, err := d.infoFrom(cfg)
	if err != nil {
		return err
	}
	d.info.Store(info)
	return nil
}

// infoFrom builds the Info described by cfg.
//
// The device section must exist, carry an hnode ID, and name this
// device's type. A missing name falls back to the instance name.
func (d *Device) infoFrom(cfg *devconfig.Config) (*Info, error) {
	s, ok := cfg.Section(SectionDevice)
	if !ok {
		return nil, fmt.Errorf("%w: section %q missing", ErrInvalidSection, SectionDevice)
	}
	if s[KeyHNodeID] == "" {
		return nil, fmt.Errorf("%w: %s is empty", ErrInvalidSection, KeyHNodeID)
	}
	if s[KeyDeviceType] != d.id.DeviceType {
		return nil, fmt.Errorf("%w: %s is %q, want %q",
			ErrInvalidSection, KeyDeviceType, s[KeyDeviceType], d.id.DeviceType)
	}

	name := s[KeyName]
	if name == "" {
		name = d.id.Instance
	}

	return &Info{
		HNodeID:    s[KeyHNodeID],
		Name:       name,
		DeviceType: d.id.DeviceType,
		Instance:   d.id.Instance,
		Version:    d.version,
	}, nil
}

// Info returns the accepted device info. ok is false until a
// configuration has been read.
func (d *Device) Info() (info Info, ok bool) {
	p := d.info.Load()
	if p == nil {
		return Info{}, false
	}
	return *p, true
}
