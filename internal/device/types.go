package device

import "time"

// State is the reachability of a device as last observed on the broker.
type State string

// Known device states.
const (
	StateOnline  State = "online"
	StateOffline State = "offline"
)

// Valid reports whether s is a known state.
func (s State) Valid() bool {
	return s == StateOnline || s == StateOffline
}

// Device is a device that publishes on, or is addressed through, the broker.
type Device struct {
	ID           string     `json:"id"`
	Name         string     `json:"name"`
	DeviceTypeID string     `json:"device_type_id"`
	State        State      `json:"state"`
	ModuleID     string     `json:"module_id"`
	LastSeen     *time.Time `json:"last_seen,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// Field is one (key, value) pair of a device's exported attributes.
type Field struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Fields returns the attributes downstream collaborators consume, always
// in the order name, device_type, state, module_id.
func (d *Device) Fields() []Field {
	return []Field{
		{Key: "name", Value: d.Name},
		{Key: "device_type", Value: d.DeviceTypeID},
		{Key: "state", Value: string(d.State)},
		{Key: "module_id", Value: d.ModuleID},
	}
}

// Clone returns an independent copy of d.
func (d *Device) Clone() *Device {
	if d == nil {
		return nil
	}
	cpy := *d
	if d.LastSeen != nil {
		t := *d.LastSeen
		cpy.LastSeen = &t
	}
	return &cpy
}
