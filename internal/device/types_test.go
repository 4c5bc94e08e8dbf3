package device

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestDevice_Fields(t *testing.T) {
	d := &Device{
		ID:           "dev-1",
		Name:         "Hall Sensor",
		DeviceTypeID: "urn:type:motion",
		State:        StateOnline,
		ModuleID:     "mqtt-connector",
	}

	got := d.Fields()
	want := []Field{
		{"name", "Hall Sensor"},
		{"device_type", "urn:type:motion"},
		{"state", "online"},
		{"module_id", "mqtt-connector"},
	}

	if len(got) != len(want) {
		t.Fatalf("Fields() returned %d pairs, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Fields()[%d] = %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestDevice_FieldsOmitsID(t *testing.T) {
	d := &Device{ID: "secret-id", Name: "n", State: StateOffline}
	for _, f := range d.Fields() {
		if f.Value == "secret-id" || f.Key == "id" {
			t.Errorf("Fields() exposes the id: %+v", f)
		}
	}
}

func TestDevice_Clone(t *testing.T) {
	seen := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	d := &Device{ID: "a", Name: "A", State: StateOnline, LastSeen: &seen}

	cpy := d.Clone()
	cpy.Name = "B"
	*cpy.LastSeen = seen.Add(time.Hour)

	if d.Name != "A" {
		t.Error("Clone shares Name with the original")
	}
	if !d.LastSeen.Equal(seen) {
		t.Error("Clone shares LastSeen with the original")
	}

	var nilDevice *Device
	if nilDevice.Clone() != nil {
		t.Error("Clone of nil should be nil")
	}
}

func TestDevice_Validate(t *testing.T) {
	tests := []struct {
		name    string
		device  Device
		wantErr error
	}{
		{"valid", Device{ID: "d1", Name: "Lamp", State: StateOnline}, nil},
		{"missing id", Device{Name: "Lamp", State: StateOnline}, ErrInvalidDevice},
		{"id with separator", Device{ID: "a/b", Name: "Lamp", State: StateOnline}, ErrInvalidDevice},
		{"id with wildcard", Device{ID: "a+", Name: "Lamp", State: StateOnline}, ErrInvalidDevice},
		{"long id", Device{ID: strings.Repeat("x", maxIDLength+1), Name: "Lamp", State: StateOnline}, ErrInvalidDevice},
		{"blank name", Device{ID: "d1", Name: "   ", State: StateOnline}, ErrInvalidDevice},
		{"long name", Device{ID: "d1", Name: strings.Repeat("n", maxNameLength+1), State: StateOnline}, ErrInvalidDevice},
		{"unknown state", Device{ID: "d1", Name: "Lamp", State: "broken"}, ErrInvalidState},
		{"empty state", Device{ID: "d1", Name: "Lamp"}, ErrInvalidState},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.device.Validate()
			if tt.wantErr == nil {
				if err != nil {
					t.Errorf("Validate() = %v, want nil", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Validate() = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestGenerateID_Unique(t *testing.T) {
	a, b := GenerateID(), GenerateID()
	if a == "" || a == b {
		t.Errorf("GenerateID() = %q, %q; want distinct non-empty IDs", a, b)
	}
}
