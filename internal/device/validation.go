package device

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
)

const (
	maxIDLength   = 128
	maxNameLength = 100
)

// Validate checks that d can be stored.
func (d *Device) Validate() error {
	if d.ID == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidDevice)
	}
	if len(d.ID) > maxIDLength {
		return fmt.Errorf("%w: id exceeds %d characters", ErrInvalidDevice, maxIDLength)
	}
	if strings.ContainsAny(d.ID, "/+#") {
		return fmt.Errorf("%w: id %q must not contain topic separators or wildcards", ErrInvalidDevice, d.ID)
	}

	name := strings.TrimSpace(d.Name)
	if name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidDevice)
	}
	if utf8.RuneCountInString(name) > maxNameLength {
		return fmt.Errorf("%w: name exceeds %d characters", ErrInvalidDevice, maxNameLength)
	}

	if !d.State.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidState, d.State)
	}
	return nil
}

// GenerateID returns a new random device ID.
func GenerateID() string {
	return uuid.New().String()
}
