package model

import (
	"strings"
)

// MediaType is the kind of removable media a slot emulates.
type MediaType string

const (
	MediaTypeCD     MediaType = "CD"
	MediaTypeFloppy MediaType = "Floppy"
)

// Slot identifiers of the emulated removable media devices.
const (
	SlotCD     = "cd0"
	SlotFloppy = "floppy0"
)

// VirtualMedia is the state of one emulated removable media slot.
type VirtualMedia struct {
	SlotID         string    `json:"id" yaml:"id"`
	MediaType      MediaType `json:"media_type" yaml:"media_type"`
	ImageURI       string    `json:"image,omitempty" yaml:"image,omitempty"`
	Inserted       bool      `json:"inserted" yaml:"inserted"`
	WriteProtected bool      `json:"write_protected" yaml:"write_protected"`
}

// EmptySlot returns the snapshot of a slot with no media.
func EmptySlot(slot string) VirtualMedia {
	vm := VirtualMedia{SlotID: slot, WriteProtected: true}
	vm.MediaType, _ = SlotMediaType(slot)

	return vm
}

// ParseSlot normalizes a slot identifier, accepting the Cd and Floppy aliases.
func ParseSlot(s string) (string, error) {
	switch strings.ToLower(s) {
	case SlotCD, "cd":
		return SlotCD, nil
	case SlotFloppy, "floppy":
		return SlotFloppy, nil
	default:
		return "", Public(ErrInvalidRequest, "unknown virtual media slot %q", s)
	}
}

// SlotMediaType returns the media type served by a normalized slot.
func SlotMediaType(slot string) (MediaType, error) {
	switch slot {
	case SlotCD:
		return MediaTypeCD, nil
	case SlotFloppy:
		return MediaTypeFloppy, nil
	default:
		return "", Public(ErrInvalidRequest, "unknown virtual media slot %q", slot)
	}
}

// Slots lists the slots every System exposes.
func Slots() []string {
	return []string{SlotCD, SlotFloppy}
}
