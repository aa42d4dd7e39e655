// Package access provides burst-granular access to emulated state
// devices, bridging between bit-level register semantics and
// byte-addressed storage. A Bridge caches recently touched bursts in
// device-native byte order and converts to the caller's requested order
// lazily.
package access

import (
	"encoding/binary"
	"fmt"

	"github.com/sarchlab/akita/v4/mem/mem"

	"github.com/sarchlab/isasim/isa"
)

// Device is a byte-addressed state store: a register bank, a memory, or
// a peripheral. ReadRaw and WriteRaw always move bytes in the device's
// native order.
type Device interface {
	// Name identifies the device for diagnostics.
	Name() string
	// Size is the device capacity in bytes.
	Size() uint64
	// Order is the device's native byte order.
	Order() binary.ByteOrder
	// ReadRaw copies n bytes starting at offset.
	ReadRaw(offset uint64, n uint) ([]byte, error)
	// WriteRaw stores data starting at offset.
	WriteRaw(offset uint64, data []byte) error
}

// StorageDevice is a Device backed by an Akita memory storage.
type StorageDevice struct {
	name    string
	size    uint64
	order   binary.ByteOrder
	storage *mem.Storage
}

// NewStorageDevice allocates a zero-filled device of the given size.
// A nil order defaults to big-endian.
func NewStorageDevice(name string, size uint64, order binary.ByteOrder) *StorageDevice {
	if order == nil {
		order = binary.BigEndian
	}
	return &StorageDevice{
		name:    name,
		size:    size,
		order:   order,
		storage: mem.NewStorage(size),
	}
}

// Name returns the device name.
func (d *StorageDevice) Name() string {
	return d.name
}

// Size returns the device capacity in bytes.
func (d *StorageDevice) Size() uint64 {
	return d.size
}

// Order returns the device's native byte order.
func (d *StorageDevice) Order() binary.ByteOrder {
	return d.order
}

// ReadRaw copies n bytes starting at offset.
func (d *StorageDevice) ReadRaw(offset uint64, n uint) ([]byte, error) {
	if uint64(n) == 0 {
		return nil, nil
	}
	data, err := d.storage.Read(offset, uint64(n))
	if err != nil {
		return nil, fmt.Errorf("failed to read device %q: %w", d.name, err)
	}
	return data, nil
}

// WriteRaw stores data starting at offset.
func (d *StorageDevice) WriteRaw(offset uint64, data []byte) error {
	if len(data) == 0 {
		return nil
	}
	if err := d.storage.Write(offset, data); err != nil {
		return fmt.Errorf("failed to write device %q: %w", d.name, err)
	}
	return nil
}

// DevicesFor allocates one storage-backed device per device declared in
// a description, in declaration order, so that device handles from the
// description index the result directly.
func DevicesFor(desc *isa.Description) []Device {
	devs := make([]Device, 0, desc.NumDevices())
	for i := 0; i < desc.NumDevices(); i++ {
		def, _ := desc.Device(isa.DeviceID(i))
		devs = append(devs, NewStorageDevice(def.Name, def.Size, def.Order))
	}
	return devs
}
