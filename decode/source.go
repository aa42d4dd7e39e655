package decode

import (
	"github.com/sarchlab/akita/v4/mem/mem"

	"github.com/sarchlab/isasim/access"
	"github.com/sarchlab/isasim/isa"
)

// ByteSource supplies raw instruction bytes to a decoder. The method
// set matches access.Device, so a device can serve directly as a fetch
// source.
type ByteSource interface {
	ReadRaw(offset uint64, n uint) ([]byte, error)
}

// StorageSource fetches instruction bytes straight from an Akita
// storage, with no caching. Useful for offline decoding of a program
// image.
type StorageSource struct {
	storage *mem.Storage
}

// NewStorageSource wraps a storage as a fetch source.
func NewStorageSource(storage *mem.Storage) *StorageSource {
	return &StorageSource{storage: storage}
}

// ReadRaw copies n bytes starting at offset.
func (s *StorageSource) ReadRaw(offset uint64, n uint) ([]byte, error) {
	return s.storage.Read(offset, uint64(n))
}

// BridgeSource fetches instruction bytes from one device through an
// access bridge, so repeated fetches of the same chunk hit the bridge's
// burst cache.
type BridgeSource struct {
	bridge *access.Bridge
	dev    isa.DeviceID
}

// NewBridgeSource wraps one device of a bridge as a fetch source.
func NewBridgeSource(bridge *access.Bridge, dev isa.DeviceID) *BridgeSource {
	return &BridgeSource{bridge: bridge, dev: dev}
}

// ReadRaw copies n bytes starting at offset, in device-native order.
func (s *BridgeSource) ReadRaw(offset uint64, n uint) ([]byte, error) {
	return s.bridge.ReadBytes(s.dev, offset, n, nil)
}
