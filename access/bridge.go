package access

import (
	"encoding/binary"
	"fmt"

	akitacache "github.com/sarchlab/akita/v4/mem/cache"

	"github.com/sarchlab/isasim/bitfield"
	"github.com/sarchlab/isasim/isa"
)

// Config holds bridge cache parameters.
type Config struct {
	// NumSets in the burst cache directory.
	NumSets int
	// Associativity (number of ways per set).
	Associativity int
}

// DefaultConfig returns the default burst cache geometry: 256 entries,
// 4-way set associative.
func DefaultConfig() Config {
	return Config{
		NumSets:       64,
		Associativity: 4,
	}
}

// Statistics holds bridge performance counters.
type Statistics struct {
	Reads         uint64
	Writes        uint64
	Hits          uint64
	Misses        uint64
	Evictions     uint64
	Invalidations uint64
}

// Bridge mediates burst-granular access to a core's devices. Bursts are
// cached in device-native byte order using an Akita cache directory for
// tag and replacement state; order-converted views are derived lazily
// and kept alongside. All writes go straight through to the device, so
// cached entries are never dirty and eviction is silent.
//
// A bridge belongs to one core. It is not safe for concurrent use.
type Bridge struct {
	config  Config
	devices []Device
	byName  map[string]isa.DeviceID

	// Akita cache directory for tag/state management.
	directory *akitacache.DirectoryImpl

	// Burst bytes in device-native order, indexed by
	// (setID * associativity + wayID).
	entries [][]byte

	// Lazily computed byte-reversed views of entries.
	flipped [][]byte

	stats Statistics
}

// Cache keys pack (device, offset, burst) into one address:
// device(16) | offset(40) | burst(8). Bursts that do not fit the layout
// bypass the cache and access the device directly.
const (
	maxCachedBurst  = 1<<8 - 1
	maxCachedOffset = 1<<40 - 1
	maxDevices      = 1 << 16
)

// New creates a bridge over a core's devices. Device order must match
// the description that produced the register locations used against it.
func New(config Config, devices ...Device) (*Bridge, error) {
	if config.NumSets <= 0 || config.Associativity <= 0 {
		return nil, fmt.Errorf("bridge cache geometry %dx%d is invalid", config.NumSets, config.Associativity)
	}
	if len(devices) > maxDevices {
		return nil, fmt.Errorf("too many devices: %d of at most %d", len(devices), maxDevices)
	}

	byName := make(map[string]isa.DeviceID, len(devices))
	for i, dev := range devices {
		if _, dup := byName[dev.Name()]; dup {
			return nil, fmt.Errorf("device %q attached twice", dev.Name())
		}
		byName[dev.Name()] = isa.DeviceID(i)
	}

	totalBlocks := config.NumSets * config.Associativity
	return &Bridge{
		config:  config,
		devices: devices,
		byName:  byName,
		directory: akitacache.NewDirectory(
			config.NumSets,
			config.Associativity,
			1, // keys are synthetic addresses, not byte ranges
			akitacache.NewLRUVictimFinder(),
		),
		entries: make([][]byte, totalBlocks),
		flipped: make([][]byte, totalBlocks),
	}, nil
}

// NumDevices returns the number of attached devices.
func (b *Bridge) NumDevices() int {
	return len(b.devices)
}

// Device returns an attached device by handle.
func (b *Bridge) Device(id isa.DeviceID) (Device, error) {
	if int(id) < 0 || int(id) >= len(b.devices) {
		return nil, fmt.Errorf("unknown device %d", id)
	}
	return b.devices[id], nil
}

// DeviceByName looks an attached device up by name.
func (b *Bridge) DeviceByName(name string) (isa.DeviceID, bool) {
	id, ok := b.byName[name]
	return id, ok
}

// Stats returns the bridge's counters.
func (b *Bridge) Stats() Statistics {
	return b.stats
}

// ResetStats clears the bridge's counters.
func (b *Bridge) ResetStats() {
	b.stats = Statistics{}
}

// Reset drops every cached burst. Required after device contents change
// behind the bridge's back, such as loading a program image directly
// into a storage device.
func (b *Bridge) Reset() {
	b.directory.Reset()
	for i := range b.entries {
		b.entries[i] = nil
		b.flipped[i] = nil
	}
}

// ReadBits reads a burst and extracts sel from it, interpreting the
// burst in the requested byte order (nil means device-native). The
// extracted bits are returned right-aligned.
func (b *Bridge) ReadBits(dev isa.DeviceID, off uint64, burst uint, sel bitfield.Range, order binary.ByteOrder) (uint64, error) {
	b.stats.Reads++
	device, err := b.device(dev)
	if err != nil {
		return 0, err
	}
	if err := checkBurst(device, off, burst); err != nil {
		return 0, err
	}

	native, idx, err := b.nativeBurst(dev, off, burst)
	if err != nil {
		return 0, err
	}
	view := native
	if flipOrder(order, device.Order()) {
		view = b.flippedView(idx, native)
	}
	v, err := bitfield.Read(view, sel.Offset, sel.Length)
	if err != nil {
		return 0, fmt.Errorf("device %q burst [%d,+%d): %w", device.Name(), off, burst, err)
	}
	return v, nil
}

// WriteBits stores value into sel of a burst, leaving the rest of the
// burst intact. The burst is fetched if needed, spliced, and written
// back to the device as one full-burst write. Any other cached burst
// overlapping the written bytes is invalidated.
func (b *Bridge) WriteBits(dev isa.DeviceID, off uint64, burst uint, sel bitfield.Range, order binary.ByteOrder, value uint64) error {
	b.stats.Writes++
	device, err := b.device(dev)
	if err != nil {
		return err
	}
	if err := checkBurst(device, off, burst); err != nil {
		return err
	}

	native, idx, err := b.nativeBurst(dev, off, burst)
	if err != nil {
		return err
	}

	flip := flipOrder(order, device.Order())
	buf := append([]byte(nil), native...)
	if flip {
		reverseBytes(buf)
	}
	if err := bitfield.Write(buf, sel.Offset, sel.Length, value); err != nil {
		return fmt.Errorf("device %q burst [%d,+%d): %w", device.Name(), off, burst, err)
	}
	if flip {
		reverseBytes(buf)
	}

	if err := device.WriteRaw(off, buf); err != nil {
		return err
	}
	if idx >= 0 {
		b.entries[idx] = buf
		b.flipped[idx] = nil
	}
	b.invalidateOverlaps(dev, off, burst, idx)
	return nil
}

// ReadBytes reads a whole burst in the requested byte order. The
// returned slice is the caller's to keep.
func (b *Bridge) ReadBytes(dev isa.DeviceID, off uint64, burst uint, order binary.ByteOrder) ([]byte, error) {
	b.stats.Reads++
	device, err := b.device(dev)
	if err != nil {
		return nil, err
	}
	if err := checkBurst(device, off, burst); err != nil {
		return nil, err
	}

	native, idx, err := b.nativeBurst(dev, off, burst)
	if err != nil {
		return nil, err
	}
	view := native
	if flipOrder(order, device.Order()) {
		view = b.flippedView(idx, native)
	}
	return append([]byte(nil), view...), nil
}

// WriteBytes stores a whole burst given in the requested byte order.
// An exactly matching cached burst is updated in place; every other
// overlapping entry is invalidated.
func (b *Bridge) WriteBytes(dev isa.DeviceID, off uint64, data []byte, order binary.ByteOrder) error {
	b.stats.Writes++
	device, err := b.device(dev)
	if err != nil {
		return err
	}
	burst := uint(len(data))
	if err := checkBurst(device, off, burst); err != nil {
		return err
	}

	buf := append([]byte(nil), data...)
	if flipOrder(order, device.Order()) {
		reverseBytes(buf)
	}
	if err := device.WriteRaw(off, buf); err != nil {
		return err
	}

	keep := -1
	if b.cacheable(off, burst) {
		key := burstKey(dev, off, burst)
		if block := b.directory.Lookup(0, key); block != nil && block.IsValid {
			keep = b.blockIndex(block)
			b.entries[keep] = buf
			b.flipped[keep] = nil
		}
	}
	b.invalidateOverlaps(dev, off, burst, keep)
	return nil
}

// device validates a device handle.
func (b *Bridge) device(dev isa.DeviceID) (Device, error) {
	if int(dev) < 0 || int(dev) >= len(b.devices) {
		return nil, fmt.Errorf("unknown device %d", dev)
	}
	return b.devices[dev], nil
}

// blockIndex computes the index into entries for a directory block.
func (b *Bridge) blockIndex(block *akitacache.Block) int {
	return block.SetID*b.config.Associativity + block.WayID
}

func (b *Bridge) cacheable(off uint64, burst uint) bool {
	return burst > 0 && burst <= maxCachedBurst && off <= maxCachedOffset
}

func burstKey(dev isa.DeviceID, off uint64, burst uint) uint64 {
	return uint64(dev)<<48 | off<<8 | uint64(burst)
}

func splitKey(key uint64) (isa.DeviceID, uint64, uint) {
	return isa.DeviceID(key >> 48), key >> 8 & maxCachedOffset, uint(key & maxCachedBurst)
}

// nativeBurst returns a burst in device-native order, from the cache
// when possible. The returned index is the cache slot, or -1 when the
// burst bypassed the cache.
func (b *Bridge) nativeBurst(dev isa.DeviceID, off uint64, n uint) ([]byte, int, error) {
	if !b.cacheable(off, n) {
		data, err := b.devices[dev].ReadRaw(off, n)
		return data, -1, err
	}

	key := burstKey(dev, off, n)
	if block := b.directory.Lookup(0, key); block != nil && block.IsValid {
		b.stats.Hits++
		b.directory.Visit(block)
		idx := b.blockIndex(block)
		return b.entries[idx], idx, nil
	}

	b.stats.Misses++
	data, err := b.devices[dev].ReadRaw(off, n)
	if err != nil {
		return nil, -1, err
	}

	victim := b.directory.FindVictim(key)
	if victim == nil {
		return data, -1, nil
	}
	idx := b.blockIndex(victim)
	if victim.IsValid {
		b.stats.Evictions++
	}
	b.entries[idx] = data
	b.flipped[idx] = nil
	victim.Tag = key
	victim.IsValid = true
	victim.IsDirty = false
	b.directory.Visit(victim)
	return data, idx, nil
}

// flippedView returns the byte-reversed form of a native burst,
// computing and caching it on first use for cached entries.
func (b *Bridge) flippedView(idx int, native []byte) []byte {
	if idx < 0 {
		rev := append([]byte(nil), native...)
		reverseBytes(rev)
		return rev
	}
	if b.flipped[idx] == nil {
		rev := append([]byte(nil), native...)
		reverseBytes(rev)
		b.flipped[idx] = rev
	}
	return b.flipped[idx]
}

// invalidateOverlaps drops every cached burst on dev whose byte range
// intersects [off, off+n), except the slot keep.
func (b *Bridge) invalidateOverlaps(dev isa.DeviceID, off uint64, n uint, keep int) {
	sets := b.directory.GetSets()
	for si := range sets {
		for _, block := range sets[si].Blocks {
			if !block.IsValid {
				continue
			}
			idx := b.blockIndex(block)
			if idx == keep {
				continue
			}
			bdev, boff, bn := splitKey(block.Tag)
			if bdev != dev {
				continue
			}
			if boff < off+uint64(n) && off < boff+uint64(bn) {
				block.IsValid = false
				block.IsDirty = false
				b.entries[idx] = nil
				b.flipped[idx] = nil
				b.stats.Invalidations++
			}
		}
	}
}

func checkBurst(device Device, off uint64, n uint) error {
	if off > device.Size() || uint64(n) > device.Size()-off {
		return fmt.Errorf("burst [%d,+%d) exceeds device %q (%d bytes)", off, n, device.Name(), device.Size())
	}
	return nil
}

// flipOrder reports whether the requested order differs from the
// device's native order. A nil request means native.
func flipOrder(requested, native binary.ByteOrder) bool {
	return requested != nil && requested != native
}

func reverseBytes(s []byte) {
	for i, j := 0, len(s)-1; i < j; i, j = i+1, j-1 {
		s[i], s[j] = s[j], s[i]
	}
}
