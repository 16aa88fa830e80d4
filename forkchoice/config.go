package forkchoice

// Config configures a Tree. Mirrors the teacher's plain-struct-plus-
// DefaultConfig pattern (storage.Config follows the same shape).
type Config struct {
	// SlotsPerEpoch is used to derive a vote's epoch from its slot
	// (epoch = slot / SlotsPerEpoch) when looking up stake. Defaults to 32.
	SlotsPerEpoch uint64
}

// DefaultConfig returns the default Tree configuration.
func DefaultConfig() Config {
	return Config{SlotsPerEpoch: 32}
}

func (c Config) epochOf(slot uint64) uint64 {
	spe := c.SlotsPerEpoch
	if spe == 0 {
		spe = 32
	}
	return slot / spe
}
