package flashmap

// Item is the capability set a caller implements for its own key/value
// type, per spec.md §6. The engine never interprets the serialized
// bytes — it only frames them with a length and a CRC. K must be
// comparable so it can key the in-RAM caches in §4.G.
type Item[K comparable] interface {
	// SerializeInto writes the item's self-describing bytes (key and
	// value) into buffer and returns the number of bytes used. It
	// returns an error if buffer is too small or the item cannot be
	// represented.
	SerializeInto(buffer []byte) (int, error)
	// Key returns this item's key.
	Key() K
}

// Codec deserializes a caller's item type back out of frames read off
// flash. It is a separate capability set from Item because
// deserialization has no existing value to be a method of — a
// free-standing decoder is the idiomatic Go shape for "decode bytes
// into T" where T has no natural zero-value receiver.
type Codec[K comparable, V Item[K]] interface {
	// DeserializeFrom parses a full item from buffer.
	DeserializeFrom(buffer []byte) (V, error)
	// DeserializeKeyOnly parses just the key from buffer, without
	// decoding the value — used by scans that only need to match keys.
	DeserializeKeyOnly(buffer []byte) (K, error)
}
