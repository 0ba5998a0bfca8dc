// Package ie walks 802.11 information-element lists: tag, length,
// value triples packed back to back in a management frame body.
package ie

// IterateIEs calls fn for each well-formed element in data, stopping
// at the first element whose declared length runs past the buffer.
func IterateIEs(data []byte, fn func(id int, val []byte)) {
	offset := 0
	for offset+2 <= len(data) {
		id := int(data[offset])
		length := int(data[offset+1])
		offset += 2
		if offset+length > len(data) {
			return
		}
		fn(id, data[offset:offset+length])
		offset += length
	}
}

// FindIE returns the value of the first element with the given tag,
// or nil if none is present.
func FindIE(data []byte, tag int) []byte {
	var result []byte
	IterateIEs(data, func(id int, val []byte) {
		if result == nil && id == tag {
			result = val
		}
	})
	return result
}

// ParseSSID extracts the SSID (tag 0). A zero-length or null-leading
// SSID reads as hidden.
func ParseSSID(data []byte) string {
	val := FindIE(data, 0)
	if val == nil {
		return ""
	}
	if len(val) == 0 || val[0] == 0x00 {
		return "<HIDDEN>"
	}
	return string(val)
}

// ParseChannel extracts the channel from the DS Parameter Set
// (tag 3), or 0 when absent.
func ParseChannel(data []byte) int {
	if val := FindIE(data, 3); len(val) >= 1 {
		return int(val[0])
	}
	return 0
}

// VendorIEs returns every vendor-specific element (tag 221) in order.
func VendorIEs(data []byte) [][]byte {
	var out [][]byte
	IterateIEs(data, func(id int, val []byte) {
		if id == 221 {
			out = append(out, val)
		}
	})
	return out
}
