package proto

import "encoding/json"

// Beacon is the discovery datagram a host broadcasts every announce
// interval. It is plain JSON text, never framed.
type Beacon struct {
	Name    string `json:"name"`
	IP      string `json:"ip"`
	Port    int    `json:"port"`
	Version int    `json:"version"`
}

// BeaconVersion is the current announce format version.
const BeaconVersion = 1

// MarshalBeacon encodes b for broadcast.
func MarshalBeacon(b Beacon) []byte {
	data, _ := json.Marshal(b)
	return data
}

// ParseBeacon decodes a discovery datagram. It returns false when the
// record is not JSON or any of the three required fields is missing;
// version is informational and not checked.
func ParseBeacon(data []byte) (Beacon, bool) {
	var b Beacon
	if err := json.Unmarshal(data, &b); err != nil {
		return Beacon{}, false
	}
	if b.Name == "" || b.IP == "" || b.Port <= 0 {
		return Beacon{}, false
	}
	return b, true
}
