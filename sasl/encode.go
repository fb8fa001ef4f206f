package sasl

import "encoding/base64"

// encodeResponse splits payload into ChunkSize-sized AUTHENTICATE
// lines and returns them in order, followed by a trailing "+"
// terminator line when required. payload == nil sends the bare "+"
// response (used by EXTERNAL, and by PLAIN's absent-response case,
// though PLAIN never actually has one).
//
// See spec §4.3.
func encodeResponse(payload []byte) []string {
	if payload == nil {
		return []string{"AUTHENTICATE +"}
	}

	enc := base64.StdEncoding.EncodeToString(payload)
	lines := make([]string, 0, len(enc)/ChunkSize+1)

	offset := 0
	for offset < len(enc) {
		end := offset + ChunkSize
		if end > len(enc) {
			end = len(enc)
		}
		lines = append(lines, "AUTHENTICATE "+enc[offset:end])
		offset = end
	}

	if len(enc)%ChunkSize == 0 {
		// exact multiple of ChunkSize (including the empty payload):
		// the last chunk sent, if any, was itself ChunkSize long and
		// would otherwise look non-final to the peer's reassembler.
		lines = append(lines, "AUTHENTICATE +")
	}

	return lines
}
