package intercept

import "encoding/hex"

// HexBytes decodes a hex string into raw bytes, for replaying binary
// bodies out of recorded captures. Returns nil when s is not valid hex.
func HexBytes(s string) []byte {
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil
	}
	return b
}
