package util

import (
	"encoding/binary"
	"strings"

	"github.com/google/uuid"
)

// maxClientID keeps replica client ids within the integer range JavaScript peers
// can represent exactly.
const maxClientID = 1<<53 - 1

func NewID(prefix string) string {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	if prefix == "" {
		return id
	}
	return prefix + "_" + id
}

// NewClientID returns a random non-zero replica client id.
func NewClientID() uint64 {
	for {
		u := uuid.New()
		if id := binary.BigEndian.Uint64(u[:8]) & maxClientID; id != 0 {
			return id
		}
	}
}
