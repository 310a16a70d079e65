package gpu

import (
	"encoding/binary"

	"github.com/cockroachdb/errors"
)

const spirvMagic = 0x07230203

// ParseSPIRV converts a SPIR-V binary into the word stream expected by shader
// module creation.
func ParseSPIRV(b []byte) ([]uint32, error) {
	if len(b) == 0 || len(b)%4 != 0 {
		return nil, errors.Newf("spir-v: size %d is not a positive multiple of 4", len(b))
	}

	code := make([]uint32, len(b)/4)
	for i := range code {
		code[i] = binary.LittleEndian.Uint32(b[i*4:])
	}

	if code[0] != spirvMagic {
		return nil, errors.Newf("spir-v: bad magic number 0x%08x", code[0])
	}
	return code, nil
}
