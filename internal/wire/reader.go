package wire

import (
	"fmt"
	"io"
)

// MaxPDULen bounds the body of a single PDU to guard against a corrupt
// length field forcing an unbounded allocation.
const MaxPDULen = 1 << 20

// ReadPDU reads one PDU from r: the 8-byte header, then the remainder up to
// Header.Length. It returns the header and the full PDU body (header bytes
// included, for codecs that re-parse from offset 0).
func ReadPDU(r io.Reader) (Header, []byte, error) {
	var hdrBuf [HeaderLen]byte
	if _, err := io.ReadFull(r, hdrBuf[:]); err != nil {
		return Header{}, nil, err
	}
	hdr, err := DecodeHeader(hdrBuf[:])
	if err != nil {
		return Header{}, nil, err
	}
	if hdr.Length < HeaderLen || hdr.Length > MaxPDULen {
		return hdr, nil, fmt.Errorf("wire: invalid PDU length %d", hdr.Length)
	}

	rest := hdr.Length - HeaderLen
	buf := make([]byte, hdr.Length)
	copy(buf, hdrBuf[:])
	if rest > 0 {
		if _, err := io.ReadFull(r, buf[HeaderLen:]); err != nil {
			return hdr, nil, err
		}
	}
	return hdr, buf, nil
}
