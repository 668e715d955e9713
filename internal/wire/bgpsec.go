package wire

import (
	"encoding/binary"
	"fmt"
)

// BGPsecData is the normalized path-attribute blob carried inside verify
// requests and hashed into the update fingerprint, spec.md §3.
type BGPsecData struct {
	AFI      uint16
	SAFI     uint8
	LocalAS  uint32
	ASPath   []uint32 // up to num_hops ASNs, host order once decoded
	PathAttr []byte   // raw bgpsec_path_attr bytes, may be empty
}

// Encode appends the canonical byte encoding of d to buf and returns it.
// The format is self-delimiting: afi, safi, local_as, num_hops, as_path,
// attr_len, bgpsec_path_attr.
func (d *BGPsecData) Encode(buf []byte) []byte {
	var hdr [11]byte
	binary.BigEndian.PutUint16(hdr[0:2], d.AFI)
	hdr[2] = d.SAFI
	binary.BigEndian.PutUint32(hdr[3:7], d.LocalAS)
	binary.BigEndian.PutUint32(hdr[7:11], uint32(len(d.ASPath)))
	buf = append(buf, hdr[:]...)

	for _, asn := range d.ASPath {
		var a [4]byte
		binary.BigEndian.PutUint32(a[:], asn)
		buf = append(buf, a[:]...)
	}

	var attrLen [4]byte
	binary.BigEndian.PutUint32(attrLen[:], uint32(len(d.PathAttr)))
	buf = append(buf, attrLen[:]...)
	buf = append(buf, d.PathAttr...)
	return buf
}

// DecodeBGPsecData reads a BGPsecData previously written by Encode,
// returning the data and the number of bytes consumed.
func DecodeBGPsecData(b []byte) (BGPsecData, int, error) {
	if len(b) < 11 {
		return BGPsecData{}, 0, fmt.Errorf("wire: short bgpsec header")
	}
	var d BGPsecData
	d.AFI = binary.BigEndian.Uint16(b[0:2])
	d.SAFI = b[2]
	d.LocalAS = binary.BigEndian.Uint32(b[3:7])
	numHops := binary.BigEndian.Uint32(b[7:11])
	off := 11

	if uint64(off)+uint64(numHops)*4 > uint64(len(b)) {
		return BGPsecData{}, 0, fmt.Errorf("wire: truncated as_path")
	}
	if numHops > 0 {
		d.ASPath = make([]uint32, numHops)
	}
	for i := range d.ASPath {
		d.ASPath[i] = binary.BigEndian.Uint32(b[off : off+4])
		off += 4
	}

	if off+4 > len(b) {
		return BGPsecData{}, 0, fmt.Errorf("wire: missing attr_len")
	}
	attrLen := binary.BigEndian.Uint32(b[off : off+4])
	off += 4

	if uint64(off)+uint64(attrLen) > uint64(len(b)) {
		return BGPsecData{}, 0, fmt.Errorf("wire: truncated bgpsec_path_attr")
	}
	d.PathAttr = append([]byte(nil), b[off:off+int(attrLen)]...)
	off += int(attrLen)

	return d, off, nil
}
