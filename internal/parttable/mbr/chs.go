package mbr

// CHS is the legacy cylinder-head-sector address packed into three bytes of a
// partition entry. On disk the layout is:
//
//	byte 0: head (8 bits)
//	byte 1: sector (bits 0-5), cylinder bits 8-9 (bits 6-7)
//	byte 2: cylinder bits 0-7
//
// giving a 10-bit cylinder (0-1023) and a 6-bit sector (1-63).
type CHS struct {
	Head     uint8
	Sector   uint8
	Cylinder uint16
}

// decodeCHS unpacks the three on-disk bytes.
func decodeCHS(head, sector, cylinder byte) CHS {
	return CHS{
		Head:     head,
		Sector:   sector & 0x3F,
		Cylinder: uint16(cylinder) | uint16(sector&0xC0)<<2,
	}
}

// encode packs the address back into its three on-disk bytes.
func (c CHS) encode() (head, sector, cylinder byte) {
	head = c.Head
	sector = (c.Sector & 0x3F) | byte(c.Cylinder>>2)&0xC0
	cylinder = byte(c.Cylinder & 0xFF)
	return head, sector, cylinder
}
