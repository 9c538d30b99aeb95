package mbr

import "testing"

func TestCHSEncodeDecode(t *testing.T) {
	cases := []struct {
		name string
		chs  CHS
	}{
		{"zero", CHS{Head: 0, Sector: 0, Cylinder: 0}},
		{"first sector", CHS{Head: 0, Sector: 1, Cylinder: 0}},
		{"max fields", CHS{Head: 255, Sector: 63, Cylinder: 1023}},
		{"cylinder high bits only", CHS{Head: 16, Sector: 1, Cylinder: 768}},
		{"cylinder low bits only", CHS{Head: 16, Sector: 1, Cylinder: 255}},
		{"typical end", CHS{Head: 254, Sector: 63, Cylinder: 522}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h, s, c := tc.chs.encode()
			got := decodeCHS(h, s, c)
			if got != tc.chs {
				t.Fatalf("round trip %+v -> (%#02x %#02x %#02x) -> %+v", tc.chs, h, s, c, got)
			}
		})
	}
}

func TestCHSBitLayout(t *testing.T) {
	// Cylinder 1023 = 0b11_11111111: bits 8-9 live in the top bits of the
	// sector byte, bits 0-7 in the cylinder byte.
	h, s, c := CHS{Head: 255, Sector: 63, Cylinder: 1023}.encode()
	if h != 0xFF || s != 0xFF || c != 0xFF {
		t.Fatalf("encode = %#02x %#02x %#02x, want ff ff ff", h, s, c)
	}

	got := decodeCHS(0x00, 0xC1, 0x00)
	if got.Sector != 1 || got.Cylinder != 768 {
		t.Fatalf("decode(00 c1 00) = %+v, want sector 1 cylinder 768", got)
	}
}
