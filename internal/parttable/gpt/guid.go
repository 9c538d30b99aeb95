package gpt

import (
	"strings"

	"github.com/google/uuid"
)

// GPT stores GUIDs in mixed endianness: the first three groups are
// little-endian on disk, the rest big-endian (EFI spec, appendix A).
// uuid.UUID holds the canonical big-endian form, so the first eight bytes
// are swapped on the way in and out.

func guidFromLE(b [16]byte) uuid.UUID {
	var u uuid.UUID
	u[0], u[1], u[2], u[3] = b[3], b[2], b[1], b[0]
	u[4], u[5] = b[5], b[4]
	u[6], u[7] = b[7], b[6]
	copy(u[8:], b[8:])
	return u
}

func guidToLE(u uuid.UUID) [16]byte {
	var b [16]byte
	b[0], b[1], b[2], b[3] = u[3], u[2], u[1], u[0]
	b[4], b[5] = u[5], u[4]
	b[6], b[7] = u[7], u[6]
	copy(b[8:], u[8:])
	return b
}

// typeDesc maps well-known partition type GUIDs to display names. The table
// is a plain lookup: unknown GUIDs render as their canonical string.
var typeDesc = map[string]string{
	// General
	"00000000-0000-0000-0000-000000000000": "Unused entry",
	"024dee41-33e7-11d3-9d69-0008c781f39f": "MBR Partition Scheme",
	"c12a7328-f81f-11d2-ba4b-00a0c93ec93b": "EFI System Partition",
	"21686148-6449-6e6f-744e-656564454649": "BIOS Boot Partition",
	"d3bfe2de-3daf-11df-ba40-e3a556d89593": "Intel Fast Flash (iFFS) partition",
	"f4019732-066e-4e12-8273-346c5641494f": "Sony Boot Partition",
	"bfbfafe7-a34f-448a-9a5b-6213eb736c22": "Lenovo Boot Partition",

	// Windows
	"ebd0a0a2-b9e5-4433-87c0-68b6b72699c7": "Windows: Basic Data Partition",
	"e3c9e316-0b5c-4db8-817d-f92df00215ae": "Windows: Microsoft Reserved Partition",
	"af9b60a0-1431-4f62-bc68-3311714a69ad": "Windows: Logical Disk Manager (LDM) Data Partition",
	"de94bba4-06d1-4d40-a16a-bfd50179d6ac": "Windows: Windows Recovery Environment",
	"37affc90-ef7d-4e96-91c3-2d7ae055b174": "Windows: IBM General Parallel File System (GPFS) Partition",
	"e75caf8f-f680-4cee-afa3-b001e56efc2d": "Windows: Storage Spaces Partition",
	"db97dba9-0840-4bae-97f0-ffb9a327c7e1": "Windows: Cluster Metadata Partition",

	// HP-UX
	"75894c1e-3aeb-11d3-b7c1-7b03a0000000": "HP-UX: Data Partition",
	"e2a1e728-32e3-11d6-a682-7b03a0000000": "HP-UX: Service Partition",

	// Linux
	"0fc63daf-8483-4772-8e79-3d69d8477de4": "Linux: Filesystem Data Partition",
	"a19d880f-05fc-4d3b-a006-743f0f84911e": "Linux: RAID Partition",
	"0657fd6d-a4ab-43c4-84e5-0933c84b4f4f": "Linux: Swap Partition",
	"e6d6d379-f507-44c2-a23c-238f2a3df928": "Linux: Logical Volume Manager (LVM) Partition",
	"8da63339-0007-60c0-c436-083ac8230908": "Linux: Reserved Partition",

	// FreeBSD
	"83bd6b9d-7f41-11dc-be0b-001560b84f0f": "FreeBSD: Boot Partition",
	"516e7cb4-6ecf-11d6-8ff8-00022d09712b": "FreeBSD: Data Partition",
	"516e7cb5-6ecf-11d6-8ff8-00022d09712b": "FreeBSD: Swap Partition",
	"516e7cb6-6ecf-11d6-8ff8-00022d09712b": "FreeBSD: Unix File System (UFS) Partition",
	"516e7cb8-6ecf-11d6-8ff8-00022d09712b": "FreeBSD: Vinum Volume Manager / RAID Partition",
	"516e7cba-6ecf-11d6-8ff8-00022d09712b": "FreeBSD: ZFS Partition",

	// NetBSD
	"49f48d32-b10e-11dc-b99b-0019d1879648": "NetBSD: Swap Partition",
	"49f48daa-b10e-11dc-b99b-0019d1879648": "NetBSD: RAID Partition",
	"49f48d5a-b10e-11dc-b99b-0019d1879648": "NetBSD: FFS Partition",
	"49f48d82-b10e-11dc-b99b-0019d1879648": "NetBSD: LFS Partition",
	"2db519c4-b10f-11dc-b99b-0019d1879648": "NetBSD: Concatenated Partition",
	"2db519ec-b10f-11dc-b99b-0019d1879648": "NetBSD: Encrypted Partition",

	// Android
	"2568845d-2332-4675-bc39-8fa5a4748d15": "Android: Bootloader",
	"114eaffe-1552-4022-b26e-9b053604cf84": "Android: Bootloader 2",
	"49a4d17f-93a3-45c1-a0de-f50b2ebe2599": "Android: Boot",
	"4177c722-9e92-4aab-8644-43502bfd5506": "Android: Recovery",
	"ef32a33b-a409-486c-9141-9ffb711f6266": "Android: Misc",
	"20ac26be-20b7-11e3-84c5-6cfdb94711e9": "Android: Metadata",
	"38f428e6-d326-425d-9140-6e0ea133647c": "Android: System",
	"a893ef21-e428-470a-9e55-0668fd91a2d9": "Android: Cache",
	"dc76dda9-5ac1-491c-af42-a82591580c0d": "Android: Data",
	"ebc597d0-2053-4b15-8b64-e0aac75f4db1": "Android: Persistent",
	"c5a0aeec-13ea-11e5-a1b1-001e67ca0c3c": "Android: Vendor",
	"bd59408b-4514-490d-bf12-9878d963f378": "Android: Config",
	"8f68cc74-c5e5-48da-be91-a0c8c15e9c80": "Android: Factory",
}

// TypeDescription returns the display name for a partition type GUID, or its
// canonical string form when the GUID is not in the table.
func TypeDescription(u uuid.UUID) string {
	if d, ok := typeDesc[strings.ToLower(u.String())]; ok {
		return d
	}
	return u.String()
}
