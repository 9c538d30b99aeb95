package mbr

import "fmt"

// PartitionType is the one-byte MBR partition type code. The enumeration is
// open: codes without a constant still parse and export unchanged, they just
// render as "Unknown (0xXX)".
type PartitionType byte

// Well-known partition type codes.
const (
	TypeEmpty             PartitionType = 0x00
	TypeFAT12             PartitionType = 0x01
	TypeFAT16_32M         PartitionType = 0x04
	TypeExtendedCHS       PartitionType = 0x05
	TypeFAT16_2G          PartitionType = 0x06
	TypeNTFS              PartitionType = 0x07
	TypeFAT32             PartitionType = 0x0B
	TypeFAT32X            PartitionType = 0x0C
	TypeFAT16X            PartitionType = 0x0E
	TypeExtendedLBA       PartitionType = 0x0F
	TypeHiddenFAT12       PartitionType = 0x11
	TypeHiddenFAT16_32M   PartitionType = 0x14
	TypeHiddenExtendedCHS PartitionType = 0x15
	TypeHiddenFAT16_2G    PartitionType = 0x16
	TypeHiddenNTFS        PartitionType = 0x17
	TypeHiddenFAT32       PartitionType = 0x1B
	TypeHiddenFAT32X      PartitionType = 0x1C
	TypeHiddenFAT16X      PartitionType = 0x1E
	TypeHiddenExtendedLBA PartitionType = 0x1F
	TypeWindowsRecovery   PartitionType = 0x27
	TypePlan9             PartitionType = 0x39
	TypeMagicRecovery     PartitionType = 0x3C
	TypeWindowsDynamic    PartitionType = 0x42
	TypeGoBack            PartitionType = 0x44
	TypeUnixSystemV       PartitionType = 0x63
	TypePCArmour          PartitionType = 0x64
	TypeMinix             PartitionType = 0x81
	TypeLinuxSwap         PartitionType = 0x82
	TypeLinux             PartitionType = 0x83
	TypeHibernation       PartitionType = 0x84
	TypeLinuxExtended     PartitionType = 0x85
	TypeFTFAT16B          PartitionType = 0x86
	TypeFTNTFS            PartitionType = 0x87
	TypeLinuxPlaintext    PartitionType = 0x88
	TypeLinuxLVM          PartitionType = 0x8E
	TypeHiddenLinux       PartitionType = 0x93
	TypeBSDOS             PartitionType = 0x9F
	TypeHibernation1      PartitionType = 0xA0
	TypeHibernation2      PartitionType = 0xA1
	TypeFreeBSD           PartitionType = 0xA5
	TypeOpenBSD           PartitionType = 0xA6
	TypeMacOSX            PartitionType = 0xA8
	TypeNetBSD            PartitionType = 0xA9
	TypeMacOSXBoot        PartitionType = 0xAB
	TypeMacOSXHFS         PartitionType = 0xAF
	TypeSolarisBoot       PartitionType = 0xBE
	TypeSolarisX86        PartitionType = 0xBF
	TypeLinuxLUKS         PartitionType = 0xE8
	TypeBFS               PartitionType = 0xEB
	TypeProtectiveGPT     PartitionType = 0xEE
	TypeEFISystem         PartitionType = 0xEF
	TypeBochsX86          PartitionType = 0xFA
	TypeVMwareFS          PartitionType = 0xFB
	TypeVMwareSwap        PartitionType = 0xFC
	TypeLinuxRAID         PartitionType = 0xFD
)

// typeDesc maps type codes to human-readable names. Kept separate from the
// constants so new codes never require parser changes.
var typeDesc = map[PartitionType]string{
	TypeEmpty:             "Empty",
	TypeFAT12:             "FAT12",
	TypeFAT16_32M:         "FAT16 16-32MB",
	TypeExtendedCHS:       "Extended, CHS",
	TypeFAT16_2G:          "FAT16 32MB-2GB",
	TypeNTFS:              "NTFS",
	TypeFAT32:             "FAT32",
	TypeFAT32X:            "FAT32X",
	TypeFAT16X:            "FAT16X",
	TypeExtendedLBA:       "Extended, LBA",
	TypeHiddenFAT12:       "Hidden FAT12",
	TypeHiddenFAT16_32M:   "Hidden FAT16,16-32MB",
	TypeHiddenExtendedCHS: "Hidden Extended, CHS",
	TypeHiddenFAT16_2G:    "Hidden FAT16,32MB-2GB",
	TypeHiddenNTFS:        "Hidden NTFS",
	TypeHiddenFAT32:       "Hidden FAT32",
	TypeHiddenFAT32X:      "Hidden FAT32X",
	TypeHiddenFAT16X:      "Hidden FAT16X",
	TypeHiddenExtendedLBA: "Hidden Extended, LBA",
	TypeWindowsRecovery:   "Windows recovery environment",
	TypePlan9:             "Plan 9",
	TypeMagicRecovery:     "PartitionMagic recovery partition",
	TypeWindowsDynamic:    "Windows dynamic extended partition marker",
	TypeGoBack:            "GoBack partition",
	TypeUnixSystemV:       "Unix System V",
	TypePCArmour:          "PC-ARMOUR protected partition",
	TypeMinix:             "Minix",
	TypeLinuxSwap:         "Linux Swap",
	TypeLinux:             "Linux",
	TypeHibernation:       "Hibernation",
	TypeLinuxExtended:     "Linux Extended",
	TypeFTFAT16B:          "Fault-tolerant FAT16B volume set",
	TypeFTNTFS:            "Fault-tolerant NTFS volume set",
	TypeLinuxPlaintext:    "Linux plaintext",
	TypeLinuxLVM:          "Linux LVM",
	TypeHiddenLinux:       "Hidden Linux",
	TypeBSDOS:             "BSD/OS",
	TypeHibernation1:      "Hibernation",
	TypeHibernation2:      "Hibernation",
	TypeFreeBSD:           "FreeBSD",
	TypeOpenBSD:           "OpenBSD",
	TypeMacOSX:            "Mac OS X",
	TypeNetBSD:            "NetBSD",
	TypeMacOSXBoot:        "Mac OS X Boot",
	TypeMacOSXHFS:         "Mac OS X HFS",
	TypeSolarisBoot:       "Solaris 8 boot partition",
	TypeSolarisX86:        "Solaris x86",
	TypeLinuxLUKS:         "Linux Unified Key Setup",
	TypeBFS:               "BFS",
	TypeProtectiveGPT:     "EFI GPT protective MBR",
	TypeEFISystem:         "EFI system partition",
	TypeBochsX86:          "Bochs x86 emulator",
	TypeVMwareFS:          "VMware File System",
	TypeVMwareSwap:        "VMware Swap",
	TypeLinuxRAID:         "Linux RAID",
}

// Description returns the human-readable name of the type code.
func (t PartitionType) Description() string {
	if d, ok := typeDesc[t]; ok {
		return d
	}
	return fmt.Sprintf("Unknown (0x%02X)", byte(t))
}
