// Package constants holds the numeric constants of the VHD 1.0 on-disk
// format and the driver's default runtime tuning knobs.
package constants

const (
	// SectorSize is the logical sector size; VHD defines no other.
	SectorSize = 512

	// FooterSize is the size of the footer struct on disk.
	FooterSize = 512

	// DynamicHeaderSize is the size of the dynamic disk header on disk.
	DynamicHeaderSize = 1024

	// DefaultBlockSectors is the default sectors-per-block (SPB) for newly
	// created dynamic/differencing disks: 2MiB blocks.
	DefaultBlockSectors = 4096

	// BATUnused is the BAT sentinel marking a block as not yet allocated.
	BATUnused = 0xFFFFFFFF

	// BATEntrySize is the on-disk size of one BAT entry.
	BATEntrySize = 4

	// BATEntriesPerSector is how many 4-byte BAT entries fit in one sector,
	// and therefore the alignment window used by bat.Table.BuildWriteSector.
	BATEntriesPerSector = SectorSize / BATEntrySize

	// FooterCookie is the magic string at the start of a VHD footer.
	FooterCookie = "conectix"

	// DynamicHeaderCookie is the magic string at the start of a dynamic
	// disk header.
	DynamicHeaderCookie = "cxsparse"

	// DiskTypeFixed, DiskTypeDynamic, DiskTypeDifferencing are the disk
	// geometry types carried in the footer.
	DiskTypeFixed        = 2
	DiskTypeDynamic      = 3
	DiskTypeDifferencing = 4

	// DefaultBitmapCacheSize is the default bitmap-cache capacity (C in
	// spec terms).
	DefaultBitmapCacheSize = 32

	// DefaultRequestPoolSize is the default VHD_REQS_DATA slot count.
	DefaultRequestPoolSize = 64

	// ParentLocatorCount is the fixed number of parent locator slots in a
	// dynamic disk header.
	ParentLocatorCount = 8

	// ParentLocatorMACX and ParentLocatorW2KU are the two locator codes
	// this driver decodes (read-only, per spec).
	ParentLocatorMACX = 0x4D616358
	ParentLocatorW2KU = 0x57326B75
)
