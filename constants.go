package vhd

import "github.com/ehrlich-b/go-vhd/internal/constants"

// Re-exported on-disk format constants and default runtime tuning knobs.
const (
	SectorSize             = constants.SectorSize
	FooterSize             = constants.FooterSize
	DynamicHeaderSize      = constants.DynamicHeaderSize
	DefaultBlockSectors    = constants.DefaultBlockSectors
	BATUnused              = constants.BATUnused
	DefaultBitmapCacheSize = constants.DefaultBitmapCacheSize
	DefaultRequestPoolSize = constants.DefaultRequestPoolSize
)
