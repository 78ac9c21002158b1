package volume

import (
	"encoding/binary"
	"fmt"
	"os"

	"github.com/ehrlich-b/go-vhd/internal/aio"
	"github.com/ehrlich-b/go-vhd/internal/backing"
	"github.com/ehrlich-b/go-vhd/internal/bat"
	"github.com/ehrlich-b/go-vhd/internal/bitmap"
	"github.com/ehrlich-b/go-vhd/internal/constants"
	"github.com/ehrlich-b/go-vhd/internal/reqpool"
	"github.com/ehrlich-b/go-vhd/internal/vhdformat"
)

// Open reads the footer (and, for dynamic/differencing images, the
// header and BAT) from path and builds a ready-to-use Volume. File open
// prefers O_DIRECT, falling back to cached I/O if the kernel or
// filesystem rejects it (spec §6 "File open flags").
func Open(path string, flags Flags, cfg Config) (*Volume, error) {
	osFlags := os.O_RDWR
	if flags&FlagRDOnly != 0 {
		osFlags = os.O_RDONLY
	}
	f, err := openDirectOrCached(path, osFlags)
	if err != nil {
		return nil, fmt.Errorf("volume: open %s: %w", path, err)
	}

	footerBuf := make([]byte, constants.FooterSize)
	stat, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	if _, err := f.ReadAt(footerBuf, stat.Size()-constants.FooterSize); err != nil {
		f.Close()
		return nil, fmt.Errorf("volume: read footer: %w", err)
	}
	footer, err := vhdformat.UnmarshalFooter(footerBuf)
	if err != nil {
		f.Close()
		return nil, err
	}

	v, err := newVolume(f, footer, cfg)
	if err != nil {
		f.Close()
		return nil, err
	}

	if footer.IsFixed() {
		return v, nil
	}

	headerBuf := make([]byte, constants.DynamicHeaderSize)
	if _, err := f.ReadAt(headerBuf, int64(footer.DataOffset)); err != nil {
		f.Close()
		return nil, fmt.Errorf("volume: read header: %w", err)
	}
	header, err := vhdformat.UnmarshalHeader(headerBuf)
	if err != nil {
		f.Close()
		return nil, err
	}
	v.Header = header
	v.isDynamic = true
	v.isDiff = footer.IsDifferencing()
	v.spb = header.SectorsPerBlock()
	v.bm = header.BitmapSectors()
	v.spp = uint32(os.Getpagesize()) / constants.SectorSize

	batBytes := make([]byte, header.BATSectors()*constants.SectorSize)
	if _, err := f.ReadAt(batBytes, int64(header.TableOffset)); err != nil {
		f.Close()
		return nil, fmt.Errorf("volume: read BAT: %w", err)
	}
	entries := make([]uint32, header.MaxTableEntries)
	for i := range entries {
		entries[i] = binary.BigEndian.Uint32(batBytes[i*4 : i*4+4])
	}

	batCfg := bat.Config{
		MaxEntries:       header.MaxTableEntries,
		SectorsPerBlock:  v.spb,
		BitmapSectors:    v.bm,
		SectorsPerPage:   v.spp,
		TableOffsetBytes: header.TableOffset,
		NextDB:           computeNextDB(header, v.spp),
	}
	v.BAT = bat.Load(batCfg, entries)
	v.Cache = bitmap.New(cfg.BitmapCacheSize, v.spb)
	wireEvictionObserver(v)

	return v, nil
}

// wireEvictionObserver hooks the bitmap cache's eviction callback to the
// volume's Observer, if one was configured.
func wireEvictionObserver(v *Volume) {
	if v.observer == nil {
		return
	}
	v.Cache.OnEvict = v.observer.ObserveBitmapEviction
}

// computeNextDB derives the initial next_db: the sector past the BAT
// region such that the first block's data region (next_db + BM) lands
// page-aligned, per spec §3 ("next_db... kept such that (next_db + BM)
// mod SPP == 0").
func computeNextDB(h *vhdformat.Header, spp uint32) uint32 {
	end := uint32(h.TableOffset/constants.SectorSize) + h.BATSectors()
	if spp == 0 {
		return end
	}
	bm := h.BitmapSectors()
	if rem := (end + bm) % spp; rem != 0 {
		end += spp - rem
	}
	return end
}

func newVolume(f *os.File, footer *vhdformat.Footer, cfg Config) (*Volume, error) {
	ring, err := aio.New(aio.Config{Entries: cfg.RingEntries})
	if err != nil {
		return nil, err
	}
	pool := reqpool.NewPool(cfg.DataRequestSlots + cfg.BitmapCacheSize + 2)
	fd := int(f.Fd())
	queue := reqpool.NewQueue(pool, ring, fd, cfg.Logger, cfg.Observer)

	return &Volume{
		file:     f,
		fd:       fd,
		Footer:   footer,
		Pool:     pool,
		Queue:    queue,
		ring:     ring,
		logger:   cfg.Logger,
		observer: cfg.Observer,
	}, nil
}

// OpenMem builds a Volume over an in-memory backing store instead of
// a real file descriptor, for the deterministic test harness (internal
// testing.go at the module root wires this up via aio.NewMemRing).
func OpenMem(footer *vhdformat.Footer, header *vhdformat.Header, mem *backing.Memory, cfg Config) (*Volume, error) {
	ring := aio.NewMemRing(mem)
	pool := reqpool.NewPool(cfg.DataRequestSlots + cfg.BitmapCacheSize + 2)
	queue := reqpool.NewQueue(pool, ring, -1, cfg.Logger, cfg.Observer)

	v := &Volume{
		Footer:   footer,
		Pool:     pool,
		Queue:    queue,
		ring:     ring,
		logger:   cfg.Logger,
		observer: cfg.Observer,
	}
	if header != nil {
		v.Header = header
		v.isDynamic = true
		v.isDiff = footer.IsDifferencing()
		v.spb = header.SectorsPerBlock()
		v.bm = header.BitmapSectors()
		v.spp = 8 // fixed small page size for deterministic tests

		entries := make([]uint32, header.MaxTableEntries)
		for i := range entries {
			entries[i] = constants.BATUnused
		}
		batCfg := bat.Config{
			MaxEntries:       header.MaxTableEntries,
			SectorsPerBlock:  v.spb,
			BitmapSectors:    v.bm,
			SectorsPerPage:   v.spp,
			TableOffsetBytes: header.TableOffset,
			NextDB:           computeNextDB(header, v.spp),
		}
		v.BAT = bat.Load(batCfg, entries)
		v.Cache = bitmap.New(cfg.BitmapCacheSize, v.spb)
		wireEvictionObserver(v)
	}
	return v, nil
}
