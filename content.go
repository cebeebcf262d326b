package ctos

import (
	"bytes"

	"github.com/dsoprea/go-logging"
)

// contentSectorSize is the fixed 512-byte sector size extent and
// content arithmetic is defined against (spec.md §4G/§9), independent
// of (though in practice equal to) the VHB's BytesPerSector geometry
// field.
const contentSectorSize = 512

// RetrieveContents returns a file's logical content: its extents'
// bytes concatenated in order, truncated to cbFile.
func RetrieveContents(image []byte, fh *FileHeader) ([]byte, error) {
	var buf bytes.Buffer

	for _, extent := range fh.Extents {
		start := int(extent.SectorAddr)
		end := start + int(extent.Length)

		if end > len(image) {
			return nil, ErrTruncatedInput
		}

		buf.Write(image[start:end])
	}

	content := buf.Bytes()
	cbFile := int(fh.CbFile())
	if cbFile > len(content) {
		cbFile = len(content)
	}

	return content[:cbFile], nil
}

// assertSectorAligned panics (wrapped via go-logging) if addr is not a
// multiple of contentSectorSize. The allocator is the only producer of
// extent sector addresses and always produces aligned ones; per
// spec.md §9 this is an assertion, not a recoverable error.
func assertSectorAligned(addr uint32) {
	if addr%contentSectorSize != 0 {
		log.Panicf("sector address %d is not a multiple of %d", addr, contentSectorSize)
	}
}

// TruncateContents frees every sector backing fh's current extents and
// clears its extent list. It does not rewrite the header; the caller
// writes it back (spec.md §4G).
func TruncateContents(fh *FileHeader, bitmap AllocationBitmap) {
	for _, extent := range fh.Extents {
		assertSectorAligned(extent.SectorAddr)

		startSector := extent.SectorAddr / contentSectorSize
		count := (extent.Length + contentSectorSize - 1) / contentSectorSize

		for s := uint32(0); s < count; s++ {
			bitmap.Free(startSector + s)
		}
	}

	fh.Extents = nil
}

// ReplaceContents truncates fh's current extents, writes src into
// newly-allocated sectors (merging contiguous allocations into a single
// extent, capped at 32 extents total), updates cbFile, and writes the
// header (and shadow) and bitmap back to image. It then re-reads the
// header and verifies that its checksum holds and that the content
// round-trips exactly; either failure is fatal (ErrVerificationFailed).
func ReplaceContents(image []byte, vhb *VolumeHomeBlock, fh *FileHeader, bitmap AllocationBitmap, src []byte) (err error) {
	defer func() {
		if errRaw := recover(); errRaw != nil {
			err = log.Wrap(errRaw.(error))
		}
	}()

	TruncateContents(fh, bitmap)

	extents := make([]Extent, 0, maxExtents)

	remaining := len(src)
	offset := 0

	for remaining > 0 {
		sector, err := bitmap.Allocate()
		if err != nil {
			return err
		}

		sectorAddr := sector * contentSectorSize

		n := remaining
		if n > contentSectorSize {
			n = contentSectorSize
		}

		if int(sectorAddr)+contentSectorSize > len(image) {
			return ErrTruncatedInput
		}

		chunk := image[sectorAddr : sectorAddr+contentSectorSize]
		copy(chunk, src[offset:offset+n])
		for i := n; i < contentSectorSize; i++ {
			chunk[i] = 0
		}

		if len(extents) > 0 {
			last := &extents[len(extents)-1]
			if last.SectorAddr+last.Length == sectorAddr {
				last.Length += contentSectorSize
				offset += n
				remaining -= n
				continue
			}
		}

		if len(extents) >= maxExtents {
			return ErrTooFragmented
		}

		extents = append(extents, Extent{SectorAddr: sectorAddr, Length: contentSectorSize})

		offset += n
		remaining -= n
	}

	fh.Extents = extents
	fh.raw["cbFile"] = uint64(len(src))

	err = WriteBack(image, vhb, fh)
	log.PanicIf(err)

	err = WriteAllocationBitmap(image, vhb, bitmap)
	log.PanicIf(err)

	reread, err := ReadFileHeader(image, vhb, fh.FHO)
	log.PanicIf(err)

	checksumOK, err := reread.CheckChecksum()
	log.PanicIf(err)

	if checksumOK == false {
		return ErrVerificationFailed
	}

	readBack, err := RetrieveContents(image, reread)
	log.PanicIf(err)

	if bytes.Equal(readBack, src) == false {
		return ErrVerificationFailed
	}

	return nil
}

// DeleteFile frees fh's sectors, removes its directory entry, and marks
// the primary (and shadow, if present) header deleted, then runs
// CheckDisk and treats any finding as fatal (spec.md §4G step 5 /
// §7: "Any failure discovered by CheckDisk after a mutation is fatal").
func DeleteFile(image []byte, vhb *VolumeHomeBlock, mfdEntry *MFDEntry, directoryName string, fh *FileHeader, bitmap AllocationBitmap, diag Diagnostics) (err error) {
	defer func() {
		if errRaw := recover(); errRaw != nil {
			err = log.Wrap(errRaw.(error))
		}
	}()

	TruncateContents(fh, bitmap)

	err = WriteAllocationBitmap(image, vhb, bitmap)
	log.PanicIf(err)

	err = RemoveDirectoryEntry(image, vhb, mfdEntry, directoryName, fh.Name, diag)
	log.PanicIf(err)

	fh.MarkDeleted()

	err = WriteBack(image, vhb, fh)
	log.PanicIf(err)

	errorCount, err := CheckDisk(image, diag)
	log.PanicIf(err)

	if errorCount != 0 {
		return log.Errorf("ctos: CheckDisk reported %d error(s) after delete; image left unsaved", errorCount)
	}

	return nil
}
