package ctos

import (
	"encoding/binary"
	"strings"

	"github.com/dsoprea/go-logging"
)

// directoryEntryPageTerminator is the byte value that ends parsing of
// the current directory page. 0x00 is the documented terminator; 0xFF
// is a deprecated filler quirk (spec.md §4D's Open Question) that this
// engine tolerates the same way, per spec.md's guidance that the
// per-page model supersedes the older skip-one-byte handling.
const directoryEntryPageTerminator = 0x00
const directoryEntryPageFillerQuirk = 0xff

// DirectoryEntry is one parsed (name, file-header-offset) pair from a
// directory page, together with the file header it points at.
type DirectoryEntry struct {
	Name   string
	FHO    uint16
	Header *FileHeader // nil if the header offset was out of range

	page       int // 0-based page index within the directory
	entryStart int // byte offset of this entry's length-prefix byte
	entryEnd   int // byte offset just past this entry's fho field
}

// ReadDirectory enumerates the occupied entries of the directory
// described by mfdEntry, reading its CPages consecutive sectors
// starting at LfaDirbase. Parsing restarts at the top of each page; a
// page is terminated by a 0x00 (or, tolerated, 0xFF) byte, never by a
// byte from a later page.
func ReadDirectory(image []byte, vhb *VolumeHomeBlock, mfdEntry *MFDEntry, diag Diagnostics) (entries []*DirectoryEntry, err error) {
	defer func() {
		if errRaw := recover(); errRaw != nil {
			err = log.Wrap(errRaw.(error))
		}
	}()

	sectorSize := int(vhb.BytesPerSector())
	base := int(mfdEntry.LfaDirbase())
	pages := int(mfdEntry.CPages())

	entries = make([]*DirectoryEntry, 0)

	for page := 0; page < pages; page++ {
		pageStart := base + page*sectorSize
		pageEnd := pageStart + sectorSize

		if pageEnd > len(image) {
			return nil, ErrTruncatedInput
		}

		cursor := pageStart + 1 // skip the one-byte page header

		for cursor < pageEnd {
			marker := image[cursor]
			if marker == directoryEntryPageTerminator || marker == directoryEntryPageFillerQuirk {
				break
			}

			entryStart := cursor

			nameLen := int(marker)
			cursor++

			if cursor+nameLen+2 > pageEnd {
				diag.Warnf("directory entry at offset %d overruns its page; stopping page early", entryStart)
				break
			}

			name := string(image[cursor : cursor+nameLen])
			cursor += nameLen

			fho := binary.LittleEndian.Uint16(image[cursor : cursor+2])
			cursor += 2

			entry := &DirectoryEntry{
				Name: name, FHO: fho,
				page: page, entryStart: entryStart, entryEnd: cursor,
			}

			fh, err := ReadFileHeader(image, vhb, fho)
			if err != nil {
				diag.Warnf("directory entry %q: %s", name, err)
			} else {
				if fh.Name != name {
					diag.Warnf("directory entry %q does not match file header name %q (fho=%d)", name, fh.Name, fho)
				}

				entry.Header = fh
			}

			entries = append(entries, entry)
		}
	}

	return entries, nil
}

// FindDirectoryEntry returns the entry named name, case-insensitively,
// mirroring ctosdisk.py's FindFile (which lower()s both sides before
// comparing) and matching FindMFD's case-insensitive directory lookup.
func FindDirectoryEntry(entries []*DirectoryEntry, name string) *DirectoryEntry {
	for _, entry := range entries {
		if strings.EqualFold(entry.Name, name) {
			return entry
		}
	}

	return nil
}

// RemoveDirectoryEntry deletes the named entry from the directory,
// compacting the remainder of its page leftward and zero-filling the
// freed tail. Only the page containing the entry is rewritten; no
// cross-page compaction takes place. It fails with FileNotFoundError if
// name is not present.
func RemoveDirectoryEntry(image []byte, vhb *VolumeHomeBlock, mfdEntry *MFDEntry, directoryName, name string, diag Diagnostics) error {
	entries, err := ReadDirectory(image, vhb, mfdEntry, diag)
	if err != nil {
		return err
	}

	target := FindDirectoryEntry(entries, name)
	if target == nil {
		return &FileNotFoundError{Directory: directoryName, Name: name}
	}

	sectorSize := int(vhb.BytesPerSector())
	pageStart := int(mfdEntry.LfaDirbase()) + target.page*sectorSize
	pageEnd := pageStart + sectorSize

	entrySize := target.entryEnd - target.entryStart
	tail := image[target.entryEnd:pageEnd]

	copy(image[target.entryStart:pageEnd-entrySize], tail)

	for i := pageEnd - entrySize; i < pageEnd; i++ {
		image[i] = 0
	}

	return nil
}
