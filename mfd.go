package ctos

import (
	"strings"

	"github.com/dsoprea/go-logging"
)

// mfdEntrySize is the on-disk width of one MFD entry.
const mfdEntrySize = 35

// mfdEntriesPerPage is the number of MFD entry slots packed into one
// sector-sized MFD page (one leading header byte, then 14*35=490 bytes,
// for 491 of the sector's BytesPerSector bytes used).
const mfdEntriesPerPage = 14

// MFDFields is the field table for one Master File Directory entry,
// translated from original_source/ctosdisk.py's MFD_FIELDS.
var MFDFields = FieldTable{
	{0, 13, "DirectoryName"},
	{13, 13, "DirPassword"},
	{26, 4, "LfaDirbase"},
	{30, 2, "CPages"},
	{32, 1, "DefaultAccessCode"},
	{33, 2, "LruCnt"},
}

func init() {
	if err := SanityCheckTable(MFDFields); err != nil {
		panic(err)
	}
}

// MFDEntry is one decoded, occupied slot of the Master File Directory.
type MFDEntry struct {
	raw  Record
	Name string
}

// LfaDirbase is the byte offset of the directory's first page.
func (e *MFDEntry) LfaDirbase() uint32 { return uint32(e.raw.Uint("LfaDirbase")) }

// CPages is the number of consecutive sectors the directory occupies.
func (e *MFDEntry) CPages() uint16 { return uint16(e.raw.Uint("CPages")) }

// DefaultAccessCode is read but never enforced (spec.md §1 non-goal:
// no access-control enforcement).
func (e *MFDEntry) DefaultAccessCode() uint8 { return uint8(e.raw.Uint("DefaultAccessCode")) }

// Password returns the directory's decoded password field. Never
// checked by this engine.
func (e *MFDEntry) Password() (string, error) {
	return DecodeLengthPrefixedName(e.raw.Bytes("DirPassword"))
}

// ReadMFD enumerates every occupied MFD entry in on-disk order, walking
// CPagedMFD pages of mfdEntriesPerPage entries each starting at
// LfaMFDbase. A slot whose DirectoryName length-prefix byte is 0 is a
// free slot and is omitted from the result.
func ReadMFD(image []byte, vhb *VolumeHomeBlock) (entries []*MFDEntry, err error) {
	defer func() {
		if errRaw := recover(); errRaw != nil {
			err = log.Wrap(errRaw.(error))
		}
	}()

	base := int(vhb.LfaMFDbase())
	sectorSize := int(vhb.BytesPerSector())

	entries = make([]*MFDEntry, 0)

	for page := 0; page < int(vhb.CPagedMFD()); page++ {
		offset := base + page*sectorSize + 1 // skip the one-byte page header

		for slot := 0; slot < mfdEntriesPerPage; slot++ {
			if offset+mfdEntrySize > len(image) {
				return nil, ErrTruncatedInput
			}

			raw, err := DecodeFields(image[offset:offset+mfdEntrySize], MFDFields)
			log.PanicIf(err)

			name, err := DecodeLengthPrefixedName(raw.Bytes("DirectoryName"))
			log.PanicIf(err)

			if len(name) > 0 {
				entries = append(entries, &MFDEntry{raw: raw, Name: name})
			}

			offset += mfdEntrySize
		}
	}

	return entries, nil
}

// FindMFD returns the entry whose DirectoryName matches name, case-
// insensitively.
func FindMFD(entries []*MFDEntry, name string) *MFDEntry {
	for _, entry := range entries {
		if strings.EqualFold(entry.Name, name) {
			return entry
		}
	}

	return nil
}
