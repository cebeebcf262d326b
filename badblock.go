package ctos

import (
	"github.com/dsoprea/go-logging"
	"github.com/go-restruct/restruct"
)

// badBlockTableSize is the on-disk width of the bad-block table: 128
// one-byte sector slots, 128 one-byte head slots, and 128 two-byte
// cylinder slots (spec.md §9's "no bad-block remapping" non-goal means
// this engine decodes the table for inspection only; it never acts on
// it).
const badBlockTableSize = 512

// maxBadBlockEntries is the number of parallel-array slots the table
// carries.
const maxBadBlockEntries = 128

// BadBlockFields is the field table for the bad-block table record,
// translated from original_source/ctosdisk.py's VHB_FIELDS region at
// LfaBadBlkbase (RgbBadSector/RgbBadHead/RgbBadCylinder).
var BadBlockFields = FieldTable{
	{0, 128, "RgbBadSector"},
	{128, 128, "RgbBadHead"},
	{256, 256, "RgbBadCylinder"},
}

func init() {
	if err := SanityCheckTable(BadBlockFields); err != nil {
		panic(err)
	}
}

// BadBlockEntry names one CHS address recorded in the bad-block table.
type BadBlockEntry struct {
	Sector   uint8
	Head     uint8
	Cylinder uint16
}

// BadBlockTable is the decoded bad-block table: every slot whose
// (sector, head, cylinder) triple is not all-zero. This engine never
// remaps or otherwise acts on these entries (spec.md §1 Non-goals); it
// only surfaces them for `dump`.
type BadBlockTable struct {
	Entries []BadBlockEntry
}

// ReadBadBlockTable decodes the bad-block table at vhb.LfaBadBlkbase. It
// returns an empty table (not an error) if CPagesBadBlk is 0, since a
// volume with no reserved bad-block region has nothing to decode.
func ReadBadBlockTable(image []byte, vhb *VolumeHomeBlock) (table *BadBlockTable, err error) {
	defer func() {
		if errRaw := recover(); errRaw != nil {
			err = log.Wrap(errRaw.(error))
		}
	}()

	cPagesBadBlk := vhb.raw.Uint("CPagesBadBlk")
	if cPagesBadBlk == 0 {
		return &BadBlockTable{}, nil
	}

	offset := int(vhb.raw.Uint("LfaBadBlkbase"))
	if offset+badBlockTableSize > len(image) {
		return nil, ErrTruncatedInput
	}

	raw, err := DecodeFields(image[offset:offset+badBlockTableSize], BadBlockFields)
	log.PanicIf(err)

	var cylinders [maxBadBlockEntries]uint16
	err = restruct.Unpack(raw.Bytes("RgbBadCylinder"), defaultEncoding, &cylinders)
	log.PanicIf(err)

	sectors := raw.Bytes("RgbBadSector")
	heads := raw.Bytes("RgbBadHead")

	table = &BadBlockTable{Entries: make([]BadBlockEntry, 0)}

	for i := 0; i < maxBadBlockEntries; i++ {
		if sectors[i] == 0 && heads[i] == 0 && cylinders[i] == 0 {
			continue
		}

		table.Entries = append(table.Entries, BadBlockEntry{
			Sector:   sectors[i],
			Head:     heads[i],
			Cylinder: cylinders[i],
		})
	}

	return table, nil
}
