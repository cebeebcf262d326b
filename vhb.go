package ctos

import (
	"github.com/dsoprea/go-logging"
)

// vhbMagic is the arithmetic seed for the VHB and file-header checksums,
// and the expected value of the VHB's MagicWd field.
const vhbMagic = 0x7c39

// vhbRecordSize is the on-disk size of one Volume Home Block copy.
const vhbRecordSize = 256

// VHBFields is the field table for one Volume Home Block record,
// translated field-for-field from original_source/ctosdisk.py's
// VHB_FIELDS.
var VHBFields = FieldTable{
	{0, 2, "Checksum"},
	{2, 4, "LfaSysImagebase"},
	{6, 2, "CPagesSysImage"},
	{8, 4, "LfaBadBlkbase"},
	{12, 2, "CPagesBadBlk"},
	{14, 4, "LfaCrashDumpbase"},
	{18, 2, "CPagesCrashDump"},
	{20, 13, "VolName"},
	{33, 13, "VolPassword"},
	{46, 4, "LfaVHB"},
	{50, 4, "LfaInitialVHB"},
	{54, 4, "CreationDT"},
	{58, 4, "ModificationDT"},
	{62, 4, "LfaMFDbase"},
	{66, 2, "CPagedMFD"},
	{68, 4, "LfaLogbase"},
	{72, 2, "CPagesLog"},
	{74, 2, "CurrentLogPage"},
	{76, 2, "CurrentLogBytes"},
	{78, 4, "LfaFileHeadersbase"},
	{82, 2, "CPagesFilesHeaders"},
	{84, 2, "AltFileHeaderPageOffset"},
	{86, 2, "IFreeFileHeader"},
	{88, 2, "CFreeFileHeaders"},
	{90, 2, "ClusterFactor"},
	{92, 2, "DefaultExtend"},
	{94, 2, "AllocSkipCnt"},
	{96, 4, "LfaAllocBitMapbase"},
	{100, 2, "CPagesAllocBitMap"},
	{102, 2, "LastAllocBitMapPage"},
	{104, 2, "LastAllocWord"},
	{106, 2, "LastAllocBit"},
	{108, 4, "CFreePages"},
	{112, 2, "IDev"},
	{114, 105, "RgLruDirEntries"},
	{219, 2, "MagicWd"},
	{221, 1, "SysImageBaseSector"},
	{222, 1, "SysImageBaseHead"},
	{223, 2, "SysImageBaseCylinder"},
	{225, 2, "SysImageMaxPageCount"},
	{227, 1, "BadBlkBaseSector"},
	{228, 1, "BadBlkBaseHead"},
	{229, 2, "BadBlkBaseCylinder"},
	{231, 2, "BadBlkBaseMaxPageCount"},
	{233, 1, "DumpBaseSector"},
	{234, 1, "DumpBaseHead"},
	{235, 2, "DumpBaseCylinder"},
	{237, 2, "DumpBaseMaxPageCount"},
	{239, 2, "BytesPerSector"},
	{241, 2, "SectorsPerTrack"},
	{243, 2, "TracksPerCylinder"},
	{245, 2, "CylindersPerDisk"},
	{247, 1, "InterleaveFactor"},
	{248, 2, "SectorSize"},
	{250, 1, "SpiralFactor"},
	{251, 1, "StartingSector"},
	{252, 4, "Reserved"},
}

func init() {
	if err := SanityCheckTable(VHBFields); err != nil {
		panic(err)
	}
}

// VolumeHomeBlock is the decoded Volume Home Block (superblock). It
// carries the full field-table decode (raw) so every field not given a
// typed accessor below is still preserved verbatim across re-encodes,
// per spec.md §9's guidance that most VHB fields are read/written
// verbatim with unexercised semantics.
type VolumeHomeBlock struct {
	raw    Record
	Offset int
}

func newVolumeHomeBlock(raw Record, offset int) *VolumeHomeBlock {
	return &VolumeHomeBlock{raw: raw, Offset: offset}
}

func (v *VolumeHomeBlock) Checksum() uint16                { return uint16(v.raw.Uint("Checksum")) }
func (v *VolumeHomeBlock) LfaVHB() uint32                   { return uint32(v.raw.Uint("LfaVHB")) }
func (v *VolumeHomeBlock) LfaInitialVHB() uint32            { return uint32(v.raw.Uint("LfaInitialVHB")) }
func (v *VolumeHomeBlock) LfaMFDbase() uint32               { return uint32(v.raw.Uint("LfaMFDbase")) }
func (v *VolumeHomeBlock) CPagedMFD() uint16                { return uint16(v.raw.Uint("CPagedMFD")) }
func (v *VolumeHomeBlock) LfaFileHeadersbase() uint32       { return uint32(v.raw.Uint("LfaFileHeadersbase")) }
func (v *VolumeHomeBlock) CPagesFilesHeaders() uint16       { return uint16(v.raw.Uint("CPagesFilesHeaders")) }
func (v *VolumeHomeBlock) AltFileHeaderPageOffset() uint16  { return uint16(v.raw.Uint("AltFileHeaderPageOffset")) }
func (v *VolumeHomeBlock) LfaAllocBitMapbase() uint32       { return uint32(v.raw.Uint("LfaAllocBitMapbase")) }
func (v *VolumeHomeBlock) CPagesAllocBitMap() uint16        { return uint16(v.raw.Uint("CPagesAllocBitMap")) }
func (v *VolumeHomeBlock) BytesPerSector() uint16           { return uint16(v.raw.Uint("BytesPerSector")) }
func (v *VolumeHomeBlock) SectorsPerTrack() uint16          { return uint16(v.raw.Uint("SectorsPerTrack")) }
func (v *VolumeHomeBlock) TracksPerCylinder() uint16        { return uint16(v.raw.Uint("TracksPerCylinder")) }
func (v *VolumeHomeBlock) CylindersPerDisk() uint16         { return uint16(v.raw.Uint("CylindersPerDisk")) }
func (v *VolumeHomeBlock) MagicWd() uint16                  { return uint16(v.raw.Uint("MagicWd")) }

// VolName returns the decoded volume name (length-prefixed within its
// 13-byte field).
func (v *VolumeHomeBlock) VolName() (string, error) {
	return DecodeLengthPrefixedName(v.raw.Bytes("VolName"))
}

// VolPassword returns the decoded volume password. Per spec.md §1 this
// engine never checks it; it is surfaced only for dump/inspection.
func (v *VolumeHomeBlock) VolPassword() (string, error) {
	return DecodeLengthPrefixedName(v.raw.Bytes("VolPassword"))
}

// NSectors returns the total sector count implied by the VHB's geometry.
func (v *VolumeHomeBlock) NSectors() uint32 {
	return uint32(v.SectorsPerTrack()) * uint32(v.TracksPerCylinder()) * uint32(v.CylindersPerDisk())
}

// Field exposes an arbitrary raw-decoded field by name, for callers
// (dump) that want to walk every field generically rather
// than through a typed accessor.
func (v *VolumeHomeBlock) Field(name string) interface{} {
	return v.raw[name]
}

// setField mutates a field in place. Used by SetGeometry and by
// LoadActiveVHB's in-memory CylindersPerDisk fixup.
func (v *VolumeHomeBlock) setField(name string, value uint64) {
	v.raw[name] = value
}

// Encode serializes the VHB's current field values into a fresh
// vhbRecordSize-byte buffer.
func (v *VolumeHomeBlock) Encode() ([]byte, error) {
	buf := make([]byte, vhbRecordSize)
	if err := EncodeFields(v.raw, buf, VHBFields, 0); err != nil {
		return nil, err
	}

	return buf, nil
}

// loadVHBAt decodes a VolumeHomeBlock at the given byte offset in image.
func loadVHBAt(image []byte, offset int) (*VolumeHomeBlock, error) {
	if offset < 0 || offset+vhbRecordSize > len(image) {
		return nil, ErrTruncatedInput
	}

	raw, err := DecodeFields(image[offset:offset+vhbRecordSize], VHBFields)
	if err != nil {
		return nil, err
	}

	return newVolumeHomeBlock(raw, offset), nil
}

// LoadBackupVHB decodes the backup Volume Home Block, which always sits
// at image offset 0.
func LoadBackupVHB(image []byte) (*VolumeHomeBlock, error) {
	return loadVHBAt(image, 0)
}

// LoadActiveVHB decodes the backup VHB to find LfaVHB, then decodes the
// active VHB at that offset. If CylindersPerDisk reads as 2 — a known
// malformed-image quirk — it is replaced with 77 in memory only; diag
// receives a note on every call that applies the fixup (there is no
// once-per-volume suppression) and the on-disk bytes are left untouched
// (only SetGeometry writes geometry to disk).
func LoadActiveVHB(image []byte, diag Diagnostics) (active, backup *VolumeHomeBlock, err error) {
	backup, err = LoadBackupVHB(image)
	if err != nil {
		return nil, nil, err
	}

	active, err = loadVHBAt(image, int(backup.LfaVHB()))
	if err != nil {
		return nil, nil, err
	}

	if active.CylindersPerDisk() == 2 {
		diag.Notef("active VHB reports CylindersPerDisk=2; applying compatibility fixup to 77 (in-memory only)")
		active.setField("CylindersPerDisk", 77)
	}

	return active, backup, nil
}

// ComputeVHBChecksum computes the VHB checksum: starting at the magic
// word, subtract each of the 127 little-endian 16-bit words that follow
// the checksum word (offsets 2..254), masked to 16 bits. Direct
// translation of ctosdisk.py's ComputeVHBChecksum.
func ComputeVHBChecksum(record []byte) (uint16, error) {
	if len(record) < vhbRecordSize {
		return 0, ErrTruncatedInput
	}

	w := uint32(vhbMagic)
	for i := 0; i < 127; i++ {
		word := uint32(record[2*i+2]) | uint32(record[2*i+3])<<8
		w -= word
	}

	return uint16(w & 0xffff), nil
}

// VerifyChecksum compares v's stored Checksum against the computed
// value over its re-encoded bytes.
func (v *VolumeHomeBlock) VerifyChecksum() (ok bool, expected, actual uint16, err error) {
	buf, err := v.Encode()
	if err != nil {
		return false, 0, 0, err
	}

	actual, err = ComputeVHBChecksum(buf)
	if err != nil {
		return false, 0, 0, err
	}

	expected = v.Checksum()
	return expected == actual, expected, actual, nil
}

// vhbFieldNames lists every VHBFields field name, used by
// VerifyActiveMatchesBackup to compare field-by-field.
var vhbFieldNames = func() []string {
	names := make([]string, 0, len(VHBFields))
	for _, f := range VHBFields {
		names = append(names, f.Name)
	}
	return names
}()

// VerifyActiveMatchesBackup reports every field where active disagrees
// with backup. All findings are non-fatal; they are both returned and,
// if diag is non-nil, reported through it.
func VerifyActiveMatchesBackup(active, backup *VolumeHomeBlock, diag Diagnostics) (mismatches []string) {
	for _, name := range vhbFieldNames {
		av, bv := active.raw[name], backup.raw[name]

		equal := false
		switch a := av.(type) {
		case uint64:
			b, ok := bv.(uint64)
			equal = ok && a == b
		case []byte:
			b, ok := bv.([]byte)
			equal = ok && string(a) == string(b)
		}

		if equal == false {
			mismatches = append(mismatches, name)
			if diag != nil {
				diag.Warnf("active/backup VHB mismatch on field %q (backup=%v, active=%v)", name, bv, av)
			}
		}
	}

	return mismatches
}

// SetGeometry rewrites the geometry fields of both the active and
// backup VHBs in image and recomputes each checksum. This is the only
// disk-mutating VHB operation (spec.md §3's VHB lifecycle note), grounded
// in ctosdisk.py's setgeometry: encode once with a zeroed checksum field,
// compute the checksum over the encoded bytes, then re-encode with the
// final checksum.
func SetGeometry(image []byte, cylinders, heads, sectorsPerTrack, bytesPerSector uint16) (err error) {
	defer func() {
		if errRaw := recover(); errRaw != nil {
			err = log.Wrap(errRaw.(error))
		}
	}()

	backup, err := LoadBackupVHB(image)
	log.PanicIf(err)

	// Mirrors ctostool.py's setgeometry: the active copy is rewritten at
	// the backup's LfaVHB offset, the backup copy at its own
	// LfaInitialVHB offset (which the format invariant pins to 0, but we
	// read it rather than assume it to stay faithful to the original).
	offsets := []int{int(backup.LfaVHB()), int(backup.LfaInitialVHB())}

	for _, offset := range offsets {
		vhb, err := loadVHBAt(image, offset)
		log.PanicIf(err)

		vhb.setField("BytesPerSector", uint64(bytesPerSector))
		vhb.setField("SectorsPerTrack", uint64(sectorsPerTrack))
		vhb.setField("TracksPerCylinder", uint64(heads))
		vhb.setField("CylindersPerDisk", uint64(cylinders))
		vhb.setField("Checksum", 0)

		buf, err := vhb.Encode()
		log.PanicIf(err)

		checksum, err := ComputeVHBChecksum(buf)
		log.PanicIf(err)

		vhb.setField("Checksum", uint64(checksum))

		buf, err = vhb.Encode()
		log.PanicIf(err)

		copy(image[offset:offset+vhbRecordSize], buf)
	}

	return nil
}
