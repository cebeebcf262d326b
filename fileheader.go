package ctos

import (
	"encoding/binary"

	"github.com/dsoprea/go-logging"
	"github.com/go-restruct/restruct"
)

// defaultEncoding is the byte order restruct uses to decode the extent
// arrays (and every other multi-byte field in this format).
var defaultEncoding = binary.LittleEndian

// fileHeaderSize is the on-disk width of one file header record.
const fileHeaderSize = 512

// maxExtents is the number of extent slots carried by a file header.
const maxExtents = 32

// FileHeaderFields is the field table for one file header, translated
// from original_source/ctosdisk.py's FILE_HEADER_FIELDS.
var FileHeaderFields = FieldTable{
	{0, 2, "Checksum"},
	{2, 2, "FileHeaderPageNumber"},
	{4, 51, "sbFileName"},
	{55, 13, "sbFileNamePassword"},
	{68, 13, "sbDirectoryName"},
	{81, 2, "FileHeaderNumber"},
	{83, 2, "ExtensionFileHeaderNumber"},
	{85, 1, "bHeaderSequenceNumber"},
	{86, 1, "bFileClass"},
	{87, 1, "bAccessProtection"},
	{88, 4, "lfaDirPage"},
	{92, 4, "CreationDate"},
	{96, 4, "ModificationDate"},
	{100, 4, "AccessDate"},
	{104, 4, "ExpirationDate"},
	{108, 1, "fNoSave"},
	{109, 1, "fNoDirPrint"},
	{110, 1, "fNoDelete"},
	{111, 4, "cbFile"},
	{115, 4, "defaultExpansion"},
	{119, 2, "iFreeRun"},
	{121, 128, "rgLfaExtents"},
	{249, 128, "rgcbExtents"},
	{377, 71, "Reserved"},
	{448, 64, "AppSpecific"},
}

func init() {
	if err := SanityCheckTable(FileHeaderFields); err != nil {
		panic(err)
	}
}

// Extent names one contiguous span of sectors holding part of a file:
// SectorAddr is a byte offset (a multiple of 512), Length is the byte
// count held in this extent.
type Extent struct {
	SectorAddr uint32
	Length     uint32
}

// FileHeader is a decoded primary (or shadow) file header.
type FileHeader struct {
	raw     Record
	Offset  int // image byte offset this header was decoded from
	FHO     uint16
	Name    string
	Extents []Extent
}

func (fh *FileHeader) Checksum() uint16      { return uint16(fh.raw.Uint("Checksum")) }
func (fh *FileHeader) FileHeaderNumber() uint16 {
	return uint16(fh.raw.Uint("FileHeaderNumber"))
}
func (fh *FileHeader) ExtensionFileHeaderNumber() uint16 {
	return uint16(fh.raw.Uint("ExtensionFileHeaderNumber"))
}
func (fh *FileHeader) CbFile() uint32 { return uint32(fh.raw.Uint("cbFile")) }
func (fh *FileHeader) IFreeRun() uint16 { return uint16(fh.raw.Uint("iFreeRun")) }

// IsDeleted reports whether the header's sbFileName length-prefix byte
// is 0, the on-disk deleted-file sentinel.
func (fh *FileHeader) IsDeleted() bool {
	return fh.raw.Bytes("sbFileName")[0] == 0
}

// Field exposes an arbitrary raw-decoded field, for dump/stat output.
func (fh *FileHeader) Field(name string) interface{} {
	return fh.raw[name]
}

// decodeExtents unpacks the two 128-byte raw extent arrays into a slice
// of live Extents: slots at or past iFreeRun, or whose SectorAddr is 0,
// are excluded (spec.md §3's iFreeRun/extent semantics).
func decodeExtents(raw Record) (extents []Extent, err error) {
	defer func() {
		if errRaw := recover(); errRaw != nil {
			err = log.Wrap(errRaw.(error))
		}
	}()

	var addrs [maxExtents]uint32
	var lens [maxExtents]uint32

	err = restruct.Unpack(raw.Bytes("rgLfaExtents"), defaultEncoding, &addrs)
	log.PanicIf(err)

	err = restruct.Unpack(raw.Bytes("rgcbExtents"), defaultEncoding, &lens)
	log.PanicIf(err)

	iFreeRun := int(raw.Uint("iFreeRun"))

	extents = make([]Extent, 0, maxExtents)
	for i := 0; i < maxExtents; i++ {
		if i >= iFreeRun || addrs[i] == 0 {
			continue
		}

		extents = append(extents, Extent{SectorAddr: addrs[i], Length: lens[i]})
	}

	return extents, nil
}

// encodeExtents rewrites the two 128-byte extent arrays from extents,
// zeroing unused slots, and sets iFreeRun to len(extents). Fails with
// ErrTooFragmented if extents carries more than maxExtents entries.
func encodeExtents(raw Record, extents []Extent) (err error) {
	defer func() {
		if errRaw := recover(); errRaw != nil {
			err = log.Wrap(errRaw.(error))
		}
	}()

	if len(extents) > maxExtents {
		return ErrTooFragmented
	}

	var addrs [maxExtents]uint32
	var lens [maxExtents]uint32

	for i, extent := range extents {
		addrs[i] = extent.SectorAddr
		lens[i] = extent.Length
	}

	addrBuf, err := restruct.Pack(defaultEncoding, &addrs)
	log.PanicIf(err)

	lenBuf, err := restruct.Pack(defaultEncoding, &lens)
	log.PanicIf(err)

	raw["rgLfaExtents"] = addrBuf
	raw["rgcbExtents"] = lenBuf
	raw["iFreeRun"] = uint64(len(extents))

	return nil
}

// ReadFileHeader decodes the file header at file-header-offset fho.
// It fails with HeaderOutOfRangeError if the header would fall outside
// the image.
func ReadFileHeader(image []byte, vhb *VolumeHomeBlock, fho uint16) (fh *FileHeader, err error) {
	defer func() {
		if errRaw := recover(); errRaw != nil {
			err = log.Wrap(errRaw.(error))
		}
	}()

	offset := int(vhb.LfaFileHeadersbase()) + int(fho)*fileHeaderSize
	if offset+fileHeaderSize > len(image) {
		return nil, &HeaderOutOfRangeError{FHO: fho}
	}

	raw, err := DecodeFields(image[offset:offset+fileHeaderSize], FileHeaderFields)
	log.PanicIf(err)

	name, err := DecodeLengthPrefixedName(raw.Bytes("sbFileName"))
	log.PanicIf(err)

	extents, err := decodeExtents(raw)
	log.PanicIf(err)

	return &FileHeader{raw: raw, Offset: offset, FHO: fho, Name: name, Extents: extents}, nil
}

// fileHeaderChecksum computes the check_checksum/update_checksum
// accumulator over a 512-byte encoded header: starting at the magic
// word, subtract each of the 256 little-endian 16-bit words.
func fileHeaderChecksum(buf []byte) (uint16, error) {
	if len(buf) < fileHeaderSize {
		return 0, ErrTruncatedInput
	}

	acc := uint32(vhbMagic)
	for i := 0; i < fileHeaderSize/2; i++ {
		word := uint32(buf[2*i]) | uint32(buf[2*i+1])<<8
		acc -= word
	}

	return uint16(acc & 0xffff), nil
}

// Encode serializes fh's current field values (including extents, via
// encodeExtents) into a fresh fileHeaderSize-byte buffer.
func (fh *FileHeader) Encode() ([]byte, error) {
	if err := encodeExtents(fh.raw, fh.Extents); err != nil {
		return nil, err
	}

	buf := make([]byte, fileHeaderSize)
	if err := EncodeFields(fh.raw, buf, FileHeaderFields, 0); err != nil {
		return nil, err
	}

	return buf, nil
}

// CheckChecksum reports whether fh's stored checksum is internally
// consistent: serialized, then subtracted word by word (256 16-bit
// words) from the magic word, the result must be zero.
func (fh *FileHeader) CheckChecksum() (ok bool, err error) {
	residual, err := fh.checksumResidual()
	if err != nil {
		return false, err
	}

	return residual == 0, nil
}

// checksumResidual returns the raw accumulator value CheckChecksum
// compares against zero: it is 0 exactly when the stored checksum is
// internally consistent, and otherwise the amount by which it is off,
// used to report an expected-vs-actual ChecksumMismatchError.
func (fh *FileHeader) checksumResidual() (uint16, error) {
	buf, err := fh.Encode()
	if err != nil {
		return 0, err
	}

	return fileHeaderChecksum(buf)
}

// UpdateChecksum recomputes fh's Checksum field so that CheckChecksum
// will subsequently report true. Direct translation of spec.md §4E's
// update_checksum: zero the checksum field, sum the 256 words, then
// set Checksum = (MagicWd - sum) mod 2^16.
func (fh *FileHeader) UpdateChecksum() error {
	fh.raw["Checksum"] = uint64(0)

	buf, err := fh.Encode()
	if err != nil {
		return err
	}

	sum := uint32(0)
	for i := 0; i < fileHeaderSize/2; i++ {
		sum += uint32(buf[2*i]) | uint32(buf[2*i+1])<<8
	}

	fh.raw["Checksum"] = uint64((uint32(vhbMagic) - sum) & 0xffff)

	return nil
}

// MarkDeleted sets the first byte of sbFileName to 0, preserving the
// rest of the record for forensic recovery, per spec.md §4E.
func (fh *FileHeader) MarkDeleted() {
	name := fh.raw.Bytes("sbFileName")
	name[0] = 0
	fh.raw["sbFileName"] = name
}

// shadowFHO returns the shadow (alternate) file-header offset for fho,
// or (0, false) if this volume has no alt-header region.
func shadowFHO(vhb *VolumeHomeBlock, fho uint16) (uint16, bool) {
	stride := vhb.AltFileHeaderPageOffset()
	if stride == 0 {
		return 0, false
	}

	return fho + stride, true
}

// WriteBack serializes fh at its offset in image. If the volume has an
// alt-header region and the shadow at fho+AltFileHeaderPageOffset has a
// matching FileHeaderNumber, the same field values are written there
// too, with the shadow's own independently-recomputed checksum
// (spec.md §4E/§3's shadow-header rules).
func WriteBack(image []byte, vhb *VolumeHomeBlock, fh *FileHeader) (err error) {
	defer func() {
		if errRaw := recover(); errRaw != nil {
			err = log.Wrap(errRaw.(error))
		}
	}()

	err = fh.UpdateChecksum()
	log.PanicIf(err)

	buf, err := fh.Encode()
	log.PanicIf(err)

	copy(image[fh.Offset:fh.Offset+fileHeaderSize], buf)

	shadowFho, hasShadow := shadowFHO(vhb, fh.FHO)
	if hasShadow == false {
		return nil
	}

	shadow, err := ReadFileHeader(image, vhb, shadowFho)
	if err != nil {
		// Shadow slot out of range: nothing to replicate to.
		return nil
	}

	if shadow.FileHeaderNumber() != fh.FileHeaderNumber() {
		// Shadow does not correspond to this header; leave it alone.
		return nil
	}

	for name, value := range fh.raw {
		// FileHeaderPageNumber identifies the header's own slot, which
		// legitimately differs between a primary and its shadow; every
		// other field is part of the replicated file state.
		if name == "FileHeaderPageNumber" {
			continue
		}

		shadow.raw[name] = value
	}
	shadow.Name = fh.Name
	shadow.Extents = fh.Extents

	err = shadow.UpdateChecksum()
	log.PanicIf(err)

	shadowBuf, err := shadow.Encode()
	log.PanicIf(err)

	copy(image[shadow.Offset:shadow.Offset+fileHeaderSize], shadowBuf)

	return nil
}
