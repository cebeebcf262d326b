package ctos

import "testing"

// This file builds small, fully self-consistent synthetic disk images for
// the package's tests. No real CTOS disk image ships with this repository,
// so every test that needs on-disk bytes starts from one of these builders
// rather than a fixture file.

const (
	testSectorSize          = 512
	testSectorsPerTrack     = 10
	testTracksPerCylinder   = 2
	testCylindersPerDisk    = 5
	testNSectors            = testSectorsPerTrack * testTracksPerCylinder * testCylindersPerDisk
	testBackupVHBOffset     = 0
	testActiveVHBOffset     = 1 * testSectorSize
	testMFDOffset           = 2 * testSectorSize
	testDirOffset           = 3 * testSectorSize
	testFileHeadersOffset   = 4 * testSectorSize
	testCPagesFilesHeaders  = 8
	testAltFileHeaderOffset = 4
	testBitmapOffset        = 12 * testSectorSize
	testHelloSector         = 13
	testByeSector           = 14

	testDirName   = "DIR1"
	testHelloName = "HELLO.TXT"
	testHelloFHO  = uint16(0)
	testHelloBody = "hello world!"
	testByeName   = "BYE.TXT"
	testByeFHO    = uint16(1)
	testByeBody   = "bye"
)

// buildZeroRecord builds a Record with every field of table present and
// zeroed: integer fields as uint64(0), raw fields as a zero-filled slice of
// the field's declared width. Individual fields are then overridden by
// callers.
func buildZeroRecord(table FieldTable) Record {
	record := make(Record, len(table))

	for _, field := range table {
		if field.Size == 1 || field.Size == 2 || field.Size == 4 {
			record[field.Name] = uint64(0)
		} else {
			record[field.Name] = make([]byte, field.Size)
		}
	}

	return record
}

// buildTestVHBRecord returns a fully-populated VHB Record (checksum not yet
// computed) describing the geometry and region layout the rest of this
// file's builders assume.
func buildTestVHBRecord() Record {
	record := buildZeroRecord(VHBFields)

	volName, _ := EncodeLengthPrefixedName("TESTVOL", 13)
	volPassword, _ := EncodeLengthPrefixedName("", 13)

	record["VolName"] = volName
	record["VolPassword"] = volPassword
	record["LfaVHB"] = uint64(testActiveVHBOffset)
	record["LfaInitialVHB"] = uint64(testBackupVHBOffset)
	record["LfaMFDbase"] = uint64(testMFDOffset)
	record["CPagedMFD"] = uint64(1)
	record["LfaFileHeadersbase"] = uint64(testFileHeadersOffset)
	record["CPagesFilesHeaders"] = uint64(testCPagesFilesHeaders)
	record["AltFileHeaderPageOffset"] = uint64(testAltFileHeaderOffset)
	record["LfaAllocBitMapbase"] = uint64(testBitmapOffset)
	record["CPagesAllocBitMap"] = uint64(1)
	record["BytesPerSector"] = uint64(testSectorSize)
	record["SectorsPerTrack"] = uint64(testSectorsPerTrack)
	record["TracksPerCylinder"] = uint64(testTracksPerCylinder)
	record["CylindersPerDisk"] = uint64(testCylindersPerDisk)
	record["MagicWd"] = uint64(vhbMagic)

	return record
}

// writeVHBCopyAt encodes record (with its Checksum field computed) into
// image at offset, mutating a copy of record so the caller's original is
// left with Checksum unset.
func writeVHBCopyAt(image []byte, offset int, record Record) error {
	cp := make(Record, len(record))
	for k, v := range record {
		cp[k] = v
	}

	cp["Checksum"] = uint64(0)

	buf := make([]byte, vhbRecordSize)
	if err := EncodeFields(cp, buf, VHBFields, 0); err != nil {
		return err
	}

	checksum, err := ComputeVHBChecksum(buf)
	if err != nil {
		return err
	}

	cp["Checksum"] = uint64(checksum)

	if err := EncodeFields(cp, buf, VHBFields, 0); err != nil {
		return err
	}

	copy(image[offset:offset+vhbRecordSize], buf)
	return nil
}

// writeMFDEntryAt encodes one MFD entry at image[offset:offset+mfdEntrySize].
func writeMFDEntryAt(image []byte, offset int, name string, lfaDirbase uint32, cPages uint16) error {
	record := buildZeroRecord(MFDFields)

	dirName, err := EncodeLengthPrefixedName(name, 13)
	if err != nil {
		return err
	}

	dirPassword, err := EncodeLengthPrefixedName("", 13)
	if err != nil {
		return err
	}

	record["DirectoryName"] = dirName
	record["DirPassword"] = dirPassword
	record["LfaDirbase"] = uint64(lfaDirbase)
	record["CPages"] = uint64(cPages)
	record["DefaultAccessCode"] = uint64(0)
	record["LruCnt"] = uint64(0)

	buf := make([]byte, mfdEntrySize)
	if err := EncodeFields(record, buf, MFDFields, 0); err != nil {
		return err
	}

	copy(image[offset:offset+mfdEntrySize], buf)
	return nil
}

// writeDirectoryEntryAt writes one (name, fho) directory entry starting at
// image[offset] and returns the offset just past it.
func writeDirectoryEntryAt(image []byte, offset int, name string, fho uint16) int {
	image[offset] = byte(len(name))
	offset++

	copy(image[offset:offset+len(name)], name)
	offset += len(name)

	image[offset] = byte(fho)
	image[offset+1] = byte(fho >> 8)
	offset += 2

	return offset
}

// writeTestFileHeader builds and writes a file header at file-header-offset
// fho, with a single sector-sized extent at sectorAddr holding body,
// zero-padded to a full sector. It returns the written *FileHeader.
func writeTestFileHeader(image []byte, vhb *VolumeHomeBlock, fho uint16, name, dirName, body string, sectorAddr uint32) (*FileHeader, error) {
	offset := int(vhb.LfaFileHeadersbase()) + int(fho)*fileHeaderSize

	raw := buildZeroRecord(FileHeaderFields)

	sbFileName, err := EncodeLengthPrefixedName(name, 51)
	if err != nil {
		return nil, err
	}

	sbDirectoryName, err := EncodeLengthPrefixedName(dirName, 13)
	if err != nil {
		return nil, err
	}

	sbFileNamePassword, err := EncodeLengthPrefixedName("", 13)
	if err != nil {
		return nil, err
	}

	raw["sbFileName"] = sbFileName
	raw["sbDirectoryName"] = sbDirectoryName
	raw["sbFileNamePassword"] = sbFileNamePassword
	raw["cbFile"] = uint64(len(body))
	raw["FileHeaderNumber"] = uint64(fho)

	fh := &FileHeader{
		raw:     raw,
		Offset:  offset,
		FHO:     fho,
		Name:    name,
		Extents: []Extent{{SectorAddr: sectorAddr, Length: testSectorSize}},
	}

	if err := fh.UpdateChecksum(); err != nil {
		return nil, err
	}

	buf, err := fh.Encode()
	if err != nil {
		return nil, err
	}

	copy(image[offset:offset+fileHeaderSize], buf)

	sectorStart := int(sectorAddr)
	copy(image[sectorStart:sectorStart+testSectorSize], []byte(body))

	return fh, nil
}

// buildTestImage assembles a complete, internally-consistent synthetic
// image: one directory (DIR1) holding two files (HELLO.TXT, BYE.TXT), a
// matching allocation bitmap, and identical backup/active VHBs.
func buildTestImage(t *testing.T) []byte {
	image := make([]byte, testNSectors*testSectorSize)

	vhbRecord := buildTestVHBRecord()

	if err := writeVHBCopyAt(image, testBackupVHBOffset, vhbRecord); err != nil {
		t.Fatalf("writing backup VHB: %s", err)
	}

	if err := writeVHBCopyAt(image, testActiveVHBOffset, vhbRecord); err != nil {
		t.Fatalf("writing active VHB: %s", err)
	}

	active, err := loadVHBAt(image, testActiveVHBOffset)
	if err != nil {
		t.Fatalf("loading active VHB: %s", err)
	}

	if err := writeMFDEntryAt(image, testMFDOffset+1, testDirName, testDirOffset, 1); err != nil {
		t.Fatalf("writing MFD entry: %s", err)
	}

	dirCursor := testDirOffset + 1
	dirCursor = writeDirectoryEntryAt(image, dirCursor, testHelloName, testHelloFHO)
	dirCursor = writeDirectoryEntryAt(image, dirCursor, testByeName, testByeFHO)
	image[dirCursor] = directoryEntryPageTerminator

	if _, err := writeTestFileHeader(image, active, testHelloFHO, testHelloName, testDirName, testHelloBody, testHelloSector*testSectorSize); err != nil {
		t.Fatalf("writing HELLO.TXT header: %s", err)
	}

	if _, err := writeTestFileHeader(image, active, testByeFHO, testByeName, testDirName, testByeBody, testByeSector*testSectorSize); err != nil {
		t.Fatalf("writing BYE.TXT header: %s", err)
	}

	// Sectors 0 through testByeSector hold the backup/active VHB, the MFD,
	// the directory page, the file header region, the bitmap itself, and
	// the two seeded files' content. CheckDisk only ever verifies a subset
	// of this range (spec.md §4H's documented blind spot for the MFD and
	// file-header regions), but every sector the allocator
	// could hand out still needs to read allocated so ReplaceContents/
	// Delete tests never allocate over live metadata.
	bitmap := make(AllocationBitmap, testNSectors)
	for i := range bitmap {
		bitmap[i] = i > testByeSector
	}

	if err := WriteAllocationBitmap(image, active, bitmap); err != nil {
		t.Fatalf("writing allocation bitmap: %s", err)
	}

	return image
}
