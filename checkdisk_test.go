package ctos

import (
	"strings"
	"testing"
)

func TestCheckDiskClean(t *testing.T) {
	image := buildTestImage(t)

	diag := NewCollectingDiagnostics()

	errorCount, err := CheckDisk(image, diag)
	if err != nil {
		t.Fatalf("CheckDisk failed: %s", err)
	}

	if errorCount != 0 {
		t.Fatalf("CheckDisk reported %d error(s) on a freshly built image: %v", errorCount, diag.Warnings)
	}
}

func TestCheckDiskDetectsDoubleAllocation(t *testing.T) {
	image := buildTestImage(t)

	active, _, err := LoadActiveVHB(image, NewCollectingDiagnostics())
	if err != nil {
		t.Fatalf("LoadActiveVHB failed: %s", err)
	}

	// Point BYE.TXT's extent at the same sector HELLO.TXT already uses.
	fh, err := ReadFileHeader(image, active, testByeFHO)
	if err != nil {
		t.Fatalf("ReadFileHeader failed: %s", err)
	}

	fh.Extents = []Extent{{SectorAddr: testHelloSector * testSectorSize, Length: testSectorSize}}

	if err := WriteBack(image, active, fh); err != nil {
		t.Fatalf("WriteBack failed: %s", err)
	}

	diag := NewCollectingDiagnostics()

	errorCount, err := CheckDisk(image, diag)
	if err != nil {
		t.Fatalf("CheckDisk failed: %s", err)
	}

	if errorCount == 0 {
		t.Fatalf("expected CheckDisk to detect the double allocation")
	}
}

func TestCheckDiskDetectsOrphanHeader(t *testing.T) {
	image := buildTestImage(t)

	active, _, err := LoadActiveVHB(image, NewCollectingDiagnostics())
	if err != nil {
		t.Fatalf("LoadActiveVHB failed: %s", err)
	}

	mfd, err := ReadMFD(image, active)
	if err != nil {
		t.Fatalf("ReadMFD failed: %s", err)
	}

	dirEntry := FindMFD(mfd, testDirName)

	diag := NewCollectingDiagnostics()

	// Remove HELLO.TXT's directory entry without touching its header: the
	// header becomes unreachable but is never marked deleted.
	if err := RemoveDirectoryEntry(image, active, dirEntry, testDirName, testHelloName, diag); err != nil {
		t.Fatalf("RemoveDirectoryEntry failed: %s", err)
	}

	errorCount, err := CheckDisk(image, diag)
	if err != nil {
		t.Fatalf("CheckDisk failed: %s", err)
	}

	if errorCount == 0 {
		t.Fatalf("expected CheckDisk to report the orphaned header")
	}
}

func TestCheckDiskDetectsChecksumMismatch(t *testing.T) {
	image := buildTestImage(t)

	active, _, err := LoadActiveVHB(image, NewCollectingDiagnostics())
	if err != nil {
		t.Fatalf("LoadActiveVHB failed: %s", err)
	}

	offset := int(active.LfaFileHeadersbase()) + int(testHelloFHO)*fileHeaderSize
	image[offset] ^= 0xff // corrupt the stored checksum field directly

	diag := NewCollectingDiagnostics()

	errorCount, err := CheckDisk(image, diag)
	if err != nil {
		t.Fatalf("CheckDisk failed: %s", err)
	}

	if errorCount == 0 {
		t.Fatalf("expected CheckDisk to report the checksum mismatch")
	}

	found := false
	want := (&ChecksumMismatchError{Which: ChecksumSourceFileHeader, FHO: testHelloFHO}).Which.String()
	for _, warning := range diag.Warnings {
		if strings.Contains(warning, "checksum mismatch in "+want) {
			found = true
		}
	}
	if found == false {
		t.Fatalf("expected a ChecksumMismatchError-shaped warning, got %v", diag.Warnings)
	}
}
