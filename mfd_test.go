package ctos

import "testing"

func TestReadMFD(t *testing.T) {
	image := buildTestImage(t)

	active, _, err := LoadActiveVHB(image, NewCollectingDiagnostics())
	if err != nil {
		t.Fatalf("LoadActiveVHB failed: %s", err)
	}

	entries, err := ReadMFD(image, active)
	if err != nil {
		t.Fatalf("ReadMFD failed: %s", err)
	}

	if len(entries) != 1 {
		t.Fatalf("expected 1 MFD entry, got %d", len(entries))
	}

	if entries[0].Name != testDirName {
		t.Fatalf("entry name = %q", entries[0].Name)
	}

	if entries[0].LfaDirbase() != testDirOffset {
		t.Fatalf("LfaDirbase = %d", entries[0].LfaDirbase())
	}

	if entries[0].CPages() != 1 {
		t.Fatalf("CPages = %d", entries[0].CPages())
	}
}

func TestFindMFDCaseInsensitive(t *testing.T) {
	image := buildTestImage(t)

	active, _, err := LoadActiveVHB(image, NewCollectingDiagnostics())
	if err != nil {
		t.Fatalf("LoadActiveVHB failed: %s", err)
	}

	entries, err := ReadMFD(image, active)
	if err != nil {
		t.Fatalf("ReadMFD failed: %s", err)
	}

	if FindMFD(entries, "dir1") == nil {
		t.Fatalf("expected case-insensitive match")
	}

	if FindMFD(entries, "NOSUCHDIR") != nil {
		t.Fatalf("expected no match for an absent directory")
	}
}
