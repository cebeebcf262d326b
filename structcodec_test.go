package ctos

import (
	"bytes"
	"testing"
)

var testTable = FieldTable{
	{0, 2, "A"},
	{2, 1, "B"},
	{3, 4, "C"},
	{7, 3, "Raw"},
}

func TestSanityCheckTable(t *testing.T) {
	if err := SanityCheckTable(testTable); err != nil {
		t.Fatalf("valid table rejected: %s", err)
	}

	bad := FieldTable{{0, 2, "A"}, {3, 2, "B"}}
	if err := SanityCheckTable(bad); err == nil {
		t.Fatalf("gap in table not detected")
	}
}

func TestDecodeEncodeFields(t *testing.T) {
	buf := []byte{0x34, 0x12, 0xff, 0x78, 0x56, 0x34, 0x12, 'x', 'y', 'z'}

	record, err := DecodeFields(buf, testTable)
	if err != nil {
		t.Fatalf("decode failed: %s", err)
	}

	if record.Uint("A") != 0x1234 {
		t.Fatalf("A decoded as 0x%x", record.Uint("A"))
	}

	if record.Uint("B") != 0xff {
		t.Fatalf("B decoded as 0x%x", record.Uint("B"))
	}

	if record.Uint("C") != 0x12345678 {
		t.Fatalf("C decoded as 0x%x", record.Uint("C"))
	}

	if bytes.Equal(record.Bytes("Raw"), []byte("xyz")) == false {
		t.Fatalf("Raw decoded as %q", record.Bytes("Raw"))
	}

	out := make([]byte, len(buf))
	if err := EncodeFields(record, out, testTable, 0); err != nil {
		t.Fatalf("encode failed: %s", err)
	}

	if bytes.Equal(out, buf) == false {
		t.Fatalf("round-trip mismatch: got %x, want %x", out, buf)
	}
}

func TestDecodeFieldsTruncated(t *testing.T) {
	if _, err := DecodeFields(make([]byte, 3), testTable); err != ErrTruncatedInput {
		t.Fatalf("expected ErrTruncatedInput, got %v", err)
	}
}

func TestEncodeFieldsSizeMismatch(t *testing.T) {
	record, err := DecodeFields([]byte{0x34, 0x12, 0xff, 0x78, 0x56, 0x34, 0x12, 'x', 'y', 'z'}, testTable)
	if err != nil {
		t.Fatalf("decode failed: %s", err)
	}

	record["Raw"] = []byte("toolong")

	out := make([]byte, 10)
	if err := EncodeFields(record, out, testTable, 0); err != ErrFieldSizeMismatch {
		t.Fatalf("expected ErrFieldSizeMismatch, got %v", err)
	}
}

func TestLengthPrefixedNameRoundTrip(t *testing.T) {
	buf, err := EncodeLengthPrefixedName("HELLO.TXT", 13)
	if err != nil {
		t.Fatalf("encode failed: %s", err)
	}

	name, err := DecodeLengthPrefixedName(buf)
	if err != nil {
		t.Fatalf("decode failed: %s", err)
	}

	if name != "HELLO.TXT" {
		t.Fatalf("got %q", name)
	}
}

func TestEncodeLengthPrefixedNameTooLong(t *testing.T) {
	if _, err := EncodeLengthPrefixedName("this name is much too long for 13 bytes", 13); err != ErrInvalidName {
		t.Fatalf("expected ErrInvalidName, got %v", err)
	}
}

func TestDecodeLengthPrefixedNameInvalid(t *testing.T) {
	if _, err := DecodeLengthPrefixedName([]byte{5, 'a', 'b'}); err != ErrInvalidName {
		t.Fatalf("expected ErrInvalidName, got %v", err)
	}
}
