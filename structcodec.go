// Package ctos decodes and mutates disk images of the CTOS/BTOS file
// system. This file is the struct codec (component 4A): a table-driven
// decoder/encoder for the format's fixed-layout binary records, the Go
// translation of the reference tool's DecodeStructAsDict/EncodeStruct
// (original_source/ctosdisk.py).
package ctos

import (
	"encoding/binary"
	"fmt"

	"github.com/dsoprea/go-logging"
)

// Field describes one member of a fixed binary record: its byte offset,
// its width, and the name used to address it. Sizes 1, 2, and 4 decode
// as little-endian unsigned integers; any other size decodes as a raw
// byte slice.
type Field struct {
	Offset int
	Size   int
	Name   string
}

// FieldTable is an ordered list of Fields describing one record layout.
type FieldTable []Field

// Record is the name-keyed decode of a FieldTable against a buffer.
// Integer fields (size 1/2/4) are stored as uint64; every other size is
// stored as a []byte of exactly Field.Size bytes.
type Record map[string]interface{}

// Uint returns the named integer field, panicking (via go-logging) if it
// is absent or not an integer field. Mutators use this to read-modify-
// write a handful of fields without re-declaring a typed struct.
func (r Record) Uint(name string) uint64 {
	v, found := r[name]
	if found == false {
		log.Panicf("field not present in record: %s", name)
	}

	u, ok := v.(uint64)
	if ok == false {
		log.Panicf("field is not an integer field: %s", name)
	}

	return u
}

// Bytes returns the named raw field.
func (r Record) Bytes(name string) []byte {
	v, found := r[name]
	if found == false {
		log.Panicf("field not present in record: %s", name)
	}

	b, ok := v.([]byte)
	if ok == false {
		log.Panicf("field is not a raw field: %s", name)
	}

	return b
}

// SanityCheckTable validates that a FieldTable's fields are contiguous
// and non-overlapping, starting at offset 0. This is the Go translation
// of ctosdisk.py's SanityCheck.
func SanityCheckTable(table FieldTable) error {
	offset := 0
	for _, field := range table {
		if field.Offset != offset {
			return fmt.Errorf("ctos: field %q starts at %d, expected %d", field.Name, field.Offset, offset)
		}

		offset += field.Size
	}

	return nil
}

// TableSize returns the total byte width a FieldTable covers.
func TableSize(table FieldTable) int {
	size := 0
	for _, field := range table {
		if field.Offset+field.Size > size {
			size = field.Offset + field.Size
		}
	}

	return size
}

// DecodeFields decodes buf against table, producing a name-keyed Record.
// It fails with ErrTruncatedInput if buf is shorter than the table
// requires.
func DecodeFields(buf []byte, table FieldTable) (record Record, err error) {
	defer func() {
		if errRaw := recover(); errRaw != nil {
			err = log.Wrap(errRaw.(error))
		}
	}()

	needed := TableSize(table)
	if len(buf) < needed {
		return nil, ErrTruncatedInput
	}

	record = make(Record, len(table))

	for _, field := range table {
		raw := buf[field.Offset : field.Offset+field.Size]

		switch field.Size {
		case 1:
			record[field.Name] = uint64(raw[0])
		case 2:
			record[field.Name] = uint64(binary.LittleEndian.Uint16(raw))
		case 4:
			record[field.Name] = uint64(binary.LittleEndian.Uint32(raw))
		default:
			cp := make([]byte, field.Size)
			copy(cp, raw)
			record[field.Name] = cp
		}
	}

	return record, nil
}

// EncodeFields writes every field named in table from src into
// dest[offset:], in place. Raw fields require the source value's length
// to equal the field's declared width (ErrFieldSizeMismatch otherwise).
func EncodeFields(src Record, dest []byte, table FieldTable, offset int) (err error) {
	defer func() {
		if errRaw := recover(); errRaw != nil {
			err = log.Wrap(errRaw.(error))
		}
	}()

	needed := offset + TableSize(table)
	if len(dest) < needed {
		return ErrTruncatedInput
	}

	for _, field := range table {
		at := dest[offset+field.Offset : offset+field.Offset+field.Size]

		switch field.Size {
		case 1:
			at[0] = byte(src.Uint(field.Name))
		case 2:
			binary.LittleEndian.PutUint16(at, uint16(src.Uint(field.Name)))
		case 4:
			binary.LittleEndian.PutUint32(at, uint32(src.Uint(field.Name)))
		default:
			raw := src.Bytes(field.Name)
			if len(raw) != field.Size {
				return ErrFieldSizeMismatch
			}

			copy(at, raw)
		}
	}

	return nil
}

// DecodeLengthPrefixedName interprets an N-byte buffer as a length-
// prefixed string: byte 0 is the payload length L, bytes 1..1+L are the
// payload. It fails with ErrInvalidName if L exceeds the available
// payload width.
func DecodeLengthPrefixedName(buf []byte) (string, error) {
	if len(buf) == 0 {
		return "", ErrInvalidName
	}

	length := int(buf[0])
	if length > len(buf)-1 {
		return "", ErrInvalidName
	}

	return string(buf[1 : 1+length]), nil
}

// EncodeLengthPrefixedName writes name into an N-byte buffer as a
// length-prefixed string, zero-padding the remainder. It fails with
// ErrInvalidName if name does not fit.
func EncodeLengthPrefixedName(name string, width int) ([]byte, error) {
	if len(name) > width-1 {
		return nil, ErrInvalidName
	}

	buf := make([]byte, width)
	buf[0] = byte(len(name))
	copy(buf[1:], name)

	return buf, nil
}
