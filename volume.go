package ctos

import (
	"fmt"
	"io"

	"github.com/dsoprea/go-logging"
	"github.com/dustin/go-humanize"
)

// Volume owns an image buffer exclusively (spec.md §5/§9: "prefer
// exclusive ownership of the image buffer by a Volume value") and wires
// components B–H together behind the call surface the CLI binaries
// drive (spec.md §6.3). It is not safe for concurrent use.
type Volume struct {
	image  []byte
	Active *VolumeHomeBlock
	Backup *VolumeHomeBlock
	Diag   Diagnostics
}

// Open loads the backup and active VHBs (applying the CylindersPerDisk
// fixup, §4B) and returns a Volume wrapping image. It does not run
// CheckDisk; call (*Volume).CheckDisk explicitly.
func Open(image []byte, diag Diagnostics) (vol *Volume, err error) {
	if diag == nil {
		diag = NullDiagnostics{}
	}

	defer func() {
		if errRaw := recover(); errRaw != nil {
			err = log.Wrap(errRaw.(error))
		}
	}()

	active, backup, err := LoadActiveVHB(image, diag)
	log.PanicIf(err)

	if active.MagicWd() != vhbMagic {
		diag.Warnf("active VHB magic word is 0x%04x, expected 0x%04x", active.MagicWd(), vhbMagic)
	}

	return &Volume{image: image, Active: active, Backup: backup, Diag: diag}, nil
}

// Bytes returns the volume's underlying image buffer, reflecting every
// mutation applied so far.
func (v *Volume) Bytes() []byte {
	return v.image
}

// reloadVHBs re-decodes the active and backup VHBs, used after an
// operation (SetGeometry) rewrites them on disk.
func (v *Volume) reloadVHBs() error {
	active, backup, err := LoadActiveVHB(v.image, v.Diag)
	if err != nil {
		return err
	}

	v.Active, v.Backup = active, backup
	return nil
}

// mfd reads the Master File Directory.
func (v *Volume) mfd() ([]*MFDEntry, error) {
	return ReadMFD(v.image, v.Active)
}

// findDirectory resolves a directory name to its MFD entry, failing
// with DirectoryNotFoundError if absent.
func (v *Volume) findDirectory(name string) (*MFDEntry, error) {
	mfd, err := v.mfd()
	if err != nil {
		return nil, err
	}

	entry := FindMFD(mfd, name)
	if entry == nil {
		return nil, &DirectoryNotFoundError{Name: name}
	}

	return entry, nil
}

// findFile resolves a (directory, file) pair to its directory entry,
// failing with DirectoryNotFoundError or FileNotFoundError.
func (v *Volume) findFile(dirName, fileName string) (*MFDEntry, *DirectoryEntry, error) {
	mfdEntry, err := v.findDirectory(dirName)
	if err != nil {
		return nil, nil, err
	}

	entries, err := ReadDirectory(v.image, v.Active, mfdEntry, v.Diag)
	if err != nil {
		return nil, nil, err
	}

	entry := FindDirectoryEntry(entries, fileName)
	if entry == nil || entry.Header == nil {
		return nil, nil, &FileNotFoundError{Directory: dirName, Name: fileName}
	}

	return mfdEntry, entry, nil
}

// Dump prints the backup VHB, the active VHB, verifies both checksums
// and their field-wise agreement, then prints the MFD and every
// directory. Mirrors ctostool.py's dump command.
func (v *Volume) Dump(w io.Writer) error {
	fmt.Fprintf(w, "== Backup VHB\n")
	dumpVHBFields(w, v.Backup)

	fmt.Fprintf(w, "\n== Active VHB (at offset %d)\n", v.Active.Offset)
	dumpVHBFields(w, v.Active)

	if ok, expected, actual, err := v.Backup.VerifyChecksum(); err != nil {
		return err
	} else if ok == false {
		v.Diag.Warnf("%s", &ChecksumMismatchError{Which: ChecksumSourceBackupVHB, Expected: expected, Actual: actual})
	}

	if ok, expected, actual, err := v.Active.VerifyChecksum(); err != nil {
		return err
	} else if ok == false {
		v.Diag.Warnf("%s", &ChecksumMismatchError{Which: ChecksumSourceActiveVHB, Expected: expected, Actual: actual})
	}

	VerifyActiveMatchesBackup(v.Active, v.Backup, v.Diag)

	mfd, err := v.mfd()
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "\n== MFD\n")
	for _, entry := range mfd {
		password, _ := entry.Password()
		fmt.Fprintf(w, "%-13s %-13s %d (%d pages)\n", entry.Name, password, entry.LfaDirbase(), entry.CPages())
	}

	for _, entry := range mfd {
		fmt.Fprintf(w, "\n== Directory %s\n", entry.Name)

		entries, err := ReadDirectory(v.image, v.Active, entry, v.Diag)
		if err != nil {
			return err
		}

		printDirectory(w, entries)
	}

	badBlocks, err := ReadBadBlockTable(v.image, v.Active)
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "\n== Bad block table (%d entries)\n", len(badBlocks.Entries))
	for _, entry := range badBlocks.Entries {
		fmt.Fprintf(w, "sector=%d head=%d cylinder=%d\n", entry.Sector, entry.Head, entry.Cylinder)
	}

	return nil
}

func dumpVHBFields(w io.Writer, vhb *VolumeHomeBlock) {
	for _, field := range VHBFields {
		value := vhb.Field(field.Name)
		fmt.Fprintf(w, "%-24s %v\n", field.Name, value)
	}
}

// ListDir prints each named directory's entries. Mirrors ctostool.py's
// listdir command.
func (v *Volume) ListDir(w io.Writer, names ...string) error {
	for _, name := range names {
		mfdEntry, err := v.findDirectory(name)
		if err != nil {
			return err
		}

		entries, err := ReadDirectory(v.image, v.Active, mfdEntry, v.Diag)
		if err != nil {
			return err
		}

		printDirectory(w, entries)
	}

	return nil
}

func printDirectory(w io.Writer, entries []*DirectoryEntry) {
	fmt.Fprintf(w, "%-20s %4s %10s %s\n", "NAME", "FHO", "SIZE", "EXTENTS")

	for _, entry := range entries {
		var size string
		if entry.Header != nil {
			size = humanize.Comma(int64(entry.Header.CbFile()))
		}

		fmt.Fprintf(w, "%-20s %4d %10s", entry.Name, entry.FHO, size)

		if entry.Header != nil {
			for _, extent := range entry.Header.Extents {
				fmt.Fprintf(w, " <offs %d, len %d>", extent.SectorAddr, extent.Length)
			}
		}

		fmt.Fprintf(w, "\n")
	}
}

// DumpBitmap prints one "<sector>:<bit>" line per sector, bit 1 meaning
// free. Mirrors ctostool.py's dumpbitmap command.
func (v *Volume) DumpBitmap(w io.Writer) error {
	bitmap, err := ReadAllocationBitmap(v.image, v.Active)
	if err != nil {
		return err
	}

	for i, free := range bitmap {
		bit := 0
		if free {
			bit = 1
		}

		fmt.Fprintf(w, "%d:%d\n", i, bit)
	}

	return nil
}

// CheckDisk runs the whole-volume integrity audit (§4H) and returns the
// total finding count; findings themselves go to v.Diag.
func (v *Volume) CheckDisk() (int, error) {
	return CheckDisk(v.image, v.Diag)
}

// statExcludedFields lists the fields stat omits from its plain-text
// dump because they are non-printable binary arrays, mirroring
// ctostool.py's stat command.
var statExcludedFields = map[string]bool{
	"sbFileName":   true,
	"AppSpecific":  true,
	"rgcbExtents":  true,
	"rgLfaExtents": true,
	"Reserved":     true,
}

// Stat prints the decoded fields of a file header, excluding raw binary
// arrays. Mirrors ctostool.py's stat command.
func (v *Volume) Stat(w io.Writer, dir, file string) error {
	_, entry, err := v.findFile(dir, file)
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "Name                 %s\n", entry.Header.Name)
	fmt.Fprintf(w, "FHO                  %d\n", entry.Header.FHO)
	fmt.Fprintf(w, "Size                 %s bytes\n", humanize.Comma(int64(entry.Header.CbFile())))

	for _, field := range FileHeaderFields {
		if statExcludedFields[field.Name] {
			continue
		}

		fmt.Fprintf(w, "%-20s %v\n", field.Name, entry.Header.Field(field.Name))
	}

	for i, extent := range entry.Header.Extents {
		fmt.Fprintf(w, "Extent[%d]            offset=%d length=%d\n", i, extent.SectorAddr, extent.Length)
	}

	return nil
}

// hexEscapePrintable mirrors ctostool.py's hex_escape: ASCII letters,
// digits, punctuation, and space pass through unchanged; everything
// else is rendered as \xHH.
func hexEscapePrintable(b byte) bool {
	switch {
	case b >= 'a' && b <= 'z', b >= 'A' && b <= 'Z', b >= '0' && b <= '9':
		return true
	case b == ' ':
		return true
	case b >= 0x21 && b <= 0x2f, b >= 0x3a && b <= 0x40, b >= 0x5b && b <= 0x60, b >= 0x7b && b <= 0x7e:
		// ASCII punctuation ranges surrounding the alphanumerics.
		return true
	default:
		return false
	}
}

// HexEscape renders data as ASCII text, escaping every non-printable
// byte as \xHH.
func HexEscape(data []byte) []byte {
	out := make([]byte, 0, len(data))

	for _, b := range data {
		if hexEscapePrintable(b) {
			out = append(out, b)
		} else {
			out = append(out, []byte(fmt.Sprintf(`\x%02x`, b))...)
		}
	}

	return out
}

// Extract writes a file's contents to w, optionally hex-escaping
// non-printable bytes. Mirrors ctostool.py's extract command.
func (v *Volume) Extract(w io.Writer, dir, file string, hexEscape bool) error {
	_, entry, err := v.findFile(dir, file)
	if err != nil {
		return err
	}

	content, err := RetrieveContents(v.image, entry.Header)
	if err != nil {
		return err
	}

	if hexEscape {
		content = HexEscape(content)
	}

	_, err = w.Write(content)
	return err
}

// ExtractAll extracts every file under every MFD directory (other than
// "." and "..") to destDir/<dirname>/<filename>, using the supplied
// callbacks for directory creation and file writing. Keeping these as
// callbacks, rather than calling os.MkdirAll/os.WriteFile directly,
// keeps the core free of a hard filesystem-sink dependency — the one
// seam spec.md §1 calls an external collaborator. Mirrors ctostool.py's
// extractAll command.
func (v *Volume) ExtractAll(destDir string, mkdirAll func(dir string) error, writeFile func(path string, data []byte) error) error {
	mfd, err := v.mfd()
	if err != nil {
		return err
	}

	for _, mfdEntry := range mfd {
		if mfdEntry.Name == "." || mfdEntry.Name == ".." {
			v.Diag.Notef("skipping directory %s", mfdEntry.Name)
			continue
		}

		dirPath := destDir + "/" + mfdEntry.Name
		if err := mkdirAll(dirPath); err != nil {
			return err
		}

		entries, err := ReadDirectory(v.image, v.Active, mfdEntry, v.Diag)
		if err != nil {
			return err
		}

		for _, entry := range entries {
			if entry.Name == "." || entry.Name == ".." {
				v.Diag.Notef("skipping file %s", entry.Name)
				continue
			}

			if entry.Header == nil {
				continue
			}

			content, err := RetrieveContents(v.image, entry.Header)
			if err != nil {
				return err
			}

			if err := writeFile(dirPath+"/"+makeSafeFileName(entry.Name), content); err != nil {
				return err
			}
		}
	}

	return nil
}

// makeSafeFileName replaces characters that are meaningful to the host
// filesystem but legal in a CTOS filename. Mirrors ctostool.py's
// makeSafeFileName.
func makeSafeFileName(name string) string {
	out := make([]byte, len(name))
	for i := 0; i < len(name); i++ {
		switch name[i] {
		case '>', '/':
			out[i] = '_'
		default:
			out[i] = name[i]
		}
	}

	return string(out)
}

// Replace overwrites a file's contents. The file's name and directory
// entry are untouched: this engine supports no rename (spec.md §1 non-
// goal), so neither the name nor the file-header-offset the directory
// entry stores ever changes.
func (v *Volume) Replace(dir, file string, src []byte) error {
	_, entry, err := v.findFile(dir, file)
	if err != nil {
		return err
	}

	bitmap, err := ReadAllocationBitmap(v.image, v.Active)
	if err != nil {
		return err
	}

	return ReplaceContents(v.image, v.Active, entry.Header, bitmap, src)
}

// Delete removes a file: frees its sectors, removes its directory
// entry, marks its header(s) deleted, and runs CheckDisk as a post-
// condition (fatal on any finding, per spec.md §7).
func (v *Volume) Delete(dir, file string) error {
	mfdEntry, entry, err := v.findFile(dir, file)
	if err != nil {
		return err
	}

	bitmap, err := ReadAllocationBitmap(v.image, v.Active)
	if err != nil {
		return err
	}

	return DeleteFile(v.image, v.Active, mfdEntry, dir, entry.Header, bitmap, v.Diag)
}

// SetGeometry rewrites geometry fields in both VHBs and reloads them.
func (v *Volume) SetGeometry(cylinders, heads, sectorsPerTrack, bytesPerSector uint16) error {
	if err := SetGeometry(v.image, cylinders, heads, sectorsPerTrack, bytesPerSector); err != nil {
		return err
	}

	return v.reloadVHBs()
}
