package ctos

// AllocationBitmap is one bit per sector: true means the sector is
// free, false means it is allocated (spec.md §3). Index i always means
// sector i (a byte offset of i*BytesPerSector in the image).
type AllocationBitmap []bool

// bitmapByteSize returns ceil(nSectors/8), the on-disk size in bytes of
// an allocation bitmap covering nSectors sectors.
func bitmapByteSize(nSectors uint32) int {
	return int((nSectors + 7) / 8)
}

// ReadAllocationBitmap decodes the allocation bitmap starting at
// vhb.LfaAllocBitMapbase. Bits are unpacked LSB-first within each byte
// and truncated to vhb.NSectors(); trailing bits past that count are
// reserved/undefined on read and are not included in the result.
func ReadAllocationBitmap(image []byte, vhb *VolumeHomeBlock) (AllocationBitmap, error) {
	nSectors := vhb.NSectors()
	byteSize := bitmapByteSize(nSectors)
	base := int(vhb.LfaAllocBitMapbase())

	if base+byteSize > len(image) {
		return nil, ErrTruncatedInput
	}

	bitmap := make(AllocationBitmap, nSectors)

	for i := uint32(0); i < nSectors; i++ {
		b := image[base+int(i/8)]
		bitmap[i] = (b>>(i%8))&1 == 1
	}

	return bitmap, nil
}

// WriteAllocationBitmap re-packs bitmap LSB-first into
// ceil(len(bitmap)/8) bytes starting at vhb.LfaAllocBitMapbase. Trailing
// bits beyond len(bitmap) within the final byte are written as 0.
func WriteAllocationBitmap(image []byte, vhb *VolumeHomeBlock, bitmap AllocationBitmap) error {
	byteSize := bitmapByteSize(uint32(len(bitmap)))
	base := int(vhb.LfaAllocBitMapbase())

	if base+byteSize > len(image) {
		return ErrTruncatedInput
	}

	buf := make([]byte, byteSize)
	for i, free := range bitmap {
		if free {
			buf[i/8] |= 1 << uint(i%8)
		}
	}

	copy(image[base:base+byteSize], buf)

	return nil
}

// Allocate returns the lowest-indexed free sector, marks it allocated,
// and returns its index. It returns ErrNoFreeSector if the bitmap is
// exhausted. Tie-break is always lowest index, which is what makes
// ReplaceContents's extent-merging deterministic (spec.md §5).
func (bitmap AllocationBitmap) Allocate() (uint32, error) {
	for i, free := range bitmap {
		if free {
			bitmap[i] = false
			return uint32(i), nil
		}
	}

	return 0, ErrNoFreeSector
}

// Free marks sector as free.
func (bitmap AllocationBitmap) Free(sector uint32) {
	bitmap[sector] = true
}
