package sstable

import (
	"io"

	"github.com/lsmkv/lsmkv/internal/ikey"
	"github.com/lsmkv/lsmkv/internal/status"
)

// File is the minimal random-access file capability the reader needs;
// satisfied by *os.File. Kept as an interface per spec §9's "filesystem
// abstraction is a capability set."
type File interface {
	io.ReaderAt
	Close() error
}

// GetResult mirrors spec §9's explicit-variant translation of the
// callback-based InternalGet contract.
type GetResult int

const (
	NotFound GetResult = iota
	Found
	Deleted
	CorruptResult
)

// Reader parses a sorted file's footer, index, and (optional) filter
// blocks into memory, then serves reads through a caller-supplied block
// loader (so the block cache stays in front of decompression — spec §4.C/§4.D).
type Reader struct {
	file    File
	fileNum uint64
	size    uint64
	cmp     *ikey.InternalComparator
	codec   func(CompressionType) (Codec, error)

	index  *Block
	filter *FilterReader

	// LoadBlock is overridden by callers that want to interpose a block
	// cache; defaults to loading directly from file.
	LoadBlock func(handle BlockHandle) (*Block, error)
}

type Options struct {
	FileNumber      uint64
	VerifyChecksums bool
}

// Open validates the magic, decodes the footer, and loads the index and
// filter blocks (spec §4.C "Reader contract").
func Open(f File, size uint64, cmp *ikey.InternalComparator, opts Options) (*Reader, error) {
	if size < FooterSize {
		return nil, status.Corruptionf("sstable: file too small (%d bytes)", size)
	}
	footerBuf := make([]byte, FooterSize)
	if _, err := f.ReadAt(footerBuf, int64(size-FooterSize)); err != nil {
		return nil, status.WrapIO(err, "sstable: read footer")
	}
	footer, err := DecodeFooter(footerBuf)
	if err != nil {
		return nil, err
	}
	r := &Reader{file: f, fileNum: opts.FileNumber, size: size, cmp: cmp}
	r.LoadBlock = r.loadBlockFromFile

	indexBlock, err := r.readBlock(footer.IndexHandle)
	if err != nil {
		return nil, err
	}
	r.index = indexBlock

	metaIndex, err := r.readBlock(footer.MetaIndexHandle)
	if err != nil {
		return nil, err
	}
	it := metaIndex.NewIterator()
	for it.SeekToFirst(); it.Valid(); it.Next() {
		if string(it.Key()) == "filter.bloom" {
			handle, _, err := DecodeBlockHandle(it.Value())
			if err != nil {
				return nil, err
			}
			fdata, ctype, err := r.readRawBlockPayload(handle)
			if err != nil {
				return nil, err
			}
			_ = ctype
			fr, err := ParseFilterBlock(fdata)
			if err != nil {
				return nil, err
			}
			r.filter = fr
		}
	}
	return r, nil
}

func (r *Reader) Close() error { return r.file.Close() }

func (r *Reader) readRawBlockPayload(handle BlockHandle) ([]byte, CompressionType, error) {
	raw := make([]byte, handle.Size+BlockTrailerSize)
	if _, err := r.file.ReadAt(raw, int64(handle.Offset)); err != nil {
		return nil, 0, status.WrapIO(err, "sstable: read block")
	}
	ctype, payload, err := verifyAndSplitBlockTrailer(raw)
	if err != nil {
		return nil, 0, err
	}
	codec, err := CodecFor(ctype)
	if err != nil {
		return nil, 0, err
	}
	decoded, err := codec.Decode(nil, payload)
	if err != nil {
		return nil, 0, err
	}
	return decoded, ctype, nil
}

func (r *Reader) readBlock(handle BlockHandle) (*Block, error) {
	decoded, _, err := r.readRawBlockPayload(handle)
	if err != nil {
		return nil, err
	}
	return ParseBlock(decoded)
}

func (r *Reader) loadBlockFromFile(handle BlockHandle) (*Block, error) {
	return r.readBlock(handle)
}

// indexIterator returns a fresh iterator over the index block.
func (r *Reader) indexIterator() *BlockIterator { return r.index.NewIterator() }

// InternalGet locates the first entry whose key >= target and reports
// whether it's a live value, a tombstone, or absent (spec §4.C).
func (r *Reader) InternalGet(target []byte) (value []byte, result GetResult, err error) {
	idx := r.indexIterator()
	if !idx.Seek(r.cmp.Compare, target) {
		return nil, NotFound, nil
	}
	handle, _, derr := DecodeBlockHandle(idx.Value())
	if derr != nil {
		return nil, CorruptResult, derr
	}

	if r.filter != nil {
		blockOrdinal := r.ordinalOf(idx)
		if !r.filter.MayContain(blockOrdinal, ikey.UserKey(target)) {
			return nil, NotFound, nil
		}
	}

	block, lerr := r.LoadBlock(handle)
	if lerr != nil {
		return nil, CorruptResult, lerr
	}
	bi := block.NewIterator()
	if !bi.Seek(r.cmp.Compare, target) {
		return nil, NotFound, nil
	}
	foundKey := bi.Key()
	if r.cmp.User.Compare(ikey.UserKey(foundKey), ikey.UserKey(target)) != 0 {
		return nil, NotFound, nil
	}
	switch ikey.Type(foundKey) {
	case ikey.TypeValue:
		return append([]byte(nil), bi.Value()...), Found, nil
	default:
		return nil, Deleted, nil
	}
}

// ordinalOf counts how many index entries precede idx's current
// position, giving the data-block ordinal the filter block is indexed
// by. Cheap here because index blocks are small (one entry per data
// block, sized to a handful of KB per file).
func (r *Reader) ordinalOf(at *BlockIterator) int {
	count := 0
	scan := r.indexIterator()
	for scan.SeekToFirst(); scan.Valid(); scan.Next() {
		if r.cmp.Compare(scan.Key(), at.Key()) == 0 {
			return count
		}
		count++
	}
	return count
}

// TwoLevelIterator walks the index block; for each entry it loads the
// referenced data block on demand (through LoadBlock, typically backed
// by the block cache) and iterates it (spec §4.C).
type TwoLevelIterator struct {
	r      *Reader
	index  *BlockIterator
	data   *BlockIterator
	err    error
}

func (r *Reader) NewIterator() *TwoLevelIterator {
	return &TwoLevelIterator{r: r, index: r.indexIterator()}
}

func (it *TwoLevelIterator) Error() error { return it.err }

func (it *TwoLevelIterator) setData() bool {
	if !it.index.Valid() {
		it.data = nil
		return false
	}
	handle, _, err := DecodeBlockHandle(it.index.Value())
	if err != nil {
		it.err = err
		it.data = nil
		return false
	}
	block, err := it.r.LoadBlock(handle)
	if err != nil {
		it.err = err
		it.data = nil
		return false
	}
	it.data = block.NewIterator()
	return true
}

func (it *TwoLevelIterator) SeekToFirst() bool {
	if !it.index.SeekToFirst() {
		it.data = nil
		return false
	}
	if !it.setData() {
		return false
	}
	if !it.data.SeekToFirst() {
		return it.advanceBlock()
	}
	return true
}

func (it *TwoLevelIterator) Seek(target []byte) bool {
	if !it.index.Seek(it.r.cmp.Compare, target) {
		it.data = nil
		return false
	}
	if !it.setData() {
		return false
	}
	if !it.data.Seek(it.r.cmp.Compare, target) {
		return it.advanceBlock()
	}
	return true
}

func (it *TwoLevelIterator) SeekToLast() bool {
	if !it.index.SeekToLast() {
		it.data = nil
		return false
	}
	if !it.setData() {
		return false
	}
	if !it.data.SeekToLast() {
		return it.retreatBlock()
	}
	return true
}

func (it *TwoLevelIterator) retreatBlock() bool {
	for it.index.Prev() {
		if !it.setData() {
			continue
		}
		if it.data.SeekToLast() {
			return true
		}
	}
	it.data = nil
	return false
}

func (it *TwoLevelIterator) Prev() bool {
	if it.data == nil {
		return false
	}
	if it.data.Prev() {
		return true
	}
	return it.retreatBlock()
}

func (it *TwoLevelIterator) advanceBlock() bool {
	for it.index.Next() {
		if !it.setData() {
			continue
		}
		if it.data.SeekToFirst() {
			return true
		}
	}
	it.data = nil
	return false
}

func (it *TwoLevelIterator) Next() bool {
	if it.data == nil {
		return false
	}
	if it.data.Next() {
		return true
	}
	return it.advanceBlock()
}

func (it *TwoLevelIterator) Valid() bool { return it.data != nil && it.data.Valid() }
func (it *TwoLevelIterator) Key() []byte { return it.data.Key() }
func (it *TwoLevelIterator) Value() []byte { return it.data.Value() }
func (it *TwoLevelIterator) Close() error { return it.err }

func (r *Reader) FileNumber() uint64 { return r.fileNum }
func (r *Reader) Size() uint64       { return r.size }
