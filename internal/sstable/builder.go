package sstable

import (
	"io"

	"github.com/lsmkv/lsmkv/internal/ikey"
	"github.com/lsmkv/lsmkv/internal/status"
)

// Builder writes a single immutable sorted file. Entries must arrive in
// non-decreasing internal-key order; Finish must be called exactly
// once. Grounded on the teacher's WriteSSTable (sstable.go) for
// the "stream entries to one file, then Sync" shape, generalized to the
// block/filter/index/footer structure of spec §4.C.
type Builder struct {
	w   io.Writer
	cmp *ikey.InternalComparator

	blockSize       int
	restartInterval int
	codec           Codec

	dataBlock   *BlockBuilder
	filter      *FilterBuilder
	indexBlock  *BlockBuilder
	pendingSep  []byte
	pendingHand BlockHandle
	havePending bool

	lastKey   []byte
	offset    uint64
	numEntries int
	finished  bool
	err       error
}

type BuilderOptions struct {
	BlockSize       int
	RestartInterval int
	Codec           Codec
	Filter          bool
}

func NewBuilder(w io.Writer, cmp *ikey.InternalComparator, opts BuilderOptions) *Builder {
	if opts.BlockSize <= 0 {
		opts.BlockSize = 4096
	}
	if opts.Codec == nil {
		opts.Codec = noopCodec{}
	}
	b := &Builder{
		w:               w,
		cmp:             cmp,
		blockSize:       opts.BlockSize,
		restartInterval: opts.RestartInterval,
		codec:           opts.Codec,
		dataBlock:       NewBlockBuilder(opts.RestartInterval),
		indexBlock:      NewBlockBuilder(opts.RestartInterval),
	}
	if opts.Filter {
		b.filter = NewFilterBuilder()
	}
	return b
}

func (b *Builder) NumEntries() int { return b.numEntries }

// Add appends one internal-key/value pair. Returns an error if key
// sorts before the previous key, or if called after Finish.
func (b *Builder) Add(key, value []byte) error {
	if b.err != nil {
		return b.err
	}
	if b.finished {
		return status.InvalidArgumentf("sstable: Add called after Finish")
	}
	if b.lastKey != nil && b.cmp.Compare(b.lastKey, key) > 0 {
		return status.InvalidArgumentf("sstable: keys out of order")
	}
	if b.havePending {
		if err := b.finishDataBlock(key); err != nil {
			return err
		}
	}
	if b.filter != nil {
		b.filter.AddKey(ikey.UserKey(key))
	}
	b.lastKey = append(b.lastKey[:0], key...)
	b.dataBlock.Add(key, value)
	b.numEntries++

	if b.dataBlock.CurrentSizeEstimate() >= b.blockSize {
		if err := b.flushDataBlock(); err != nil {
			return err
		}
	}
	return nil
}

// flushDataBlock writes the current data block to disk and records a
// pending index entry (the separator is chosen lazily, on the next Add
// or on Finish, per spec §4.C's "key = separator >= last key of block").
func (b *Builder) flushDataBlock() error {
	if b.dataBlock.Empty() {
		return nil
	}
	handle, err := b.writeBlock(b.dataBlock)
	if err != nil {
		return err
	}
	if b.filter != nil {
		b.filter.StartBlock()
	}
	b.pendingHand = handle
	b.havePending = true
	b.dataBlock.Reset()
	return nil
}

// finishDataBlock is invoked when the next key is known, letting us
// compute the shortest separator between the flushed block's last key
// and the following key.
func (b *Builder) finishDataBlock(nextKey []byte) error {
	sep := b.cmp.ShortSeparator(b.lastKey, nextKey)
	b.indexBlock.Add(sep, b.pendingHand.EncodeTo(nil))
	b.havePending = false
	return nil
}

func (b *Builder) writeBlock(bb *BlockBuilder) (BlockHandle, error) {
	raw := bb.Finish()
	compressed := b.codec.Encode(nil, raw)
	ctype := b.codec.Type()
	// Fall back to storing uncompressed if compression didn't help,
	// matching LevelDB's own "don't bother if <12.5% smaller" heuristic.
	if ctype != NoCompression && len(compressed) >= len(raw)-len(raw)/8 {
		compressed = raw
		ctype = NoCompression
	}
	handle := BlockHandle{Offset: b.offset, Size: uint64(len(compressed))}
	framed := appendBlockTrailer(nil, compressed, ctype)
	n, err := b.w.Write(framed)
	if err != nil {
		return BlockHandle{}, status.WrapIO(err, "sstable: write block")
	}
	b.offset += uint64(n)
	return handle, nil
}

// Finish flushes any pending data, filter, meta-index, and index blocks
// and the footer. Returns the final file size.
func (b *Builder) Finish() (uint64, error) {
	if b.err != nil {
		return 0, b.err
	}
	if b.finished {
		return 0, status.InvalidArgumentf("sstable: Finish called twice")
	}
	b.finished = true

	if !b.dataBlock.Empty() {
		if err := b.flushDataBlock(); err != nil {
			return 0, err
		}
	}
	if b.havePending {
		sep := b.cmp.ShortSuccessor(b.lastKey)
		b.indexBlock.Add(sep, b.pendingHand.EncodeTo(nil))
		b.havePending = false
	}

	metaIndex := NewBlockBuilder(b.restartInterval)
	var filterHandle BlockHandle
	haveFilter := b.filter != nil && b.numEntries > 0
	if haveFilter {
		filterData := b.filter.Finish()
		fh, err := b.writeRawBlock(filterData, NoCompression)
		if err != nil {
			return 0, err
		}
		filterHandle = fh
		metaIndex.Add([]byte("filter.bloom"), filterHandle.EncodeTo(nil))
	}
	metaIndexHandle, err := b.writeBlock(metaIndex)
	if err != nil {
		return 0, err
	}
	indexHandle, err := b.writeBlock(b.indexBlock)
	if err != nil {
		return 0, err
	}

	footer := Footer{MetaIndexHandle: metaIndexHandle, IndexHandle: indexHandle}
	n, err := b.w.Write(footer.EncodeTo())
	if err != nil {
		return 0, status.WrapIO(err, "sstable: write footer")
	}
	b.offset += uint64(n)
	return b.offset, nil
}

func (b *Builder) writeRawBlock(payload []byte, ctype CompressionType) (BlockHandle, error) {
	handle := BlockHandle{Offset: b.offset, Size: uint64(len(payload))}
	framed := appendBlockTrailer(nil, payload, ctype)
	n, err := b.w.Write(framed)
	if err != nil {
		return BlockHandle{}, status.WrapIO(err, "sstable: write meta block")
	}
	b.offset += uint64(n)
	return handle, nil
}

func (b *Builder) FileSize() uint64 { return b.offset }
