package version

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"io"

	"github.com/lsmkv/lsmkv/internal/status"
)

// Tags for the VersionEdit disk format — numbering matches
// cockroachdb-pebble's leveldb-compat package (leveldb/version_edit.go),
// itself a direct translation of LevelDB's db/version_edit.cc; tag 8 is
// historically unused and skipped here too so a manifest written by
// either implementation would tag-parse the same way.
const (
	tagComparator     = 1
	tagLogNumber      = 2
	tagNextFileNumber = 3
	tagLastSequence   = 4
	tagCompactPointer = 5
	tagDeletedFile    = 6
	tagNewFile        = 7
	tagPrevLogNumber  = 9
)

type DeletedFileEntry struct {
	Level   int
	FileNum uint64
}

type NewFileEntry struct {
	Level int
	Meta  *FileMetadata
}

// Edit is the delta between two consecutive versions (spec §4.G):
// comparator name (present only on the first edit ever written),
// log/prev-log/next-file numbers, last sequence, per-level compaction
// pointers, and per-level added/deleted files.
type Edit struct {
	ComparatorName string
	HasLogNumber   bool
	LogNumber      uint64
	HasPrevLogNumber bool
	PrevLogNumber  uint64
	HasNextFileNumber bool
	NextFileNumber uint64
	HasLastSequence bool
	LastSequence   uint64

	CompactPointers []struct {
		Level int
		Key   []byte // internal key
	}
	DeletedFiles []DeletedFileEntry
	NewFiles     []NewFileEntry
}

func (e *Edit) AddFile(level int, meta *FileMetadata) {
	e.NewFiles = append(e.NewFiles, NewFileEntry{Level: level, Meta: meta})
}

func (e *Edit) DeleteFile(level int, number uint64) {
	e.DeletedFiles = append(e.DeletedFiles, DeletedFileEntry{Level: level, FileNum: number})
}

func (e *Edit) SetCompactPointer(level int, key []byte) {
	e.CompactPointers = append(e.CompactPointers, struct {
		Level int
		Key   []byte
	}{level, append([]byte(nil), key...)})
}

func (e *Edit) Encode() []byte {
	var buf bytes.Buffer
	if e.ComparatorName != "" {
		writeUvarint(&buf, tagComparator)
		writeBytes(&buf, []byte(e.ComparatorName))
	}
	if e.HasLogNumber {
		writeUvarint(&buf, tagLogNumber)
		writeUvarint(&buf, e.LogNumber)
	}
	if e.HasPrevLogNumber {
		writeUvarint(&buf, tagPrevLogNumber)
		writeUvarint(&buf, e.PrevLogNumber)
	}
	if e.HasNextFileNumber {
		writeUvarint(&buf, tagNextFileNumber)
		writeUvarint(&buf, e.NextFileNumber)
	}
	if e.HasLastSequence {
		writeUvarint(&buf, tagLastSequence)
		writeUvarint(&buf, e.LastSequence)
	}
	for _, cp := range e.CompactPointers {
		writeUvarint(&buf, tagCompactPointer)
		writeUvarint(&buf, uint64(cp.Level))
		writeBytes(&buf, cp.Key)
	}
	for _, df := range e.DeletedFiles {
		writeUvarint(&buf, tagDeletedFile)
		writeUvarint(&buf, uint64(df.Level))
		writeUvarint(&buf, df.FileNum)
	}
	for _, nf := range e.NewFiles {
		writeUvarint(&buf, tagNewFile)
		writeUvarint(&buf, uint64(nf.Level))
		writeUvarint(&buf, nf.Meta.Number)
		writeUvarint(&buf, nf.Meta.Size)
		writeBytes(&buf, nf.Meta.Smallest)
		writeBytes(&buf, nf.Meta.Largest)
	}
	return buf.Bytes()
}

func Decode(payload []byte) (*Edit, error) {
	r := bufio.NewReader(bytes.NewReader(payload))
	e := &Edit{}
	for {
		tag, err := binary.ReadUvarint(r)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, status.Corruptionf("version: bad edit tag: %v", err)
		}
		switch tag {
		case tagComparator:
			s, err := readBytes(r)
			if err != nil {
				return nil, err
			}
			e.ComparatorName = string(s)
		case tagLogNumber:
			n, err := readUvarint(r)
			if err != nil {
				return nil, err
			}
			e.LogNumber, e.HasLogNumber = n, true
		case tagPrevLogNumber:
			n, err := readUvarint(r)
			if err != nil {
				return nil, err
			}
			e.PrevLogNumber, e.HasPrevLogNumber = n, true
		case tagNextFileNumber:
			n, err := readUvarint(r)
			if err != nil {
				return nil, err
			}
			e.NextFileNumber, e.HasNextFileNumber = n, true
		case tagLastSequence:
			n, err := readUvarint(r)
			if err != nil {
				return nil, err
			}
			e.LastSequence, e.HasLastSequence = n, true
		case tagCompactPointer:
			level, err := readUvarint(r)
			if err != nil {
				return nil, err
			}
			key, err := readBytes(r)
			if err != nil {
				return nil, err
			}
			e.CompactPointers = append(e.CompactPointers, struct {
				Level int
				Key   []byte
			}{int(level), key})
		case tagDeletedFile:
			level, err := readUvarint(r)
			if err != nil {
				return nil, err
			}
			num, err := readUvarint(r)
			if err != nil {
				return nil, err
			}
			e.DeletedFiles = append(e.DeletedFiles, DeletedFileEntry{Level: int(level), FileNum: num})
		case tagNewFile:
			level, err := readUvarint(r)
			if err != nil {
				return nil, err
			}
			num, err := readUvarint(r)
			if err != nil {
				return nil, err
			}
			size, err := readUvarint(r)
			if err != nil {
				return nil, err
			}
			smallest, err := readBytes(r)
			if err != nil {
				return nil, err
			}
			largest, err := readBytes(r)
			if err != nil {
				return nil, err
			}
			meta := NewFileMetadata(num, size, smallest, largest)
			e.NewFiles = append(e.NewFiles, NewFileEntry{Level: int(level), Meta: meta})
		default:
			return nil, status.Corruptionf("version: unknown edit tag %d", tag)
		}
	}
	return e, nil
}

func writeUvarint(buf *bytes.Buffer, v uint64) {
	var tmp [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(tmp[:], v)
	buf.Write(tmp[:n])
}

func writeBytes(buf *bytes.Buffer, p []byte) {
	writeUvarint(buf, uint64(len(p)))
	buf.Write(p)
}

func readUvarint(r *bufio.Reader) (uint64, error) {
	u, err := binary.ReadUvarint(r)
	if err != nil {
		return 0, status.Corruptionf("version: truncated edit field: %v", err)
	}
	return u, nil
}

func readBytes(r *bufio.Reader) ([]byte, error) {
	n, err := readUvarint(r)
	if err != nil {
		return nil, err
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return nil, status.Corruptionf("version: truncated edit bytes: %v", err)
	}
	return b, nil
}
