package cassblob

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	chunker "github.com/ipfs/boxo/chunker"
)

// Identifies a blob within a keyspace.
type BlobKey int32

type Flags int64

const (
	FlagCheckFailed Flags = 1 << iota
	// All writes of the current version of the blob are durable. Readers must not trust a control
	// row without it.
	FlagComplete
	FlagGzip
	FlagNot4Gbu
	FlagWithdrawn
	FlagSuppress
	FlagDead
)

func (me Flags) Has(f Flags) bool {
	return me&f == f
}

// BlobRecord is a blob ready to be stored: metadata and content already split into chunks. It's
// read-only to tasks.
type BlobRecord struct {
	size     int64
	modified int64
	flags    Flags
	chunks   [][]byte
}

func NewBlobRecord(modified int64, flags Flags) *BlobRecord {
	return &BlobRecord{
		modified: modified,
		flags:    flags,
	}
}

// Splits data into chunks of at most chunkSize bytes.
func SplitBlob(data []byte, chunkSize int, modified int64, flags Flags) *BlobRecord {
	if chunkSize <= 0 {
		panic(fmt.Sprintf("invalid chunk size %v", chunkSize))
	}
	ret := NewBlobRecord(modified, flags)
	for len(data) > 0 {
		n := min(chunkSize, len(data))
		ret.AppendChunk(data[:n:n])
		data = data[n:]
	}
	return ret
}

// Reads r to the end, chunking it into pieces of chunkSize bytes. An empty stream gives a record with
// no chunks.
func NewBlobRecordFromReader(r io.Reader, chunkSize int64, modified int64, flags Flags) (*BlobRecord, error) {
	if chunkSize <= 0 {
		return nil, fmt.Errorf("invalid chunk size %v", chunkSize)
	}
	ret := NewBlobRecord(modified, flags)
	splitter := chunker.NewSizeSplitter(r, chunkSize)
	for {
		b, err := splitter.NextBytes()
		if errors.Is(err, io.EOF) {
			return ret, nil
		}
		if err != nil {
			return nil, fmt.Errorf("reading chunk %v: %w", ret.NChunks(), err)
		}
		ret.AppendChunk(b)
	}
}

func (me *BlobRecord) AppendChunk(b []byte) {
	me.chunks = append(me.chunks, b)
	me.size += int64(len(b))
}

// Overrides the size implied by the chunks, for records that carry metadata only.
func (me *BlobRecord) SetSize(size int64) {
	me.size = size
}

func (me *BlobRecord) Size() int64 {
	return me.size
}

func (me *BlobRecord) Modified() int64 {
	return me.modified
}

func (me *BlobRecord) Flags() Flags {
	return me.flags
}

func (me *BlobRecord) NChunks() int {
	return len(me.chunks)
}

func (me *BlobRecord) Chunk(i int) []byte {
	return me.chunks[i]
}

// The content as stored inline in the control row. Never nil, so that an empty blob is stored as an
// empty value rather than null.
func (me *BlobRecord) inlineData() []byte {
	if len(me.chunks) == 1 {
		return me.chunks[0]
	}
	return bytes.Join(me.chunks, nil)
}
