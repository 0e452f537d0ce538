package domain

// Classification says whether a document's content is primarily
// machine-extractable text/structure or primarily image-based.
type Classification string

const (
	ClassStructured Classification = "structured"
	ClassScanned    Classification = "scanned"
)

// Document is an immutable byte buffer plus what the validator derived from
// it. Stages that "change" a document produce a new Document; the buffer is
// never mutated after ingestion.
type Document struct {
	bytes     []byte
	FileName  string
	FileType  string
	Size      int64
	PageCount int
	Class     Classification
}

// NewDocument copies data into a fresh Document.
func NewDocument(data []byte, fileName, fileType string) Document {
	buf := make([]byte, len(data))
	copy(buf, data)
	return Document{
		bytes:    buf,
		FileName: fileName,
		FileType: fileType,
		Size:     int64(len(buf)),
	}
}

// WithBytes returns a new Document carrying the given buffer and the same
// metadata. Used by stages that rewrite the document.
func (d Document) WithBytes(data []byte) Document {
	buf := make([]byte, len(data))
	copy(buf, data)
	out := d
	out.bytes = buf
	out.Size = int64(len(buf))
	return out
}

// Bytes returns a copy of the document buffer.
func (d Document) Bytes() []byte {
	buf := make([]byte, len(d.bytes))
	copy(buf, d.bytes)
	return buf
}

// Len returns the buffer length without copying.
func (d Document) Len() int { return len(d.bytes) }

// Raw returns the underlying buffer without copying. Callers must not
// mutate it.
func (d Document) Raw() []byte { return d.bytes }
