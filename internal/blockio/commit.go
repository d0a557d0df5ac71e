package blockio

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// CommitRecord is one frame in a table's append-only commit log, matching
// spec.md §6's on-disk layout:
//
//	[u32 length][payload][u64 timestamp][32 merkle_root][32 parent_root][u32 schema_version][u32 crc32]
//
// length covers only the payload field; timestamp is Unix nanoseconds.
type CommitRecord struct {
	Payload       []byte
	Timestamp     time.Time
	MerkleRoot    [32]byte
	ParentRoot    [32]byte
	SchemaVersion uint32
}

// ErrTruncated is returned by ReadCommitRecord when the reader ends
// mid-frame, the signature of a crash during append.
var ErrTruncated = errors.New("blockio: truncated commit record")

// ErrCorrupt is returned when a frame's CRC32 does not match its
// contents.
var ErrCorrupt = errors.New("blockio: commit record checksum mismatch")

const fixedTrailerSize = 8 + 32 + 32 + 4 + 4 // timestamp + merkle + parent + schema_version + crc32

// Encode serializes the record into its on-disk frame.
func (r CommitRecord) Encode() []byte {
	buf := make([]byte, 4+len(r.Payload)+fixedTrailerSize)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(len(r.Payload)))
	copy(buf[4:], r.Payload)

	off := 4 + len(r.Payload)
	binary.LittleEndian.PutUint64(buf[off:off+8], uint64(r.Timestamp.UnixNano()))
	off += 8
	copy(buf[off:off+32], r.MerkleRoot[:])
	off += 32
	copy(buf[off:off+32], r.ParentRoot[:])
	off += 32
	binary.LittleEndian.PutUint32(buf[off:off+4], r.SchemaVersion)
	off += 4

	crc := crc32.ChecksumIEEE(buf[:off])
	binary.LittleEndian.PutUint32(buf[off:off+4], crc)
	return buf
}

// WriteCommitRecord appends the encoded frame to w.
func WriteCommitRecord(w io.Writer, r CommitRecord) error {
	_, err := w.Write(r.Encode())
	if err != nil {
		return fmt.Errorf("blockio: write commit record: %w", err)
	}
	return nil
}

// ReadCommitRecord decodes one frame from r. It returns ErrTruncated if
// fewer bytes are available than the frame declares (the tail of a log
// left by a crash mid-append) and ErrCorrupt if the checksum fails.
func ReadCommitRecord(r io.Reader) (CommitRecord, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		if errors.Is(err, io.EOF) {
			return CommitRecord{}, io.EOF
		}
		return CommitRecord{}, fmt.Errorf("%w: %v", ErrTruncated, err)
	}
	payloadLen := binary.LittleEndian.Uint32(lenBuf[:])

	rest := make([]byte, int(payloadLen)+fixedTrailerSize)
	if _, err := io.ReadFull(r, rest); err != nil {
		return CommitRecord{}, ErrTruncated
	}

	full := append(lenBuf[:], rest...)
	crcOff := len(full) - 4
	wantCRC := binary.LittleEndian.Uint32(full[crcOff:])
	gotCRC := crc32.ChecksumIEEE(full[:crcOff])
	if wantCRC != gotCRC {
		return CommitRecord{}, ErrCorrupt
	}

	var rec CommitRecord
	rec.Payload = append([]byte(nil), rest[:payloadLen]...)
	off := int(payloadLen)
	rec.Timestamp = time.Unix(0, int64(binary.LittleEndian.Uint64(rest[off:off+8]))).UTC()
	off += 8
	copy(rec.MerkleRoot[:], rest[off:off+32])
	off += 32
	copy(rec.ParentRoot[:], rest[off:off+32])
	off += 32
	rec.SchemaVersion = binary.LittleEndian.Uint32(rest[off : off+4])

	return rec, nil
}

// AppendCommitRecord opens path for append (creating it if necessary) and
// writes one frame. The single-writer lock guarding concurrent appenders
// lives in the lockfile package, one level up.
//
// The open-write-fsync sequence is retried once with a short backoff on
// failure: transient StorageError conditions (an NFS mount momentarily
// unavailable, a full inode table reclaimed by a concurrent GC) are worth
// one retry before surfacing to the caller, per spec §7's StorageError
// handling.
func AppendCommitRecord(path string, r CommitRecord) error {
	policy := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 1)
	return backoff.Retry(func() error {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("blockio: open %s for append: %w", path, err)
		}
		defer f.Close()

		if err := WriteCommitRecord(f, r); err != nil {
			return err
		}
		return f.Sync()
	}, policy)
}

// IterateCommitRecords reads every well-formed frame in path in order,
// invoking fn for each. If the log's tail is truncated by a crash
// mid-append, iteration stops silently at the last complete frame rather
// than returning an error: this is the crash-safe recovery behavior the
// timeline relies on. A checksum mismatch on an otherwise complete frame
// is still reported, since that indicates corruption rather than a
// partial write.
func IterateCommitRecords(path string, fn func(CommitRecord) error) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("blockio: open %s: %w", path, err)
	}
	defer f.Close()

	br := bufio.NewReader(f)
	for {
		rec, err := ReadCommitRecord(br)
		if errors.Is(err, io.EOF) || errors.Is(err, ErrTruncated) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("blockio: iterate %s: %w", path, err)
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
}
