// Package persistence implements the binary frame format shared by the
// round journal and the wire protocol, and the append-only journal itself.
package persistence

import (
	"encoding/binary"
	"errors"
	"hash/crc32"
	"io"
)

// Constants for the binary frame format.
const (
	// MagicByte is the marker used to identify the start of a valid frame.
	// It helps in scanning for recovery if the file is heavily corrupted.
	MagicByte = 0xA5

	// HeaderSize is the fixed size of the frame metadata:
	// 1 byte (Magic) + 1 byte (Flags) + 4 bytes (Length) + 4 bytes (CRC32) = 10 bytes.
	HeaderSize = 10

	// FlagLast marks the final (or only) frame of a message.
	FlagLast = 0x01
	// FlagMore marks a frame that is followed by more frames of the same message.
	FlagMore = 0x02

	// MaxPayloadSize bounds a single frame so a corrupt length cannot trigger
	// an arbitrarily large allocation.
	MaxPayloadSize = 256 << 20
)

var (
	// ErrInvalidMagic indicates the stream lost synchronization or is not framed data.
	ErrInvalidMagic = errors.New("invalid magic byte")
	// ErrInvalidFlags indicates a frame header with an unknown flag byte.
	ErrInvalidFlags = errors.New("invalid frame flags")
	// ErrChecksumMismatch indicates data corruption within the frame payload.
	ErrChecksumMismatch = errors.New("crc32 checksum mismatch")
	// ErrIncompleteFrame indicates the stream ended in the middle of a frame.
	ErrIncompleteFrame = errors.New("incomplete frame")
	// ErrFrameTooLarge indicates a declared payload above MaxPayloadSize.
	ErrFrameTooLarge = errors.New("frame too large")
)

// FrameWriter handles the safe writing of binary frames to an io.Writer.
type FrameWriter struct {
	w io.Writer
}

// NewFrameWriter creates a writer that wraps an underlying io.Writer.
func NewFrameWriter(w io.Writer) *FrameWriter {
	return &FrameWriter{w: w}
}

// WriteFrame encodes the payload into a binary frame and writes it.
// Frame Format: [Magic(1)][Flags(1)][Length(4)][CRC(4)][Payload(N)]
func (fw *FrameWriter) WriteFrame(flags byte, payload []byte) error {
	if len(payload) > MaxPayloadSize {
		return ErrFrameTooLarge
	}

	header := make([]byte, HeaderSize)
	header[0] = MagicByte
	header[1] = flags
	binary.LittleEndian.PutUint32(header[2:6], uint32(len(payload)))
	binary.LittleEndian.PutUint32(header[6:10], crc32.ChecksumIEEE(payload))

	// Header and payload go out as two writes; wrap fw.w in a bufio.Writer
	// when the pair must reach the OS as one syscall.
	if _, err := fw.w.Write(header); err != nil {
		return err
	}
	if _, err := fw.w.Write(payload); err != nil {
		return err
	}
	return nil
}

// WriteMessage writes frames as one message: every frame but the last carries
// FlagMore. An empty message is written as a single empty frame.
func (fw *FrameWriter) WriteMessage(frames [][]byte) error {
	if len(frames) == 0 {
		return fw.WriteFrame(FlagLast, nil)
	}
	for i, f := range frames {
		flags := byte(FlagMore)
		if i == len(frames)-1 {
			flags = FlagLast
		}
		if err := fw.WriteFrame(flags, f); err != nil {
			return err
		}
	}
	return nil
}

// ReadFrame reads the next frame from the reader.
// It validates the Magic Byte, the flags and the CRC32 Checksum.
// Returns the flags, the payload, the total bytes read (header + payload), and an error.
func ReadFrame(r io.Reader) (byte, []byte, int, error) {
	header := make([]byte, HeaderSize)

	if _, err := io.ReadFull(r, header); err != nil {
		// EOF exactly at a frame boundary is a clean end of stream.
		if err == io.EOF {
			return 0, nil, 0, io.EOF
		}
		return 0, nil, 0, ErrIncompleteFrame
	}

	if header[0] != MagicByte {
		return 0, nil, HeaderSize, ErrInvalidMagic
	}
	flags := header[1]
	if flags != FlagLast && flags != FlagMore {
		return 0, nil, HeaderSize, ErrInvalidFlags
	}

	length := binary.LittleEndian.Uint32(header[2:6])
	expectedCRC := binary.LittleEndian.Uint32(header[6:10])
	if length > MaxPayloadSize {
		return 0, nil, HeaderSize, ErrFrameTooLarge
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return 0, nil, HeaderSize, ErrIncompleteFrame
	}

	if crc32.ChecksumIEEE(payload) != expectedCRC {
		return 0, nil, HeaderSize + int(length), ErrChecksumMismatch
	}

	return flags, payload, HeaderSize + int(length), nil
}

// ReadMessage reads frames until one carries FlagLast. maxFrames bounds the
// number of frames accepted (0 means no bound).
func ReadMessage(r io.Reader, maxFrames int) ([][]byte, error) {
	var frames [][]byte
	for {
		flags, payload, _, err := ReadFrame(r)
		if err != nil {
			if err == io.EOF && len(frames) > 0 {
				return nil, ErrIncompleteFrame
			}
			return nil, err
		}
		frames = append(frames, payload)
		if flags == FlagLast {
			return frames, nil
		}
		if maxFrames > 0 && len(frames) >= maxFrames {
			return nil, ErrFrameTooLarge
		}
	}
}
