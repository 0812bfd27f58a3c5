package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
)

var ErrNotWAV = errors.New("not a RIFF/WAVE file")

// WAVFormat is the subset of the fmt chunk recognizers care about.
type WAVFormat struct {
	AudioFormat   uint16
	Channels      uint16
	SampleRate    uint32
	BitsPerSample uint16
}

func (f WAVFormat) String() string {
	return fmt.Sprintf("%d Hz, %d ch, %d-bit", f.SampleRate, f.Channels, f.BitsPerSample)
}

// Recognizable reports whether the samples can be fed as-is: PCM16 mono at
// SampleRate.
func (f WAVFormat) Recognizable() bool {
	return f.AudioFormat == 1 && f.Channels == Channels && f.SampleRate == SampleRate && f.BitsPerSample == 16
}

type chunkHeader struct {
	ID   [4]byte
	Size uint32
}

// DecodeWAV walks the RIFF chunks and returns the fmt description and the
// raw bytes of the data chunk.
func DecodeWAV(r io.Reader) (WAVFormat, []byte, error) {
	var riff struct {
		ID   [4]byte
		Size uint32
		Wave [4]byte
	}
	if err := binary.Read(r, binary.LittleEndian, &riff); err != nil {
		return WAVFormat{}, nil, fmt.Errorf("%w: %v", ErrNotWAV, err)
	}
	if string(riff.ID[:]) != "RIFF" || string(riff.Wave[:]) != "WAVE" {
		return WAVFormat{}, nil, ErrNotWAV
	}

	var format WAVFormat
	haveFmt := false
	for {
		var ch chunkHeader
		if err := binary.Read(r, binary.LittleEndian, &ch); err != nil {
			return WAVFormat{}, nil, fmt.Errorf("reading chunk header: %w", err)
		}
		switch string(ch.ID[:]) {
		case "fmt ":
			body := make([]byte, ch.Size)
			if _, err := io.ReadFull(r, body); err != nil {
				return WAVFormat{}, nil, fmt.Errorf("reading fmt chunk: %w", err)
			}
			if len(body) < 16 {
				return WAVFormat{}, nil, fmt.Errorf("fmt chunk too short: %d bytes", len(body))
			}
			format = WAVFormat{
				AudioFormat:   binary.LittleEndian.Uint16(body[0:]),
				Channels:      binary.LittleEndian.Uint16(body[2:]),
				SampleRate:    binary.LittleEndian.Uint32(body[4:]),
				BitsPerSample: binary.LittleEndian.Uint16(body[14:]),
			}
			haveFmt = true
		case "data":
			if !haveFmt {
				return WAVFormat{}, nil, errors.New("data chunk before fmt chunk")
			}
			data, err := io.ReadAll(io.LimitReader(r, int64(ch.Size)))
			if err != nil {
				return WAVFormat{}, nil, fmt.Errorf("reading data chunk: %w", err)
			}
			return format, data, nil
		default:
			// chunks are word aligned
			skip := int64(ch.Size) + int64(ch.Size&1)
			if _, err := io.CopyN(io.Discard, r, skip); err != nil {
				return WAVFormat{}, nil, fmt.Errorf("skipping %q chunk: %w", ch.ID, err)
			}
		}
	}
}

// LoadWAV reads a recording that can be fed to a recognizer unchanged.
func LoadWAV(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	format, pcm, err := DecodeWAV(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if !format.Recognizable() {
		return nil, fmt.Errorf("%s: unsupported format %s, want %d Hz mono 16-bit PCM", path, format, SampleRate)
	}
	return pcm, nil
}

// EncodeWAV wraps PCM16 mono samples at SampleRate in a canonical 44-byte
// header.
func EncodeWAV(pcm []byte) []byte {
	var buf bytes.Buffer
	buf.Grow(WAVHeaderSize + len(pcm))
	byteRate := uint32(SampleRate * Channels * BytesPerFrame)
	header := []any{
		[4]byte{'R', 'I', 'F', 'F'}, uint32(36 + len(pcm)), [4]byte{'W', 'A', 'V', 'E'},
		[4]byte{'f', 'm', 't', ' '}, uint32(16),
		uint16(1), uint16(Channels), uint32(SampleRate), byteRate,
		uint16(Channels * BytesPerFrame), uint16(16),
		[4]byte{'d', 'a', 't', 'a'}, uint32(len(pcm)),
	}
	for _, v := range header {
		binary.Write(&buf, binary.LittleEndian, v)
	}
	buf.Write(pcm)
	return buf.Bytes()
}
