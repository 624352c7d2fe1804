package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// wavData is the decoded payload of a RIFF/WAV file: raw PCM bytes for the
// frame-oriented VAD pass plus the same data as int16 samples for the
// energy scans.
type wavData struct {
	sampleRate int
	channels   int
	data       []byte
	samples    []int16
}

// decodeWAV parses a RIFF/WAV container holding 16-bit signed
// little-endian PCM. Chunks other than "fmt " and "data" are skipped, so
// files carrying LIST/INFO metadata decode fine. Compressed or non-16-bit
// formats are rejected.
func decodeWAV(raw []byte) (*wavData, error) {
	if len(raw) < 12 || string(raw[0:4]) != "RIFF" || string(raw[8:12]) != "WAVE" {
		return nil, errors.New("not a RIFF/WAVE file")
	}

	var (
		fmtSeen    bool
		audioFmt   uint16
		channels   uint16
		sampleRate uint32
		bits       uint16
		data       []byte
	)

	off := 12
	for off+8 <= len(raw) {
		id := string(raw[off : off+4])
		size := int(binary.LittleEndian.Uint32(raw[off+4 : off+8]))
		body := off + 8
		if size < 0 || body+size > len(raw) {
			// Truncated chunk: tolerate a short final data chunk, reject
			// anything else.
			if id == "data" && body <= len(raw) {
				size = len(raw) - body
			} else {
				return nil, fmt.Errorf("chunk %q exceeds file size", id)
			}
		}

		switch id {
		case "fmt ":
			if size < 16 {
				return nil, fmt.Errorf("fmt chunk too short (%d bytes)", size)
			}
			audioFmt = binary.LittleEndian.Uint16(raw[body : body+2])
			channels = binary.LittleEndian.Uint16(raw[body+2 : body+4])
			sampleRate = binary.LittleEndian.Uint32(raw[body+4 : body+8])
			bits = binary.LittleEndian.Uint16(raw[body+14 : body+16])
			fmtSeen = true
		case "data":
			data = raw[body : body+size]
		}

		// Chunks are word-aligned; odd sizes carry one pad byte.
		off = body + size
		if size%2 == 1 {
			off++
		}
	}

	if !fmtSeen {
		return nil, errors.New("missing fmt chunk")
	}
	if data == nil {
		return nil, errors.New("missing data chunk")
	}
	if audioFmt != 1 {
		return nil, fmt.Errorf("unsupported audio format %d (want PCM)", audioFmt)
	}
	if bits != 16 {
		return nil, fmt.Errorf("unsupported bit depth %d (want 16)", bits)
	}
	if channels < 1 {
		return nil, errors.New("invalid channel count 0")
	}
	if sampleRate == 0 {
		return nil, errors.New("invalid sample rate 0")
	}

	// Decode to int16; an odd trailing byte is dropped.
	n := len(data) / 2
	samples := make([]int16, n)
	for i := 0; i < n; i++ {
		samples[i] = int16(data[i*2]) | int16(data[i*2+1])<<8
	}

	return &wavData{
		sampleRate: int(sampleRate),
		channels:   int(channels),
		data:       data[:n*2],
		samples:    samples,
	}, nil
}
