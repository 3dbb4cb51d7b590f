package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

var (
	// ErrNotWAV is returned when the input has no RIFF/WAVE header.
	ErrNotWAV = errors.New("not a RIFF/WAVE file")
	// ErrUnsupportedFormat is returned for anything but 16-bit integer PCM.
	ErrUnsupportedFormat = errors.New("unsupported WAV format")
)

const (
	formatPCM        = 1
	formatExtensible = 0xFFFE
)

// Clip is decoded mono 16-bit audio.
type Clip struct {
	SampleRate int
	Samples    []int16
}

// DurationMs returns the clip length in milliseconds.
func (c Clip) DurationMs() int64 {
	if c.SampleRate == 0 {
		return 0
	}
	return int64(len(c.Samples)) * 1000 / int64(c.SampleRate)
}

// DecodeWAV reads a 16-bit PCM WAV stream and downmixes it to mono.
// Chunks other than "fmt " and "data" are skipped.
func DecodeWAV(r io.Reader) (Clip, error) {
	var riff [12]byte
	if _, err := io.ReadFull(r, riff[:]); err != nil {
		return Clip{}, fmt.Errorf("read header: %w", err)
	}
	if string(riff[0:4]) != "RIFF" || string(riff[8:12]) != "WAVE" {
		return Clip{}, ErrNotWAV
	}

	var (
		channels   int
		sampleRate int
		haveFmt    bool
	)
	for {
		var hdr [8]byte
		if _, err := io.ReadFull(r, hdr[:]); err != nil {
			if errors.Is(err, io.EOF) {
				return Clip{}, fmt.Errorf("%w: no data chunk", ErrNotWAV)
			}
			return Clip{}, fmt.Errorf("read chunk header: %w", err)
		}
		id := string(hdr[0:4])
		size := int64(binary.LittleEndian.Uint32(hdr[4:8]))

		switch id {
		case "fmt ":
			if size < 16 {
				return Clip{}, fmt.Errorf("%w: fmt chunk too short", ErrNotWAV)
			}
			body := make([]byte, size)
			if _, err := io.ReadFull(r, body); err != nil {
				return Clip{}, fmt.Errorf("read fmt chunk: %w", err)
			}
			format := binary.LittleEndian.Uint16(body[0:2])
			channels = int(binary.LittleEndian.Uint16(body[2:4]))
			sampleRate = int(binary.LittleEndian.Uint32(body[4:8]))
			bits := binary.LittleEndian.Uint16(body[14:16])
			if (format != formatPCM && format != formatExtensible) || bits != 16 {
				return Clip{}, fmt.Errorf("%w: format=%d bits=%d", ErrUnsupportedFormat, format, bits)
			}
			if channels < 1 || sampleRate < 1 {
				return Clip{}, fmt.Errorf("%w: channels=%d rate=%d", ErrUnsupportedFormat, channels, sampleRate)
			}
			haveFmt = true
			if size%2 == 1 {
				io.CopyN(io.Discard, r, 1)
			}

		case "data":
			if !haveFmt {
				return Clip{}, fmt.Errorf("%w: data before fmt", ErrNotWAV)
			}
			// Streams written without a known length carry 0 or 0xFFFFFFFF.
			var data []byte
			var err error
			if size == 0 || size == 0xFFFFFFFF {
				data, err = io.ReadAll(r)
			} else {
				data = make([]byte, size)
				var n int
				n, err = io.ReadFull(r, data)
				if errors.Is(err, io.ErrUnexpectedEOF) {
					data, err = data[:n], nil
				}
			}
			if err != nil {
				return Clip{}, fmt.Errorf("read data chunk: %w", err)
			}
			return Clip{SampleRate: sampleRate, Samples: downmix(data, channels)}, nil

		default:
			if _, err := io.CopyN(io.Discard, r, size+size%2); err != nil {
				return Clip{}, fmt.Errorf("skip %q chunk: %w", id, err)
			}
		}
	}
}

// downmix averages interleaved little-endian 16-bit channels into one.
func downmix(data []byte, channels int) []int16 {
	frameBytes := 2 * channels
	n := len(data) / frameBytes
	out := make([]int16, n)
	for i := 0; i < n; i++ {
		var sum int
		for c := 0; c < channels; c++ {
			off := i*frameBytes + 2*c
			sum += int(int16(binary.LittleEndian.Uint16(data[off:])))
		}
		out[i] = int16(sum / channels)
	}
	return out
}

// Resample converts samples from one rate to another by linear interpolation.
func Resample(samples []int16, from, to int) []int16 {
	if from == to || len(samples) == 0 || from <= 0 || to <= 0 {
		return samples
	}
	n := int(int64(len(samples)) * int64(to) / int64(from))
	out := make([]int16, n)
	step := float64(from) / float64(to)
	last := len(samples) - 1
	for i := range out {
		pos := float64(i) * step
		j := int(pos)
		if j >= last {
			out[i] = samples[last]
			continue
		}
		frac := pos - float64(j)
		out[i] = int16(float64(samples[j])*(1-frac) + float64(samples[j+1])*frac)
	}
	return out
}

// EncodePCM writes samples as little-endian 16-bit PCM.
func EncodePCM(samples []int16) []byte {
	out := make([]byte, 2*len(samples))
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[2*i:], uint16(s))
	}
	return out
}
