package waveform

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

const (
	// flatChunkSamples is the read granularity reported for Flat files
	flatChunkSamples = 1 << 16

	// flatSpanBytes bounds a single contiguous ReadAt when picking strided samples
	flatSpanBytes = 1 << 20

	// flatSparseStride is the stride (in bytes) beyond which samples are read one at a time
	flatSparseStride = 4096
)

// Metadata describes the acquisition settings of a Flat recording. It is read
// from a JSON file sharing the recording's base name.
type Metadata struct {
	SampleRate     float64 `json:"sample_rate"`
	ADCBits        int     `json:"adc_bits"`
	ADCVref        float64 `json:"adc_vref"`
	TIAGain        float64 `json:"tia_gain"`
	PreADCGain     float64 `json:"pre_adc_gain"`
	PAOffset       float64 `json:"pa_offset"`
	BytesPerSample int     `json:"bytes_per_sample,omitempty"`
	Channels       int     `json:"channels,omitempty"`
}

// Scaling returns the bit mask and affine coefficients that turn a raw code
// into a physical value: (raw & mask) * mul + add.
func (m Metadata) Scaling() (mask uint64, mul, add float64) {
	width := uint(m.width() * 8)
	full := uint64(1)<<width - 1
	mask = full - (uint64(1)<<(width-uint(m.ADCBits)) - 1)

	gain := m.TIAGain * m.PreADCGain
	mul = 2 * m.ADCVref / float64(uint64(1)<<width) / gain
	add = m.PAOffset - m.ADCVref/gain
	return mask, mul, add
}

func (m Metadata) width() int {
	if m.BytesPerSample == 0 {
		return 2
	}
	return m.BytesPerSample
}

func (m Metadata) channels() int {
	if m.Channels == 0 {
		return 1
	}
	return m.Channels
}

func (m Metadata) validate() error {
	switch {
	case m.SampleRate <= 0:
		return fmt.Errorf("%w: sample_rate must be positive", ErrFormat)
	case m.width() != 2 && m.width() != 4:
		return fmt.Errorf("%w: bytes_per_sample must be 2 or 4, got %d", ErrFormat, m.BytesPerSample)
	case m.ADCBits <= 0 || m.ADCBits > m.width()*8:
		return fmt.Errorf("%w: adc_bits %d does not fit %d-byte samples", ErrFormat, m.ADCBits, m.width())
	case m.TIAGain*m.PreADCGain == 0:
		return fmt.Errorf("%w: tia_gain and pre_adc_gain must be non-zero", ErrFormat)
	case m.Channels < 0:
		return fmt.Errorf("%w: channels must not be negative", ErrFormat)
	}
	return nil
}

// metadataPath returns the companion metadata file for a Flat recording.
func metadataPath(path string) string {
	return strings.TrimSuffix(path, filepath.Ext(path)) + ".json"
}

// ReadMetadata loads the companion metadata of the Flat recording at path.
func ReadMetadata(path string) (*Metadata, error) {
	data, err := os.ReadFile(metadataPath(path))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrMissingMetadata, metadataPath(path))
		}
		return nil, fmt.Errorf("read metadata: %w", err)
	}

	var meta Metadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("%w: unmarshal metadata: %v", ErrFormat, err)
	}
	if err := meta.validate(); err != nil {
		return nil, err
	}
	return &meta, nil
}

// flatFile is a raw little-endian unsigned integer array, channels interleaved.
type flatFile struct {
	f        *os.File
	meta     Metadata
	width    int
	nchans   int
	n        int
	mask     uint64
	mul, add float64
}

func openFlat(path string) (*flatFile, error) {
	meta, err := ReadMetadata(path)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to stat %s: %w", path, err)
	}

	frame := int64(meta.width() * meta.channels())
	if info.Size()%frame != 0 {
		f.Close()
		return nil, fmt.Errorf("%w: size %d is not a multiple of %d-byte frames", ErrFormat, info.Size(), frame)
	}

	mask, mul, add := meta.Scaling()
	return &flatFile{
		f:      f,
		meta:   *meta,
		width:  meta.width(),
		nchans: meta.channels(),
		n:      int(info.Size() / frame),
		mask:   mask,
		mul:    mul,
		add:    add,
	}, nil
}

func (ff *flatFile) format() string       { return "flat" }
func (ff *flatFile) sampleRate() float64  { return ff.meta.SampleRate }
func (ff *flatFile) length() int          { return ff.n }
func (ff *flatFile) channels() int        { return ff.nchans }
func (ff *flatFile) blockSize() int       { return flatChunkSamples }
func (ff *flatFile) close() error         { return ff.f.Close() }
func (ff *flatFile) offset(i, ch int) int { return (i*ff.nchans + ch) * ff.width }

func (ff *flatFile) decode(b []byte) float64 {
	var raw uint64
	if ff.width == 2 {
		raw = uint64(binary.LittleEndian.Uint16(b))
	} else {
		raw = uint64(binary.LittleEndian.Uint32(b))
	}
	return float64(raw&ff.mask)*ff.mul + ff.add
}

func (ff *flatFile) read(ch, first, n, stride int) ([]float64, error) {
	out := make([]float64, 0, n)
	strideBytes := stride * ff.nchans * ff.width

	// Wide strides: skipped samples are never read.
	if strideBytes > flatSparseStride {
		buf := make([]byte, ff.width)
		for k := 0; k < n; k++ {
			if _, err := ff.f.ReadAt(buf, int64(ff.offset(first+k*stride, ch))); err != nil {
				return nil, fmt.Errorf("failed to read sample %d: %w", first+k*stride, err)
			}
			out = append(out, ff.decode(buf))
		}
		return out, nil
	}

	// Narrow strides: read bounded contiguous spans and pick from them.
	perSpan := max(1, flatSpanBytes/strideBytes)
	buf := make([]byte, 0, flatSpanBytes+strideBytes)
	for k := 0; k < n; k += perSpan {
		count := min(perSpan, n-k)
		idx := first + k*stride
		start := ff.offset(idx, ch)
		size := (count-1)*strideBytes + ff.width

		buf = buf[:size]
		if _, err := ff.f.ReadAt(buf, int64(start)); err != nil {
			return nil, fmt.Errorf("failed to read samples at %d: %w", idx, err)
		}
		for j := 0; j < count; j++ {
			out = append(out, ff.decode(buf[j*strideBytes:]))
		}
	}
	return out, nil
}
