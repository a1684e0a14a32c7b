// Package wavetest writes small Flat and Blocked recordings for tests.
package wavetest

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"strings"

	"github.com/linuxmatters/poreflow/internal/waveform"
)

// DefaultMetadata is a plausible 16-bit acquisition setup.
func DefaultMetadata(sampleRate float64) waveform.Metadata {
	return waveform.Metadata{
		SampleRate: sampleRate,
		ADCBits:    14,
		ADCVref:    2.5,
		TIAGain:    1e8,
		PreADCGain: 9.952,
		PAOffset:   0,
	}
}

// WriteFlat writes raw codes (channels interleaved) to path and the metadata
// to its companion JSON file.
func WriteFlat(path string, meta waveform.Metadata, codes []uint64) error {
	width := meta.BytesPerSample
	if width == 0 {
		width = 2
	}

	buf := make([]byte, 0, len(codes)*width)
	for _, c := range codes {
		if width == 2 {
			buf = binary.LittleEndian.AppendUint16(buf, uint16(c))
		} else {
			buf = binary.LittleEndian.AppendUint32(buf, uint32(c))
		}
	}
	if err := os.WriteFile(path, buf, 0o644); err != nil {
		return err
	}

	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return err
	}
	base := strings.TrimSuffix(path, ".log")
	return os.WriteFile(base+".json", data, 0o644)
}

// FlatCodes inverts the Flat scaling, returning the masked raw code nearest
// to each physical value.
func FlatCodes(meta waveform.Metadata, values []float64) []uint64 {
	mask, mul, add := meta.Scaling()
	codes := make([]uint64, len(values))
	for i, v := range values {
		c := math.Round((v - add) / mul)
		if c < 0 {
			c = 0
		}
		codes[i] = uint64(c) & mask
	}
	return codes
}

// Blocked describes a Blocked file to write.
type Blocked struct {
	SamplingInterval float64
	PointsPerBlock   int
	Text             []string

	// PointsPerBlockType is the declared type of the points-per-block value.
	// Empty means U32.
	PointsPerBlockType waveform.DataType

	// Samples holds raw codes per channel; every channel must be a whole
	// number of blocks long.
	Samples [][]int16

	// Scale returns the scale factor for a block and channel. Nil means 1.
	Scale func(block, channel int) float64

	// TrailingBytes appends garbage after the last block.
	TrailingBytes int
}

func writeList(buf []byte, entries [][2]string) []byte {
	buf = append(buf, 0, 0, 0, byte(len(entries)))
	for _, e := range entries {
		buf = append(buf, e[0]+"\t"+e[1]+"\r\n"...)
	}
	return buf
}

// Encode returns the bytes of a Blocked file.
func (b Blocked) Encode() ([]byte, error) {
	if len(b.Samples) == 0 {
		return nil, fmt.Errorf("no channels")
	}
	n := len(b.Samples[0])
	if n%b.PointsPerBlock != 0 {
		return nil, fmt.Errorf("%d samples is not a whole number of %d-point blocks", n, b.PointsPerBlock)
	}

	ppbType := b.PointsPerBlockType
	if ppbType == 0 {
		ppbType = waveform.U32
	}

	buf := []byte(waveform.BlockedBanner + "\r\n")
	for _, line := range b.Text {
		buf = append(buf, line+"\r\n"...)
	}
	buf = append(buf, waveform.BlockedEndMarker+"\r\n"...)

	buf = writeList(buf, [][2]string{
		{"Acquisition", "U16"},
		{waveform.ParamPointsPerBlock, ppbType.String()},
		{waveform.ParamSamplingInterval, "DBL"},
	})
	buf = writeList(buf, [][2]string{{"Block index", "U32"}, {"Timestamp", "U64"}})
	buf = writeList(buf, [][2]string{{"Offset", "SGL"}, {waveform.ParamScale, "DBL"}})

	names := make([][2]string, len(b.Samples))
	for ch := range names {
		names[ch] = [2]string{fmt.Sprintf("Channel %d", ch), "I16"}
	}
	buf = writeList(buf, names)

	buf = waveform.U16.Append(buf, 1)
	buf = ppbType.Append(buf, float64(b.PointsPerBlock))
	buf = waveform.DBL.Append(buf, b.SamplingInterval)

	for block := 0; block < n/b.PointsPerBlock; block++ {
		buf = waveform.U32.Append(buf, float64(block))
		buf = waveform.U64.Append(buf, float64(block*b.PointsPerBlock))
		for ch, samples := range b.Samples {
			scale := 1.0
			if b.Scale != nil {
				scale = b.Scale(block, ch)
			}
			buf = waveform.SGL.Append(buf, 0)
			buf = waveform.DBL.Append(buf, scale)
			for _, s := range samples[block*b.PointsPerBlock : (block+1)*b.PointsPerBlock] {
				buf = binary.BigEndian.AppendUint16(buf, uint16(s))
			}
		}
	}

	buf = append(buf, make([]byte, b.TrailingBytes)...)
	return buf, nil
}

// WriteBlocked encodes b and writes it to path.
func WriteBlocked(path string, b Blocked) error {
	data, err := b.Encode()
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// Physical returns the values a reader should produce for b's channel.
func (b Blocked) Physical(channel int) []float64 {
	samples := b.Samples[channel]
	out := make([]float64, len(samples))
	for i, s := range samples {
		scale := 1.0
		if b.Scale != nil {
			scale = b.Scale(i/b.PointsPerBlock, channel)
		}
		out[i] = float64(s) * scale
	}
	return out
}

// Quantize converts physical values to raw codes for a fixed scale.
func Quantize(values []float64, scale float64) []int16 {
	out := make([]int16, len(values))
	for i, v := range values {
		out[i] = int16(math.Round(v / scale))
	}
	return out
}
