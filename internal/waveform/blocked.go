package waveform

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

const (
	// BlockedBanner opens every Blocked file
	BlockedBanner = "Nanopore Experiment Data File V2.0"

	// BlockedEndMarker terminates the free-text header lines
	BlockedEndMarker = "End of file format"

	// Parameter names the reader depends on
	ParamPointsPerBlock   = "Points per block"
	ParamSamplingInterval = "Sampling interval"
	ParamScale            = "Scale"

	maxHeaderLine  = 4096
	maxHeaderLines = 1024
)

// Param is a named, typed header parameter.
type Param struct {
	Name string
	Type DataType
}

// BlockedHeader is the decoded preamble of a Blocked file.
type BlockedHeader struct {
	Text          []string
	FileParams    []Param
	BlockParams   []Param
	ChannelParams []Param
	ChannelNames  []Param
	FileValues    map[string]float64
}

func paramBytes(params []Param) int {
	n := 0
	for _, p := range params {
		n += p.Type.Size()
	}
	return n
}

func paramOffset(params []Param, name string) (int, DataType, bool) {
	off := 0
	for _, p := range params {
		if p.Name == name {
			return off, p.Type, true
		}
		off += p.Type.Size()
	}
	return 0, 0, false
}

// headerReader tracks how many bytes of the preamble have been consumed.
type headerReader struct {
	r *bufio.Reader
	n int64
}

func (hr *headerReader) line() (string, error) {
	b, err := hr.r.ReadSlice('\n')
	if err != nil {
		if errors.Is(err, bufio.ErrBufferFull) || errors.Is(err, io.EOF) {
			return "", fmt.Errorf("%w: unterminated header line", ErrFormat)
		}
		return "", err
	}
	hr.n += int64(len(b))
	return strings.TrimRight(string(b), "\r\n"), nil
}

func (hr *headerReader) full(b []byte) error {
	n, err := io.ReadFull(hr.r, b)
	hr.n += int64(n)
	if err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return fmt.Errorf("%w: truncated header", ErrFormat)
		}
		return err
	}
	return nil
}

func (hr *headerReader) paramList() ([]Param, error) {
	prefix := make([]byte, 4)
	if err := hr.full(prefix); err != nil {
		return nil, err
	}

	// 3 reserved bytes, then the entry count
	count := int(prefix[3])
	params := make([]Param, 0, count)
	for i := 0; i < count; i++ {
		entry, err := hr.line()
		if err != nil {
			return nil, err
		}
		name, typeName, ok := strings.Cut(entry, "\t")
		if !ok {
			return nil, fmt.Errorf("%w: parameter entry %q has no type", ErrFormat, entry)
		}
		t, err := ParseDataType(strings.TrimSpace(typeName))
		if err != nil {
			return nil, err
		}
		params = append(params, Param{Name: strings.TrimSpace(name), Type: t})
	}
	return params, nil
}

// ReadBlockedHeader decodes the preamble of a Blocked file and returns it with
// its length in bytes.
func ReadBlockedHeader(r io.Reader) (*BlockedHeader, int64, error) {
	hr := &headerReader{r: bufio.NewReaderSize(r, maxHeaderLine)}

	banner, err := hr.line()
	if err != nil {
		return nil, 0, err
	}
	if banner != BlockedBanner {
		return nil, 0, fmt.Errorf("%w: unexpected banner %q", ErrFormat, banner)
	}

	hdr := &BlockedHeader{}
	for {
		text, err := hr.line()
		if err != nil {
			return nil, 0, err
		}
		if text == BlockedEndMarker {
			break
		}
		hdr.Text = append(hdr.Text, text)
		if len(hdr.Text) > maxHeaderLines {
			return nil, 0, fmt.Errorf("%w: no end of header marker", ErrFormat)
		}
	}

	lists := []*[]Param{&hdr.FileParams, &hdr.BlockParams, &hdr.ChannelParams, &hdr.ChannelNames}
	for _, list := range lists {
		params, err := hr.paramList()
		if err != nil {
			return nil, 0, err
		}
		*list = params
	}

	values := make([]byte, paramBytes(hdr.FileParams))
	if err := hr.full(values); err != nil {
		return nil, 0, err
	}
	hdr.FileValues = make(map[string]float64, len(hdr.FileParams))
	off := 0
	for _, p := range hdr.FileParams {
		hdr.FileValues[p.Name] = p.Type.Decode(values[off:])
		off += p.Type.Size()
	}

	return hdr, hr.n, nil
}

// blockedFile is a sequence of fixed-size blocks, each carrying a block
// header and, per channel, a channel header (with its scale) and the samples.
type blockedFile struct {
	f   *os.File
	hdr *BlockedHeader

	headerLen  int64
	blockLen   int64
	channelLen int64 // channel header plus samples
	ppb        int
	nblocks    int
	rate       float64

	scaleOffset int
	scaleType   DataType

	// last block read, kept because consecutive reads usually touch it again
	lastBlock int
	lastBuf   []byte
}

func openBlocked(path string) (*blockedFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}

	bf, err := newBlockedFile(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	return bf, nil
}

func newBlockedFile(f *os.File) (*blockedFile, error) {
	hdr, headerLen, err := ReadBlockedHeader(f)
	if err != nil {
		return nil, err
	}

	ppb, ok := hdr.FileValues[ParamPointsPerBlock]
	if !ok || ppb < 1 {
		return nil, fmt.Errorf("%w: missing or invalid %q", ErrFormat, ParamPointsPerBlock)
	}
	if _, typ, _ := paramOffset(hdr.FileParams, ParamPointsPerBlock); !typ.IsInteger() {
		return nil, fmt.Errorf("%w: %q must have an integer type, not %s", ErrFormat, ParamPointsPerBlock, typ)
	}
	interval, ok := hdr.FileValues[ParamSamplingInterval]
	if !ok || interval <= 0 {
		return nil, fmt.Errorf("%w: missing or invalid %q", ErrFormat, ParamSamplingInterval)
	}
	if len(hdr.ChannelNames) == 0 {
		return nil, fmt.Errorf("%w: no channels declared", ErrFormat)
	}
	scaleOffset, scaleType, ok := paramOffset(hdr.ChannelParams, ParamScale)
	if !ok {
		return nil, fmt.Errorf("%w: channel header has no %q", ErrFormat, ParamScale)
	}

	channelLen := int64(paramBytes(hdr.ChannelParams)) + int64(ppb)*2
	blockLen := int64(paramBytes(hdr.BlockParams)) + int64(len(hdr.ChannelNames))*channelLen

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat file: %w", err)
	}
	data := info.Size() - headerLen
	if data%blockLen != 0 {
		return nil, fmt.Errorf("%w: %d trailing bytes after %d blocks of %d bytes",
			ErrIncompleteBlock, data%blockLen, data/blockLen, blockLen)
	}

	return &blockedFile{
		f:           f,
		hdr:         hdr,
		headerLen:   headerLen,
		blockLen:    blockLen,
		channelLen:  channelLen,
		ppb:         int(ppb),
		nblocks:     int(data / blockLen),
		rate:        1 / interval,
		scaleOffset: scaleOffset,
		scaleType:   scaleType,
		lastBlock:   -1,
	}, nil
}

func (bf *blockedFile) format() string      { return "blocked" }
func (bf *blockedFile) sampleRate() float64 { return bf.rate }
func (bf *blockedFile) length() int         { return bf.nblocks * bf.ppb }
func (bf *blockedFile) channels() int       { return len(bf.hdr.ChannelNames) }
func (bf *blockedFile) blockSize() int      { return bf.ppb }
func (bf *blockedFile) close() error        { return bf.f.Close() }

// block returns the raw bytes of block i, headers included.
func (bf *blockedFile) block(i int) ([]byte, error) {
	if i == bf.lastBlock {
		return bf.lastBuf, nil
	}
	if bf.lastBuf == nil {
		bf.lastBuf = make([]byte, bf.blockLen)
	}
	bf.lastBlock = -1
	if _, err := bf.f.ReadAt(bf.lastBuf, bf.headerLen+int64(i)*bf.blockLen); err != nil {
		return nil, fmt.Errorf("failed to read block %d: %w", i, err)
	}
	bf.lastBlock = i
	return bf.lastBuf, nil
}

func (bf *blockedFile) read(ch, first, n, stride int) ([]float64, error) {
	out := make([]float64, 0, n)
	blockHeader := int64(paramBytes(bf.hdr.BlockParams))
	chanHeader := int64(paramBytes(bf.hdr.ChannelParams))

	idx := first
	for k := 0; k < n; {
		b := idx / bf.ppb
		buf, err := bf.block(b)
		if err != nil {
			return nil, err
		}

		base := blockHeader + int64(ch)*bf.channelLen
		scale := bf.scaleType.Decode(buf[base+int64(bf.scaleOffset):])
		samples := buf[base+chanHeader:]

		blockEnd := (b + 1) * bf.ppb
		for ; k < n && idx < blockEnd; k, idx = k+1, idx+stride {
			raw := int16(binary.BigEndian.Uint16(samples[(idx-b*bf.ppb)*2:]))
			out = append(out, float64(raw)*scale)
		}
	}
	return out, nil
}
