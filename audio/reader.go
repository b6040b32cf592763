// Package audio provides the pipeline's sample source: a pull reader over
// WAV (RIFF/RF64) or headerless PCM streams that yields normalized float
// samples, real or IQ. Gzip-compressed input is decompressed transparently.
package audio

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/klauspost/compress/gzip"
)

// ErrBadHeader is the fatal error class for unusable input: missing RIFF
// chunks, unsupported bit depths, or a stream truncated inside the header.
var ErrBadHeader = errors.New("audio: bad wav header")

// Format describes the PCM stream parameters.
type Format struct {
	SampleRate    int
	BitsPerSample int
	Channels      int
	FloatPCM      bool // fmt tag 3 (IEEE float) instead of 1 (integer PCM)
}

// Source reads normalized samples from a PCM byte stream. One channel is
// selected for real audio; IQ mode consumes channel pairs.
type Source struct {
	r       *bufio.Reader
	closers []io.Closer

	Format  Format
	Channel int // selected channel for real audio

	scratch [8]byte
}

// Open opens a WAV file, or stdin when path is empty or "-". A gzip
// stream (recognized by its magic bytes) is unwrapped before header parsing.
func Open(path string) (*Source, error) {
	var rc io.ReadCloser
	if path == "" || path == "-" {
		rc = io.NopCloser(os.Stdin)
	} else {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		rc = f
	}
	src, err := newSource(rc)
	if err != nil {
		rc.Close()
		return nil, err
	}
	if err := src.parseHeader(); err != nil {
		rc.Close()
		return nil, err
	}
	return src, nil
}

// OpenRaw wraps a headerless PCM stream with explicit parameters, the
// `- <sample_rate> <bits_sample>` input mode.
func OpenRaw(r io.Reader, format Format) (*Source, error) {
	if err := validateBits(format.BitsPerSample); err != nil {
		return nil, err
	}
	if format.SampleRate < 1 {
		return nil, fmt.Errorf("%w: sample rate %d", ErrBadHeader, format.SampleRate)
	}
	if format.Channels < 1 {
		format.Channels = 1
	}
	format.SampleRate = fixupRate(format.SampleRate)
	rc, ok := r.(io.ReadCloser)
	if !ok {
		rc = io.NopCloser(r)
	}
	src, err := newSource(rc)
	if err != nil {
		return nil, err
	}
	src.Format = format
	return src, nil
}

func newSource(rc io.ReadCloser) (*Source, error) {
	br := bufio.NewReaderSize(rc, 1<<16)
	src := &Source{r: br, closers: []io.Closer{rc}}

	// gzip sniff: transparently unwrap compressed recordings.
	magic, err := br.Peek(2)
	if err == nil && magic[0] == 0x1F && magic[1] == 0x8B {
		zr, err := gzip.NewReader(br)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBadHeader, err)
		}
		src.closers = append(src.closers, zr)
		src.r = bufio.NewReaderSize(zr, 1<<16)
	}
	return src, nil
}

// Close releases the underlying stream.
func (s *Source) Close() error {
	var err error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if e := s.closers[i].Close(); e != nil && err == nil {
			err = e
		}
	}
	return err
}

// SelectChannel picks the audio channel for real input, clamped to the
// valid range.
func (s *Source) SelectChannel(ch int) {
	if ch < 0 || ch >= s.Format.Channels {
		ch = 0
	}
	s.Channel = ch
}

func validateBits(bits int) error {
	switch bits {
	case 8, 16, 32:
		return nil
	}
	return fmt.Errorf("%w: %d bits per sample", ErrBadHeader, bits)
}

// fixupRate rewrites the 900001 Hz recorder quirk to 900 kHz.
func fixupRate(rate int) int {
	if rate == 900001 {
		return 900000
	}
	return rate
}

// parseHeader walks the RIFF/RF64 container up to the start of sample
// data. Chunk sizes other than fmt's are not trusted: like the original
// decoders this scans forward for the fmt and data tags so concatenated
// or slightly malformed recorders still load.
func (s *Source) parseHeader() error {
	var fourcc [4]byte
	if _, err := io.ReadFull(s.r, fourcc[:]); err != nil {
		return fmt.Errorf("%w: %v", ErrBadHeader, err)
	}
	if string(fourcc[:]) != "RIFF" && string(fourcc[:]) != "RF64" {
		return fmt.Errorf("%w: not a RIFF/RF64 container", ErrBadHeader)
	}
	if _, err := io.ReadFull(s.r, fourcc[:]); err != nil { // container size
		return fmt.Errorf("%w: %v", ErrBadHeader, err)
	}
	if _, err := io.ReadFull(s.r, fourcc[:]); err != nil {
		return fmt.Errorf("%w: %v", ErrBadHeader, err)
	}
	if string(fourcc[:]) != "WAVE" {
		return fmt.Errorf("%w: not a WAVE form", ErrBadHeader)
	}

	if err := s.scanFor("fmt "); err != nil {
		return err
	}
	var fmtHdr struct {
		Size          uint32
		AudioFormat   uint16
		NumChannels   uint16
		SampleRate    uint32
		ByteRate      uint32
		BlockAlign    uint16
		BitsPerSample uint16
	}
	if err := binary.Read(s.r, binary.LittleEndian, &fmtHdr); err != nil {
		return fmt.Errorf("%w: %v", ErrBadHeader, err)
	}
	s.Format = Format{
		SampleRate:    fixupRate(int(fmtHdr.SampleRate)),
		BitsPerSample: int(fmtHdr.BitsPerSample),
		Channels:      int(fmtHdr.NumChannels),
		FloatPCM:      fmtHdr.AudioFormat == 3,
	}
	if err := validateBits(s.Format.BitsPerSample); err != nil {
		return err
	}
	if s.Format.Channels < 1 {
		return fmt.Errorf("%w: zero channels", ErrBadHeader)
	}

	if err := s.scanFor("data"); err != nil {
		return err
	}
	if _, err := io.ReadFull(s.r, fourcc[:]); err != nil { // data size
		return fmt.Errorf("%w: %v", ErrBadHeader, err)
	}
	return nil
}

// scanFor advances the stream until the four-byte tag has been consumed.
func (s *Source) scanFor(tag string) error {
	var window [4]byte
	n := 0
	for {
		b, err := s.r.ReadByte()
		if err != nil {
			return fmt.Errorf("%w: %q chunk missing", ErrBadHeader, tag)
		}
		window[n%4] = b
		n++
		if n >= 4 && matchesAt(window, n, tag) {
			return nil
		}
	}
}

func matchesAt(window [4]byte, n int, tag string) bool {
	for i := 0; i < 4; i++ {
		if window[(n+i)%4] != tag[i] {
			return false
		}
	}
	return true
}

// normalize converts one raw sample word to [-1, 1).
func (s *Source) normalize(raw []byte) float64 {
	switch s.Format.BitsPerSample {
	case 8:
		return (float64(raw[0]) - 128.0) / 128.0
	case 16:
		return float64(int16(binary.LittleEndian.Uint16(raw))) / 32768.0
	default: // 32-bit input is IEEE float for every known recorder
		return float64(math.Float32frombits(binary.LittleEndian.Uint32(raw)))
	}
}

func (s *Source) wordSize() int { return s.Format.BitsPerSample / 8 }

// ReadSample returns the next normalized sample of the selected channel.
// io.EOF signals a clean end of input.
func (s *Source) ReadSample() (float64, error) {
	size := s.wordSize()
	var out float64
	for ch := 0; ch < s.Format.Channels; ch++ {
		if _, err := io.ReadFull(s.r, s.scratch[:size]); err != nil {
			return 0, io.EOF
		}
		if ch == s.Channel {
			out = s.normalize(s.scratch[:size])
		}
	}
	return out, nil
}

// ReadIQ returns the next raw IQ pair. The stream must carry two
// channels (I then Q).
func (s *Source) ReadIQ() (x, y float64, err error) {
	size := s.wordSize()
	if _, err := io.ReadFull(s.r, s.scratch[:2*size]); err != nil {
		return 0, 0, io.EOF
	}
	return s.normalize(s.scratch[:size]), s.normalize(s.scratch[size : 2*size]), nil
}

// ReadSoftBit reads one IEEE-754 float32 whose sign encodes a bit, the
// soft-bit input mode of the stdin decoders.
func (s *Source) ReadSoftBit() (byte, error) {
	if _, err := io.ReadFull(s.r, s.scratch[:4]); err != nil {
		return 0, io.EOF
	}
	f := math.Float32frombits(binary.LittleEndian.Uint32(s.scratch[:4]))
	if f >= 0 {
		return 1, nil
	}
	return 0, nil
}
