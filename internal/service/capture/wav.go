package capture

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"mime"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"
)

// WAV header is 44 bytes for standard PCM files
const wavHeaderSize = 44

// WAVFormat describes the PCM data of a WAV file.
type WAVFormat struct {
	AudioFormat   uint16
	Channels      uint16
	SampleRate    uint32
	BitsPerSample uint16
}

// MimeType renders the format as a raw linear PCM media type.
func (f WAVFormat) MimeType() string {
	return fmt.Sprintf("audio/L%d;rate=%d;channels=%d", f.BitsPerSample, f.SampleRate, f.Channels)
}

// FormatFromMimeType recovers a PCM format from an audio/L16 style media type.
func FormatFromMimeType(mt string) (WAVFormat, bool) {
	base, params, err := mime.ParseMediaType(mt)
	if err != nil || !strings.HasPrefix(base, "audio/l") {
		return WAVFormat{}, false
	}
	bits, err := strconv.Atoi(strings.TrimPrefix(base, "audio/l"))
	if err != nil {
		return WAVFormat{}, false
	}
	rate, err := strconv.Atoi(params["rate"])
	if err != nil {
		return WAVFormat{}, false
	}
	channels := 1
	if c, err := strconv.Atoi(params["channels"]); err == nil {
		channels = c
	}
	return WAVFormat{AudioFormat: 1, Channels: uint16(channels), SampleRate: uint32(rate), BitsPerSample: uint16(bits)}, true
}

// EncodeWAV prepends a 44-byte PCM header to raw samples.
func EncodeWAV(f WAVFormat, pcm []byte) []byte {
	blockAlign := f.Channels * f.BitsPerSample / 8
	var b bytes.Buffer
	b.Grow(wavHeaderSize + len(pcm))
	b.WriteString("RIFF")
	binary.Write(&b, binary.LittleEndian, uint32(36+len(pcm)))
	b.WriteString("WAVEfmt ")
	binary.Write(&b, binary.LittleEndian, uint32(16))
	binary.Write(&b, binary.LittleEndian, uint16(1))
	binary.Write(&b, binary.LittleEndian, f.Channels)
	binary.Write(&b, binary.LittleEndian, f.SampleRate)
	binary.Write(&b, binary.LittleEndian, f.SampleRate*uint32(blockAlign))
	binary.Write(&b, binary.LittleEndian, blockAlign)
	binary.Write(&b, binary.LittleEndian, f.BitsPerSample)
	b.WriteString("data")
	binary.Write(&b, binary.LittleEndian, uint32(len(pcm)))
	b.Write(pcm)
	return b.Bytes()
}

// Upload returns the audio as a self-describing file for transcription.
// Raw PCM is wrapped in a WAV container; encoded formats pass through.
func (a *Audio) Upload() (filename string, body []byte) {
	if f, ok := FormatFromMimeType(a.MimeType); ok {
		return "recording.wav", EncodeWAV(f, a.Data)
	}
	switch {
	case strings.Contains(a.MimeType, "ogg"):
		return "recording.ogg", a.Data
	case strings.Contains(a.MimeType, "mp4"):
		return "recording.m4a", a.Data
	default:
		return "recording.webm", a.Data
	}
}

// ParseWAVHeader validates a 44-byte PCM WAV header.
func ParseWAVHeader(header []byte) (WAVFormat, error) {
	if len(header) < wavHeaderSize {
		return WAVFormat{}, errors.New("short WAV header")
	}
	if string(header[0:4]) != "RIFF" || string(header[8:12]) != "WAVE" {
		return WAVFormat{}, errors.New("not a valid WAV file")
	}
	f := WAVFormat{
		AudioFormat:   binary.LittleEndian.Uint16(header[20:22]),
		Channels:      binary.LittleEndian.Uint16(header[22:24]),
		SampleRate:    binary.LittleEndian.Uint32(header[24:28]),
		BitsPerSample: binary.LittleEndian.Uint16(header[34:36]),
	}
	if f.AudioFormat != 1 { // PCM
		return WAVFormat{}, fmt.Errorf("only PCM format supported, got %d", f.AudioFormat)
	}
	return f, nil
}

// WAVDevice plays a PCM WAV file as if it were a live microphone: chunks of
// ChunkSize bytes are delivered every Interval. When the file runs out the
// device stays open and silent until it is closed, unless Loop is set.
type WAVDevice struct {
	Path      string
	ChunkSize int
	Interval  time.Duration
	Loop      bool
}

// Open acquires the file and starts streaming it.
func (d *WAVDevice) Open(ctx context.Context) (Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}
	f, err := os.Open(d.Path)
	if err != nil {
		return nil, classify(err)
	}

	header := make([]byte, wavHeaderSize)
	if _, err := io.ReadFull(f, header); err != nil {
		f.Close()
		return nil, fmt.Errorf("%w: read WAV header: %v", ErrDeviceUnavailable, err)
	}
	format, err := ParseWAVHeader(header)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}

	chunkSize := d.ChunkSize
	if chunkSize <= 0 {
		chunkSize = 1600
	}
	interval := d.Interval
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}

	s := &wavStream{
		file:   f,
		format: format,
		chunks: make(chan []byte, 16),
		done:   make(chan struct{}),
	}
	go s.run(chunkSize, interval, d.Loop)
	return s, nil
}

type wavStream struct {
	file   *os.File
	format WAVFormat
	chunks chan []byte
	done   chan struct{}
	once   sync.Once
}

func (s *wavStream) Chunks() <-chan []byte { return s.chunks }

func (s *wavStream) MimeType() string { return s.format.MimeType() }

func (s *wavStream) Close() error {
	s.once.Do(func() { close(s.done) })
	return nil
}

func (s *wavStream) run(chunkSize int, interval time.Duration, loop bool) {
	defer close(s.chunks)
	defer s.file.Close()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	exhausted := false
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
		}
		if exhausted {
			continue
		}

		buf := make([]byte, chunkSize)
		n, err := io.ReadFull(s.file, buf)
		if n > 0 {
			select {
			case s.chunks <- buf[:n]:
			case <-s.done:
				return
			}
		}
		if err != nil {
			if loop && (errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF)) {
				if _, serr := s.file.Seek(wavHeaderSize, io.SeekStart); serr == nil {
					continue
				}
			}
			exhausted = true
		}
	}
}
