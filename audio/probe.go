package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// MP3Info, MP3 frame header'ından çıkarılan bilgiler.
type MP3Info struct {
	Bitrate    int     // bit/sn
	SampleRate int     // Hz
	Duration   float64 // saniye (size ile tahmin)
}

// ErrNoFrame, okunan byte'larda geçerli bir MPEG frame sync bulunamadığında döner.
var ErrNoFrame = errors.New("no valid MPEG frame found")

// MPEG bitrate tablosu (kbps), ISO 11172-3 / 13818-3.
var bitrateTable = [2][3][16]int{
	// MPEG-1
	{
		{0, 32, 64, 96, 128, 160, 192, 224, 256, 288, 320, 352, 384, 416, 448, 0},
		{0, 32, 48, 56, 64, 80, 96, 112, 128, 160, 192, 224, 256, 320, 384, 0},
		{0, 32, 40, 48, 56, 64, 80, 96, 112, 128, 160, 192, 224, 256, 320, 0},
	},
	// MPEG-2 / MPEG-2.5
	{
		{0, 32, 48, 56, 64, 80, 96, 112, 128, 144, 160, 176, 192, 224, 256, 0},
		{0, 8, 16, 24, 32, 40, 48, 56, 64, 80, 96, 112, 128, 144, 160, 0},
		{0, 8, 16, 24, 32, 40, 48, 56, 64, 80, 96, 112, 128, 144, 160, 0},
	},
}

var sampleRateTable = [3][4]int{
	{44100, 48000, 32000, 0}, // MPEG-1
	{22050, 24000, 16000, 0}, // MPEG-2
	{11025, 12000, 8000, 0},  // MPEG-2.5
}

// probeWindow, frame sync aramak için okunan en fazla byte.
const probeWindow = 8192

// ProbeMP3, r'nin başındaki ilk geçerli frame'den bitrate'i okur ve
// toplam boyut (size) ile süreyi tahmin eder. ID3v2 tag'i atlanır.
// size ≤ 0 ise Duration 0 döner.
func ProbeMP3(r io.Reader, size int64) (*MP3Info, error) {
	var header [10]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}

	offset := int64(0)
	buf := make([]byte, 0, probeWindow)

	if string(header[:3]) == "ID3" {
		// synchsafe integer: 4 byte, her biri 7 bit
		tagSize := int64(header[6])<<21 | int64(header[7])<<14 | int64(header[8])<<7 | int64(header[9])
		offset = 10 + tagSize
		if _, err := io.CopyN(io.Discard, r, tagSize); err != nil {
			return nil, fmt.Errorf("skip id3 tag: %w", err)
		}
	} else {
		buf = append(buf, header[:]...)
	}

	chunk := make([]byte, probeWindow-len(buf))
	n, err := io.ReadFull(r, chunk)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return nil, err
	}
	buf = append(buf, chunk[:n]...)

	for i := 0; i+4 <= len(buf); i++ {
		if buf[i] != 0xFF || buf[i+1]&0xE0 != 0xE0 {
			continue
		}

		bitrate, sampleRate, ok := parseFrameHeader(binary.BigEndian.Uint32(buf[i : i+4]))
		if !ok {
			continue
		}

		info := &MP3Info{Bitrate: bitrate, SampleRate: sampleRate}
		if audioSize := size - offset; size > 0 && audioSize > 0 {
			info.Duration = float64(audioSize*8) / float64(bitrate)
		}
		return info, nil
	}

	return nil, ErrNoFrame
}

// parseFrameHeader, 32 bit frame header'dan bitrate (bit/sn) ve sample rate döner.
func parseFrameHeader(hdr uint32) (bitrate, sampleRate int, ok bool) {
	versionBits := (hdr >> 19) & 0x03
	layerBits := (hdr >> 17) & 0x03
	bitrateIdx := (hdr >> 12) & 0x0F
	sampleIdx := (hdr >> 10) & 0x03

	if bitrateIdx == 0 || bitrateIdx == 15 || sampleIdx == 3 || layerBits == 0 {
		return 0, 0, false
	}

	// version: 0=2.5, 1=reserved, 2=2, 3=1
	var versionIdx, sampleVersion int
	switch versionBits {
	case 3:
		versionIdx, sampleVersion = 0, 0
	case 2:
		versionIdx, sampleVersion = 1, 1
	case 0:
		versionIdx, sampleVersion = 1, 2
	default:
		return 0, 0, false
	}

	// layer: 1=III, 2=II, 3=I
	layerIdx := 3 - int(layerBits)

	bitrate = bitrateTable[versionIdx][layerIdx][bitrateIdx] * 1000
	sampleRate = sampleRateTable[sampleVersion][sampleIdx]
	if bitrate == 0 || sampleRate == 0 {
		return 0, 0, false
	}
	return bitrate, sampleRate, true
}
