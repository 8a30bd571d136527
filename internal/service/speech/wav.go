package speech

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/zaf/g711"

	speechmodel "github.com/zhouzirui/interview-sim/backend/internal/model/speech"
)

const (
	wavFormatPCM   = 1
	wavFormatMulaw = 7
)

// EncodeWAV wraps 16-bit little-endian PCM in a WAV container using format's
// sample rate, channel count and encoding. A trailing partial frame is
// dropped. It returns the container and the number of frames it holds; zero
// frames yield a nil container.
func EncodeWAV(pcm []byte, format speechmodel.AudioFormat) ([]byte, int, error) {
	if format.SampleRate <= 0 {
		return nil, 0, fmt.Errorf("invalid sample rate %d", format.SampleRate)
	}
	if format.Channels <= 0 {
		return nil, 0, fmt.Errorf("invalid channel count %d", format.Channels)
	}

	frameSize := format.Channels * 2
	pcm = pcm[:len(pcm)-len(pcm)%frameSize]
	frames := len(pcm) / frameSize
	if frames == 0 {
		return nil, 0, nil
	}

	var (
		data          []byte
		formatTag     uint16
		bitsPerSample int
	)
	switch format.Encoding {
	case speechmodel.EncodingPCM, "":
		data, formatTag, bitsPerSample = pcm, wavFormatPCM, 16
	case speechmodel.EncodingMulaw:
		data, formatTag, bitsPerSample = g711.EncodeUlaw(pcm), wavFormatMulaw, 8
	default:
		return nil, 0, fmt.Errorf("unsupported encoding %q", format.Encoding)
	}

	blockAlign := format.Channels * bitsPerSample / 8
	byteRate := format.SampleRate * blockAlign

	// non-PCM formats carry cbSize and a fact chunk
	fmtSize := 16
	headerSize := 44
	if formatTag != wavFormatPCM {
		fmtSize = 18
		headerSize = 58
	}

	buf := bytes.NewBuffer(make([]byte, 0, headerSize+len(data)))
	buf.WriteString("RIFF")
	binary.Write(buf, binary.LittleEndian, uint32(headerSize-8+len(data)))
	buf.WriteString("WAVE")

	buf.WriteString("fmt ")
	binary.Write(buf, binary.LittleEndian, uint32(fmtSize))
	binary.Write(buf, binary.LittleEndian, formatTag)
	binary.Write(buf, binary.LittleEndian, uint16(format.Channels))
	binary.Write(buf, binary.LittleEndian, uint32(format.SampleRate))
	binary.Write(buf, binary.LittleEndian, uint32(byteRate))
	binary.Write(buf, binary.LittleEndian, uint16(blockAlign))
	binary.Write(buf, binary.LittleEndian, uint16(bitsPerSample))
	if formatTag != wavFormatPCM {
		binary.Write(buf, binary.LittleEndian, uint16(0))
		buf.WriteString("fact")
		binary.Write(buf, binary.LittleEndian, uint32(4))
		binary.Write(buf, binary.LittleEndian, uint32(frames))
	}

	buf.WriteString("data")
	binary.Write(buf, binary.LittleEndian, uint32(len(data)))
	buf.Write(data)

	return buf.Bytes(), frames, nil
}

// Duration converts a frame count to seconds.
func Duration(frames, sampleRate int) float64 {
	if sampleRate <= 0 {
		return 0
	}
	return float64(frames) / float64(sampleRate)
}
