package audio

import (
	"encoding/binary"
	"errors"
)

const wavHeaderSize = 44

// ErrInvalidWAV is returned by [DecodeWAV] for input that is not a
// canonical 16-bit PCM WAV file.
var ErrInvalidWAV = errors.New("audio: invalid wav")

// EncodeWAV wraps S16LE PCM in a canonical 44-byte RIFF/WAVE header, the
// shape batch transcription APIs expect as a file upload.
func EncodeWAV(pcm []byte, f Format) []byte {
	blockAlign := f.Channels * bytesPerSample
	out := make([]byte, wavHeaderSize+len(pcm))

	copy(out[0:4], "RIFF")
	binary.LittleEndian.PutUint32(out[4:8], uint32(36+len(pcm)))
	copy(out[8:12], "WAVE")

	copy(out[12:16], "fmt ")
	binary.LittleEndian.PutUint32(out[16:20], 16)
	binary.LittleEndian.PutUint16(out[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(out[22:24], uint16(f.Channels))
	binary.LittleEndian.PutUint32(out[24:28], uint32(f.SampleRate))
	binary.LittleEndian.PutUint32(out[28:32], uint32(f.BytesPerSecond()))
	binary.LittleEndian.PutUint16(out[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(out[34:36], 16)

	copy(out[36:40], "data")
	binary.LittleEndian.PutUint32(out[40:44], uint32(len(pcm)))
	copy(out[wavHeaderSize:], pcm)
	return out
}

// DecodeWAV extracts the PCM payload and format from a file produced by
// [EncodeWAV]. Only the canonical layout is accepted.
func DecodeWAV(b []byte) ([]byte, Format, error) {
	if len(b) < wavHeaderSize || string(b[0:4]) != "RIFF" || string(b[8:12]) != "WAVE" ||
		string(b[12:16]) != "fmt " || string(b[36:40]) != "data" {
		return nil, Format{}, ErrInvalidWAV
	}
	if binary.LittleEndian.Uint16(b[20:22]) != 1 || binary.LittleEndian.Uint16(b[34:36]) != 16 {
		return nil, Format{}, ErrInvalidWAV
	}
	f := Format{
		Channels:   int(binary.LittleEndian.Uint16(b[22:24])),
		SampleRate: int(binary.LittleEndian.Uint32(b[24:28])),
	}
	size := int(binary.LittleEndian.Uint32(b[40:44]))
	if size > len(b)-wavHeaderSize {
		return nil, Format{}, ErrInvalidWAV
	}
	return b[wavHeaderSize : wavHeaderSize+size], f, nil
}
