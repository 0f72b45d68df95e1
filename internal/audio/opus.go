package audio

import (
	"fmt"

	"layeh.com/gopus"
)

// Device audio runs 16 kHz mono Opus at 60 ms frames, matching the
// low-power speaker hardware this gateway talks to.
const (
	SampleRate     = 16000
	Channels       = 1
	FrameSizeMs    = 60
	FrameSize      = SampleRate * FrameSizeMs / 1000 // 960 samples/frame
)

// Decoder wraps a per-session Opus decoder. A session must use a single
// Decoder for its lifetime: Opus decoding carries frame-to-frame state.
type Decoder struct {
	dec *gopus.Decoder
}

func NewDecoder() (*Decoder, error) {
	dec, err := gopus.NewDecoder(SampleRate, Channels)
	if err != nil {
		return nil, fmt.Errorf("audio: create opus decoder: %w", err)
	}
	return &Decoder{dec: dec}, nil
}

// Decode turns one Opus packet into little-endian int16 PCM bytes.
func (d *Decoder) Decode(packet []byte) ([]byte, error) {
	pcm, err := d.dec.Decode(packet, FrameSize, false)
	if err != nil {
		return nil, fmt.Errorf("audio: opus decode: %w", err)
	}
	return int16sToBytes(pcm), nil
}

// Encoder wraps a per-session Opus encoder.
type Encoder struct {
	enc *gopus.Encoder
}

func NewEncoder() (*Encoder, error) {
	enc, err := gopus.NewEncoder(SampleRate, Channels, gopus.Voip)
	if err != nil {
		return nil, fmt.Errorf("audio: create opus encoder: %w", err)
	}
	return &Encoder{enc: enc}, nil
}

// Encode turns one 60ms frame of little-endian int16 PCM bytes into an
// Opus packet.
func (e *Encoder) Encode(pcmBytes []byte) ([]byte, error) {
	pcm := bytesToInt16s(pcmBytes)
	packet, err := e.enc.Encode(pcm, FrameSize, len(pcmBytes))
	if err != nil {
		return nil, fmt.Errorf("audio: opus encode: %w", err)
	}
	return packet, nil
}

func int16sToBytes(pcm []int16) []byte {
	b := make([]byte, len(pcm)*2)
	for i, s := range pcm {
		b[i*2] = byte(s)
		b[i*2+1] = byte(s >> 8)
	}
	return b
}

func bytesToInt16s(b []byte) []int16 {
	pcm := make([]int16, len(b)/2)
	for i := range pcm {
		pcm[i] = int16(b[i*2]) | int16(b[i*2+1])<<8
	}
	return pcm
}
