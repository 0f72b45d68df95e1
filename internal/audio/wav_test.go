package audio

import (
	"encoding/binary"
	"testing"
)

func TestEncodeWAVPCM16LEHeaderLengths(t *testing.T) {
	pcm := make([]byte, 2*1000) // 1000 samples, 16-bit mono
	wav, err := EncodeWAVPCM16LE(pcm, 16000)
	if err != nil {
		t.Fatalf("EncodeWAVPCM16LE() error = %v", err)
	}

	if string(wav[0:4]) != "RIFF" || string(wav[8:12]) != "WAVE" {
		t.Fatalf("missing RIFF/WAVE markers")
	}

	riffLen := binary.LittleEndian.Uint32(wav[4:8])
	wantRiffLen := uint32(36 + len(pcm))
	if riffLen != wantRiffLen {
		t.Fatalf("riff length = %d, want %d", riffLen, wantRiffLen)
	}

	dataLen := binary.LittleEndian.Uint32(wav[40:44])
	if dataLen != uint32(len(pcm)) {
		t.Fatalf("data length = %d, want %d", dataLen, len(pcm))
	}
}

func TestEncodeWAVPCM16LEDefaultsSampleRate(t *testing.T) {
	wav, err := EncodeWAVPCM16LE([]byte{1, 2, 3, 4}, 0)
	if err != nil {
		t.Fatalf("EncodeWAVPCM16LE() error = %v", err)
	}
	sampleRate := binary.LittleEndian.Uint32(wav[24:28])
	if sampleRate != 16000 {
		t.Fatalf("sample rate = %d, want default 16000", sampleRate)
	}
}
