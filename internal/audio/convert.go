package audio

import (
	"fmt"
	"os"
)

// FramesFromOpusFile decodes an on-disk stream of length-prefixed Opus
// packets (used for cached wakeup/greeting audio) into a sequence of raw
// Opus frames ready to forward to a device unmodified.
func FramesFromOpusFile(path string) ([][]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("audio: read opus file: %w", err)
	}
	return SplitLengthPrefixedFrames(data)
}

// SplitLengthPrefixedFrames parses a buffer of [uint16 length][frame]...
// records into individual frame byte slices.
func SplitLengthPrefixedFrames(data []byte) ([][]byte, error) {
	var frames [][]byte
	for len(data) > 0 {
		if len(data) < 2 {
			return nil, fmt.Errorf("audio: truncated frame length prefix")
		}
		n := int(data[0]) | int(data[1])<<8
		data = data[2:]
		if n > len(data) {
			return nil, fmt.Errorf("audio: frame length %d exceeds remaining buffer", n)
		}
		frames = append(frames, data[:n])
		data = data[n:]
	}
	return frames, nil
}

// JoinLengthPrefixedFrames is the inverse of SplitLengthPrefixedFrames,
// used when persisting freshly-synthesized frames to the wakeup cache.
func JoinLengthPrefixedFrames(frames [][]byte) []byte {
	var out []byte
	for _, f := range frames {
		n := len(f)
		out = append(out, byte(n), byte(n>>8))
		out = append(out, f...)
	}
	return out
}

// PCMToWAVFrames decodes a sequence of Opus frames to PCM and wraps the
// concatenated result as a WAV byte stream, e.g. for uploading a user
// utterance to the management API's chat-history endpoint.
func PCMToWAVFrames(opusFrames [][]byte, sampleRate int) ([]byte, error) {
	dec, err := NewDecoder()
	if err != nil {
		return nil, err
	}

	var pcm []byte
	for _, frame := range opusFrames {
		decoded, err := dec.Decode(frame)
		if err != nil {
			return nil, err
		}
		pcm = append(pcm, decoded...)
	}
	return EncodeWAVPCM16LE(pcm, sampleRate)
}
