// Package formatmp3 is a FormatParser for MPEG-1/2/2.5 Layer III audio
// (streamer.FormatParser): frame-sync scanning, header decode via the
// public-domain bitrate/sample-rate tables, and an ID3v2 tag skip to
// locate the data offset. It treats every frame as one VBR packet with
// a descriptor (spec §4.5's VBR path) rather than branching on a
// detected CBR/VBR flag: a frame's own header always carries its actual
// bitrate index, so byte length is exact per frame whether or not the
// encoder varied it — the CBR byte-run path earns nothing extra here
// and the frame-level self-description is cheaper and more accurate to
// always use.
package formatmp3

import "errors"

const (
	mpegVersion1   = 3
	mpegVersion2   = 2
	mpegVersion2_5 = 0

	layer3 = 1
)

// bitrateTableV1L3 and bitrateTableV2L3 map a header's 4-bit bitrate
// index to kbps, for MPEG-1 and MPEG-2/2.5 Layer III respectively.
// Index 0 (free format) and 15 (reserved) are not resolvable.
var bitrateTableV1L3 = [16]int{0, 32, 40, 48, 56, 64, 80, 96, 112, 128, 160, 192, 224, 256, 320, 0}
var bitrateTableV2L3 = [16]int{0, 8, 16, 24, 32, 40, 48, 56, 64, 80, 96, 112, 128, 144, 160, 0}

// sampleRateTable maps version -> 2-bit sample-rate index -> Hz. Index 3
// is reserved.
var sampleRateTable = map[int][4]int{
	mpegVersion1:   {44100, 48000, 32000, 0},
	mpegVersion2:   {22050, 24000, 16000, 0},
	mpegVersion2_5: {11025, 12000, 8000, 0},
}

// frameHeader is the decoded 32-bit MPEG audio frame header.
type frameHeader struct {
	version      int
	layer        int
	bitrateKbps  int
	sampleRateHz int
	padding      int
}

var errNotMPEGFrame = errors.New("formatmp3: not a valid frame header")

// parseHeader decodes a 4-byte frame header per the ISO/IEC 11172-3
// layout: 11 sync bits, 2 version bits, 2 layer bits, 1 protection bit,
// 4 bitrate-index bits, 2 sample-rate-index bits, 1 padding bit, the
// rest unused here.
func parseHeader(b [4]byte) (frameHeader, error) {
	if b[0] != 0xFF || b[1]&0xE0 != 0xE0 {
		return frameHeader{}, errNotMPEGFrame
	}

	version := int(b[1]>>3) & 0x03
	layer := int(b[1]>>1) & 0x03
	if layer != layer3 {
		return frameHeader{}, errNotMPEGFrame
	}

	bitrateIndex := int(b[2]>>4) & 0x0F
	sampleRateIndex := int(b[2]>>2) & 0x03
	padding := int(b[2]>>1) & 0x01

	rates, ok := sampleRateTable[version]
	if !ok {
		return frameHeader{}, errNotMPEGFrame
	}
	sampleRateHz := rates[sampleRateIndex]
	if sampleRateHz == 0 {
		return frameHeader{}, errNotMPEGFrame
	}

	var bitrateKbps int
	if version == mpegVersion1 {
		bitrateKbps = bitrateTableV1L3[bitrateIndex]
	} else {
		bitrateKbps = bitrateTableV2L3[bitrateIndex]
	}
	if bitrateKbps == 0 {
		// Free-format (index 0) or reserved (index 15): unsupported,
		// treat the candidate sync as a false positive.
		return frameHeader{}, errNotMPEGFrame
	}

	return frameHeader{
		version:      version,
		layer:        layer,
		bitrateKbps:  bitrateKbps,
		sampleRateHz: sampleRateHz,
		padding:      padding,
	}, nil
}

// samplesPerFrame is 1152 for MPEG-1 Layer III, 576 for MPEG-2/2.5
// (half the samples per frame at the same layer).
func (h frameHeader) samplesPerFrame() int {
	if h.version == mpegVersion1 {
		return 1152
	}
	return 576
}

// frameSize is the total encoded frame length in bytes, header included:
// samplesPerFrame/8 * bitrate(bps) / sampleRate + padding.
func (h frameHeader) frameSize() int {
	factor := h.samplesPerFrame() / 8
	return factor*h.bitrateKbps*1000/h.sampleRateHz + h.padding
}
