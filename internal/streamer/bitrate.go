package streamer

// BitrateEstMin is the number of VBR packets that must be processed
// before the running average is trusted enough to post BitrateReady
// (spec §4.5).
const BitrateEstMin = 50

// DurationUnknownSentinel is the bisection's initial upper bound in
// totalAudioPackets discovery (spec §4.8, §9 "Sentinel 1_000_000"). If
// the parser never fails a seek-by-packet probe, the packet count is
// unknowable by this method and duration falls back to the bitrate
// estimate.
const DurationUnknownSentinel = 1_000_000

// bitrateEstimator accumulates the running averages behind
// calculated_bit_rate (spec §4.11).
type bitrateEstimator struct {
	processedSizeTotal float64
	processedCount     int64

	cbr      bool
	cbrRate  float64
	cbrKnown bool
}

// addVBRPacket folds one packet into the running VBR average.
// packetDuration is frames_per_packet/sample_rate in seconds.
func (b *bitrateEstimator) addVBRPacket(byteSize uint32, packetDuration float64) {
	if packetDuration <= 0 {
		return
	}
	b.processedSizeTotal += 8 * float64(byteSize) / packetDuration
	b.processedCount++
}

// setCBR records the CBR rate, derivable immediately from the ASBD
// (spec §4.11: "CBR: rate = 8 * sample_rate * bytes_per_packet *
// frames_per_packet" — reproduced exactly as specified).
func (b *bitrateEstimator) setCBR(asbd ASBD) {
	b.cbr = true
	b.cbrRate = 8 * asbd.SampleRate * float64(asbd.BytesPerPacket) * float64(asbd.FramesPerPacket)
	b.cbrKnown = true
}

// ready reports whether enough data has been processed to answer
// calculated_bit_rate (spec §8 P7: once true, stays true for the
// session).
func (b *bitrateEstimator) ready() bool {
	if b.cbr {
		return b.cbrKnown
	}
	return b.processedCount >= BitrateEstMin
}

// rate returns the current estimate and whether it is answerable yet.
func (b *bitrateEstimator) rate() (bitsPerSecond float64, ok bool) {
	if b.cbr {
		return b.cbrRate, b.cbrKnown
	}
	if b.processedCount < BitrateEstMin || b.processedCount == 0 {
		return 0, false
	}
	return b.processedSizeTotal / float64(b.processedCount), true
}

// estimateDuration implements the three-tier fallback of spec §4.11.
// parserPacketCount is the container's own reported packet count, or
// (0, false) if unavailable; totalAudioPackets is the §4.8 discovery
// result, or (0, false) if it was never run / never resolved.
func estimateDuration(
	parserPacketCount int64, parserPacketCountKnown bool,
	totalAudioPackets int64, totalAudioPacketsKnown bool,
	asbd ASBD,
	fileLength, dataOffset int64,
	bitsPerSecond float64, bitrateKnown bool,
) (seconds float64, ok bool) {
	if parserPacketCountKnown && parserPacketCount != DurationUnknownSentinel && asbd.SampleRate > 0 {
		return float64(parserPacketCount) * float64(asbd.FramesPerPacket) / asbd.SampleRate, true
	}
	if totalAudioPacketsKnown && totalAudioPackets != DurationUnknownSentinel && asbd.SampleRate > 0 {
		return float64(totalAudioPackets) * float64(asbd.FramesPerPacket) / asbd.SampleRate, true
	}
	if bitrateKnown && bitsPerSecond > 0 && fileLength > dataOffset {
		return float64(fileLength-dataOffset) / (bitsPerSecond / 8), true
	}
	return 0, false
}
