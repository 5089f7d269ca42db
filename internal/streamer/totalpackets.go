package streamer

// discoverTotalPackets bisects [0, DurationUnknownSentinel] over the
// parser's seek-by-packet probe until the window narrows to 1 (spec
// §4.8). It returns total_audio_packets-1's successor (i.e. the count
// itself) and the byte offset seek-by-packet reported for the last
// successful probe. ok is false only when the parser cannot even
// resolve packet 0 — total_audio_packets landing on
// DurationUnknownSentinel is a valid (if uninformative) result that
// callers must check for explicitly, per spec §9.
func discoverTotalPackets(seekByPacket func(packetIndex int64) (byteOffset int64, ok bool)) (totalPackets, lastGoodOffset int64, ok bool) {
	lower := int64(0)
	upper := int64(DurationUnknownSentinel)

	offset, resolved := seekByPacket(lower)
	if !resolved {
		return 0, 0, false
	}
	lastGoodOffset = offset

	for upper-lower > 1 {
		mid := (lower + upper) / 2
		offset, resolved := seekByPacket(mid)
		if resolved {
			lower = mid
			lastGoodOffset = offset
		} else {
			upper = mid
		}
	}

	return lower + 1, lastGoodOffset, true
}
