package streamer

// seekNaiveByteOffset computes the first estimate of a target time's
// byte offset, before packet alignment (spec §4.7 step 2).
func seekNaiveByteOffset(targetSeconds, duration float64, dataOffset, fileLength int64) int64 {
	if duration <= 0 {
		return dataOffset
	}
	frac := targetSeconds / duration
	offset := dataOffset + int64(frac*float64(fileLength-dataOffset))
	if offset < dataOffset {
		offset = dataOffset
	}
	return offset
}

// capSeekOffset leaves packetBufferSize*2 bytes of trailer room so a
// seek never lands so close to EOF that no full packet can be parsed
// (spec §4.7 step 3).
func capSeekOffset(offset, fileLength int64, packetBufferSize int) int64 {
	if fileLength <= 0 {
		return offset
	}
	limit := fileLength - 2*int64(packetBufferSize)
	if limit < 0 {
		limit = 0
	}
	if offset > limit {
		return limit
	}
	return offset
}

// residualSeconds converts the gap between a packet-aligned byte offset
// and the naive byte offset into a time adjustment, using the current
// bitrate estimate (spec §4.7 step 4: "adjust seek_time by the residual
// bytes converted to seconds via bitrate").
func residualSeconds(alignedOffset, naiveOffset int64, bitsPerSecond float64) float64 {
	if bitsPerSecond <= 0 {
		return 0
	}
	deltaBytes := float64(alignedOffset - naiveOffset)
	return deltaBytes / (bitsPerSecond / 8)
}
