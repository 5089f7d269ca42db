package streamer

// ParserSink is the callback contract a FormatParser feeds. It is
// implemented by Streamer; every method is called synchronously from
// within Parser.Parse, which itself is only ever called from the
// Streamer method handling a byte-source delivery — so these calls never
// race with the rest of Streamer's state (spec §5: "bytes are delivered
// to the parser in network arrival order").
type ParserSink interface {
	// OnDataOffset reports the byte offset where audio frames begin.
	OnDataOffset(offset int64)
	// OnAudioDataByteCount reports the total audio payload length, if
	// the container states it up front.
	OnAudioDataByteCount(n int64)
	// OnASBD reports the derived audio stream basic description.
	OnASBD(asbd ASBD)
	// OnMagicCookie forwards opaque codec-configuration bytes, if any.
	OnMagicCookie(cookie []byte)
	// OnReadyToProduce signals packet callbacks are about to start.
	OnReadyToProduce()
	// OnVBRPackets delivers N packets with per-packet descriptors. The
	// slice and the bytes it describes are only valid for the duration
	// of the call.
	OnVBRPackets(data []byte, descs []PacketDescriptor)
	// OnCBRBytes delivers a raw run of constant-bit-rate audio bytes.
	OnCBRBytes(data []byte)
	// OnParseError reports a fatal parse failure.
	OnParseError(err error)
}

// FormatParser accepts raw bytes as they arrive off the network and
// emits property and packet callbacks on the ParserSink supplied at
// construction. Concrete implementations (e.g. formatmp3.Parser) own
// magic-cookie extraction and ASBD derivation; spec.md treats this as an
// external collaborator specified only by this contract.
type FormatParser interface {
	// Parse feeds the next chunk of bytes, in arrival order.
	Parse(data []byte) error
	// SeekByPacket attempts to resolve packetIndex to a byte offset
	// relative to the start of the audio data (callers add the data
	// offset reported through OnDataOffset), for the §4.7/§4.8 seek and discovery
	// protocols. ok is false if the parser cannot resolve the index
	// (e.g. it lies beyond everything parsed or extrapolated so far).
	SeekByPacket(packetIndex int64) (byteOffset int64, ok bool)
	// PacketBufferSizeHint returns the parser's upper bound on one
	// packet's encoded size, or 0 if it has no opinion yet.
	PacketBufferSizeHint() int
	// Discontinuity tells the parser to drop any partially-buffered frame
	// and resynchronize from the next Parse call, because the next bytes
	// it receives will not be contiguous with the last ones (a seek or a
	// total-packet-discovery realignment just closed and reopened the
	// byte source at a new offset).
	Discontinuity()
	// Close releases parser resources.
	Close()
}

// NewParserFunc constructs a FormatParser for a given file type hint,
// wiring its callbacks to sink. Streamer is parameterized by this so
// tests can substitute a fake parser.
type NewParserFunc func(sink ParserSink, hint FileType) FormatParser
