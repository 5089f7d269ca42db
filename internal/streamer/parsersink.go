package streamer

// parserSink adapts Streamer to ParserSink. Every method here runs
// synchronously inside Parser.Parse, which itself only ever runs inside
// a Streamer method that already holds s.mu (onSourceBytes) — so none
// of these lock.
type parserSink struct {
	s *Streamer
}

func (ps parserSink) OnDataOffset(offset int64) {
	ps.s.dataOffset = offset
}

func (ps parserSink) OnAudioDataByteCount(n int64) {
	s := ps.s
	s.audioDataByteCount = n
	s.haveAudioDataByteCount = true
	if s.fileLength == 0 {
		s.fileLength = s.dataOffset + n
	}
}

func (ps parserSink) OnASBD(asbd ASBD) {
	s := ps.s
	s.asbd = asbd
	s.vbr = asbd.BytesPerPacket == 0
}

func (ps parserSink) OnMagicCookie(cookie []byte) {
	ps.s.magicCookie = append([]byte(nil), cookie...)
}

func (ps parserSink) OnReadyToProduce() {}

func (ps parserSink) OnParseError(err error) {
	ps.s.failWithLocked(ErrFileStreamParseBytesFailed, err.Error())
}

// OnVBRPackets implements the packet-callback half of spec §4.4/§4.5:
// the first call triggers total-packets discovery and queue creation;
// afterward, packets either feed straight through to handleVBRLocked or,
// if the pool is still blocked on a drain, detour into the packet queue.
func (ps parserSink) OnVBRPackets(data []byte, descs []PacketDescriptor) {
	s := ps.s
	if s.err != nil {
		return
	}
	if !s.aqCreated {
		s.beforeFirstPacketLocked()
		if s.err != nil {
			return
		}
	}

	if s.waitingOnBuffer || !s.queue.empty() {
		for _, d := range descs {
			pkt := data[d.StartOffset : d.StartOffset+int64(d.ByteSize)]
			s.queue.pushVBR(pkt, d)
		}
		return
	}

	for i, d := range descs {
		pkt := data[d.StartOffset : d.StartOffset+int64(d.ByteSize)]
		result := s.handleVBRLocked(pkt, PacketDescriptor{ByteSize: d.ByteSize})
		if result == 0 {
			for _, rem := range descs[i+1:] {
				p := data[rem.StartOffset : rem.StartOffset+int64(rem.ByteSize)]
				s.queue.pushVBR(p, rem)
			}
			return
		}
		if result == -1 {
			return
		}
	}
}

// OnCBRBytes implements the same dispatch for a constant-bit-rate run.
func (ps parserSink) OnCBRBytes(data []byte) {
	s := ps.s
	if s.err != nil {
		return
	}
	if !s.aqCreated {
		s.beforeFirstPacketLocked()
		if s.err != nil {
			return
		}
	}

	if s.waitingOnBuffer || !s.queue.empty() {
		s.queue.pushCBR(data)
		return
	}

	remaining := data
	for len(remaining) > 0 {
		copied, result := s.handleCBRLocked(remaining)
		remaining = remaining[copied:]
		if result == 0 {
			if len(remaining) > 0 {
				s.queue.pushCBR(remaining)
			}
			return
		}
		if result == -1 {
			return
		}
		if copied == 0 {
			// Nothing fit and nothing failed, which only happens when
			// the fill buffer has no capacity at all. Queue the rest
			// for the drain path rather than loop forever.
			s.queue.pushCBR(remaining)
			return
		}
	}
}
