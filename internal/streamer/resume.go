package streamer

// ResumeHint is the subset of spec §13's per-URL resume metadata a
// caller can seed a fresh Streamer with, learned from a previous
// session against the same URL: a known total_audio_packets count
// (and the data_offset/file_length it was measured against) lets
// beforeFirstPacketLocked skip §4.8's bisection entirely instead of
// re-discovering it by probing the parser.
type ResumeHint struct {
	DataOffset        int64
	FileLength        int64
	TotalAudioPackets int64
	BitsPerSecond     float64
}

// SetResumeHint seeds the Streamer with previously learned resume
// metadata for this URL. It only takes effect if called before Start;
// a hint with TotalAudioPackets <= 0 is ignored.
func (s *Streamer) SetResumeHint(hint ResumeHint) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if hint.TotalAudioPackets <= 0 {
		return
	}
	s.resumeHint = hint
	s.haveResumeHint = true
}

// ResumeSnapshot reports the resume metadata known so far for this
// session, for a caller to persist (spec §13) once the session ends.
// ok is false until total_audio_packets has actually been resolved,
// either from a seeded hint or by this session's own §4.8 discovery.
func (s *Streamer) ResumeSnapshot() (ResumeHint, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.haveTotalAudioPackets {
		return ResumeHint{}, false
	}
	bitsPerSecond, _ := s.bitrate.rate()
	return ResumeHint{
		DataOffset:        s.dataOffset,
		FileLength:        s.fileLength,
		TotalAudioPackets: s.totalAudioPackets,
		BitsPerSecond:     bitsPerSecond,
	}, true
}
