package streamer

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

const (
	DefaultBufferCount     = 16
	DefaultBufferSize      = 2048
	DefaultTimeoutInterval = 10 * time.Second
	DefaultPlaybackRate    = 1.0

	// MaxRetries and RetryDelay bound the reconnect-with-backoff path
	// (grounded on player.go's playWithRetry/reconnectWithRotation).
	MaxRetries = 3
	RetryDelay = 2 * time.Second
)

// Streamer is the coupled producer/consumer pipeline: one network byte
// source, one container format parser, one bounded pool of output
// buffers, and one platform audio output queue, orchestrated by a
// single state machine (spec §2-§5). All mutable state lives behind mu;
// every collaborator callback (byte source, parser, audio queue, the
// watchdog ticker) funnels through a method that takes mu for its
// entire body, generalizing the teacher's per-concern mutex set
// (mu/stateMu/trackMu/streamAliveMu in player.go) into one lock guarding
// the tightly coupled buffer-pool/packet-queue/state-machine invariants.
type Streamer struct {
	mu sync.Mutex

	url          string
	proxy        ProxyConfig
	bufferCount  int
	bufferSize   int
	timeout      time.Duration
	playbackRate float64
	bufferInfinite bool
	fileTypeOverride FileType
	haveFileTypeOverride bool

	newParser     NewParserFunc
	newAudioQueue NewAudioQueueFunc

	notifier

	state   State
	err     *StreamError
	doneReason DoneReason

	source      *byteSource
	sourceAtEOF bool
	unscheduled bool
	rescheduled bool

	everPlayed         bool
	retryCount         int
	openedAtByteOffset int64
	bytesSinceOpen     int64

	watchdogStop         chan struct{}
	eventsSinceLastTick  int

	parser       FormatParser
	fileTypeHint FileType
	fileTypeKnown bool
	sniffer      *shoutcastSniffer

	dataOffset             int64
	audioDataByteCount     int64
	haveAudioDataByteCount bool
	fileLength             int64
	asbd                   ASBD
	vbr                    bool
	magicCookie            []byte

	aq               AudioQueue
	aqCreated        bool
	aqRunning        bool
	packetBufferSize int
	pool             *bufferPool
	queue            packetQueue
	waitingOnBuffer  bool

	totalAudioPackets     int64
	haveTotalAudioPackets bool

	resumeHint     ResumeHint
	haveResumeHint bool

	bitrate            bitrateEstimator
	bitrateReadyPosted bool

	seeking        bool
	seekByteOffset int64
	seekTime       float64

	probed bool

	volumeLevel float64

	currentTrackTitle string

	startedAt    time.Time
	lastProgress float64
}

// New constructs a Streamer for rawURL. newParser and newAudioQueue
// wire the format-parsing and audio-output collaborators; tests
// substitute fakes for both.
func New(rawURL string, newParser NewParserFunc, newAudioQueue NewAudioQueueFunc) *Streamer {
	return &Streamer{
		url:           rawURL,
		newParser:     newParser,
		newAudioQueue: newAudioQueue,
		bufferCount:   DefaultBufferCount,
		bufferSize:    DefaultBufferSize,
		timeout:       DefaultTimeoutInterval,
		playbackRate:  DefaultPlaybackRate,
		volumeLevel:   1.0,
		state:         StateInitialized,
	}
}

// --- configuration (valid before Start) -----------------------------------

func (s *Streamer) SetBufferCount(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n > 0 {
		s.bufferCount = n
	}
}

func (s *Streamer) SetBufferSize(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n > 0 {
		s.bufferSize = n
	}
}

func (s *Streamer) SetTimeoutInterval(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.timeout = d
}

func (s *Streamer) SetPlaybackRate(rate float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rate > 0 {
		s.playbackRate = rate
	}
}

func (s *Streamer) SetBufferInfinite(infinite bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bufferInfinite = infinite
}

func (s *Streamer) SetFileTypeHint(ft FileType) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fileTypeOverride = ft
	s.haveFileTypeOverride = true
}

func (s *Streamer) SetSystemProxy() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.proxy = ProxyConfig{Kind: ProxySystem}
}

func (s *Streamer) SetHTTPProxy(host string, port int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.proxy = ProxyConfig{Kind: ProxyHTTP, Host: host, Port: port}
}

func (s *Streamer) SetSOCKSProxy(host string, port int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.proxy = ProxyConfig{Kind: ProxySOCKS, Host: host, Port: port}
}

// --- lifecycle --------------------------------------------------------------

// Start opens the byte source and transitions to WaitingForData. It is
// only meaningful from Initialized; calling it again is a no-op.
func (s *Streamer) Start() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateInitialized {
		return false
	}

	s.setStateLocked(StateWaitingForData)
	s.startedAt = time.Now()
	s.startWatchdogLocked(s.timeout)
	s.reopenSourceLocked()
	return true
}

// reopenSourceLocked closes whatever byte source is current (if any) and
// opens a fresh one at seekByteOffset, wiring a staleness-guarded events
// adapter so a stray callback from the outgoing source can never be
// mistaken for one from the new source (spec §5's single-writer framing,
// realized here as "exactly one *byteSource is ever live per Streamer").
func (s *Streamer) reopenSourceLocked() {
	if s.source != nil {
		s.source.close()
	}
	s.sourceAtEOF = false
	s.unscheduled = false
	s.rescheduled = false

	src := newByteSource(s.url, s.proxy, false)
	src.events = sourceSink{s: s, src: src}
	s.source = src

	seekOffset := s.seekByteOffset
	fileLength := s.fileLength
	pbs := s.packetBufferSize
	if pbs == 0 {
		pbs = s.bufferSize
	}
	needsProbe := !s.probed
	s.probed = true
	s.openedAtByteOffset = seekOffset
	s.bytesSinceOpen = 0

	if s.state == StateReconnecting {
		s.setStateLocked(StateWaitingForData)
	}

	go func() {
		if needsProbe {
			if _, cl, finalURL, err := src.probeMetadata(src.url); err == nil {
				if finalURL != "" && finalURL != src.url {
					src.url = finalURL
				}
				s.onProbeResult(src, cl, finalURL)
			}
		}

		// Hold the read loop until the headers are handled, so no bytes
		// reach onSourceBytes before a parser exists for them.
		src.unschedule()
		header, err := src.open(seekOffset, fileLength, pbs)
		if err != nil {
			s.onSourceError(src, err)
			return
		}
		s.onSourceHeaders(src, header)
		src.schedule()
	}()
}

// onProbeResult folds in what the short Range:0-0 probe learned ahead of
// the long-lived GET: a Content-Length before any bytes have arrived
// (spec §4.11 duration can answer sooner), and the redirect target so
// later reopens (seeks) hit it directly instead of re-following the
// same redirect every time.
func (s *Streamer) onProbeResult(src *byteSource, contentLength int64, finalURL string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.source != src {
		return
	}
	if contentLength > 0 && s.fileLength == 0 {
		s.fileLength = contentLength
	}
	if finalURL != "" {
		s.url = finalURL
	}
}

// Stop transitions to Stopped from any state and tears down every
// collaborator. Idempotent (spec §8 P4's sibling for stop): repeated
// calls after the first are no-ops beyond re-asserting the state.
func (s *Streamer) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setStateLocked(StateStopped)
	s.doneReason = DoneReasonStopped
	s.stopLocked()
}

// stopLocked releases every collaborator exactly once. Safe to call from
// inside any callback already holding mu, since byteSource.close and
// AudioQueue.Dispose are required to never block on, or synchronously
// call back into, the core.
func (s *Streamer) stopLocked() {
	s.stopWatchdogLocked()
	if s.source != nil {
		s.source.close()
		s.source = nil
	}
	if s.aq != nil {
		s.aq.Dispose()
		s.aq = nil
		s.aqCreated = false
	}
	s.queue.drain()
	s.pool = nil
	s.waitingOnBuffer = false
}

// Pause suspends audio output without releasing any resource. Only
// meaningful from Playing.
func (s *Streamer) Pause() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StatePlaying || s.aq == nil {
		return false
	}
	if err := s.aq.Pause(); err != nil {
		s.failWithLocked(ErrAudioQueuePauseFailed, err.Error())
		return false
	}
	s.setStateLocked(StatePaused)
	return true
}

// Resume resumes audio output after Pause.
func (s *Streamer) Resume() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StatePaused || s.aq == nil {
		return false
	}
	if err := s.aq.Resume(); err != nil {
		s.failWithLocked(ErrAudioQueuePauseFailed, err.Error())
		return false
	}
	s.setStateLocked(StatePlaying)
	return true
}

// --- volume -----------------------------------------------------------------

func (s *Streamer) SetVolume(level float64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if level < 0 || level > 1 {
		return false
	}
	s.volumeLevel = level
	if s.aq == nil {
		return true
	}
	if err := s.aq.SetVolume(level); err != nil {
		return false
	}
	return true
}

func (s *Streamer) FadeTo(level float64, d time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if level < 0 || level > 1 || s.aq == nil {
		return false
	}
	s.volumeLevel = level
	return s.aq.FadeTo(level, d) == nil
}

func (s *Streamer) FadeIn(d time.Duration) bool  { return s.FadeTo(1, d) }
func (s *Streamer) FadeOut(d time.Duration) bool { return s.FadeTo(0, d) }

// --- seek -------------------------------------------------------------------

// SeekToTime implements the spec §4.7 seek protocol. It requires the
// bitrate and duration estimates to already be answerable; callers
// should gate a seek UI affordance on CalculatedBitRate()'s ok return.
func (s *Streamer) SeekToTime(targetSeconds float64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StatePlaying && s.state != StatePaused {
		return false
	}

	bitsPerSecond, bitrateKnown := s.bitrate.rate()
	duration, durationKnown := estimateDuration(
		0, false,
		s.totalAudioPackets, s.haveTotalAudioPackets,
		s.asbd, s.fileLength, s.dataOffset, bitsPerSecond, bitrateKnown,
	)
	if !bitrateKnown || bitsPerSecond <= 0 || !durationKnown || duration <= 0 {
		return false
	}

	naive := seekNaiveByteOffset(targetSeconds, duration, s.dataOffset, s.fileLength)
	capped := capSeekOffset(naive, s.fileLength, s.packetBufferSize)
	seekTime := targetSeconds

	if s.parser != nil && s.asbd.SampleRate > 0 && s.asbd.FramesPerPacket > 0 {
		if dur := packetDuration(s.asbd); dur > 0 {
			seekPacket := int64(targetSeconds / dur)
			if aligned, ok := s.parser.SeekByPacket(seekPacket); ok {
				alignedOffset := aligned + s.dataOffset
				seekTime = targetSeconds + residualSeconds(alignedOffset, capped, bitsPerSecond)
				capped = alignedOffset
			}
		}
		s.parser.Discontinuity()
	}

	wasPlaying := s.state == StatePlaying
	s.seeking = true
	s.seekByteOffset = capped
	s.seekTime = seekTime

	if s.source != nil {
		s.source.close()
		s.source = nil
	}

	if s.aq != nil {
		if err := s.aq.Stop(true); err != nil {
			s.seeking = false
			s.failWithLocked(ErrAudioQueueStopFailed, err.Error())
			return false
		}
	}

	if s.pool != nil {
		for i := range s.pool.inuse {
			s.pool.inuse[i] = false
		}
		s.pool.buffersUsed = 0
		s.pool.fillIndex = 0
		s.pool.bytesFilled = 0
		s.pool.packetsFilled = 0
	}
	s.queue.drain()
	s.waitingOnBuffer = false

	s.reopenSourceLocked()
	s.seeking = false

	if wasPlaying {
		s.setStateLocked(StatePlaying)
	}
	return true
}

// SeekByDelta seeks relative to the current playback position.
func (s *Streamer) SeekByDelta(deltaSeconds float64) bool {
	pos, ok := s.Progress()
	if !ok {
		return false
	}
	target := pos + deltaSeconds
	if target < 0 {
		target = 0
	}
	return s.SeekToTime(target)
}

func packetDuration(asbd ASBD) float64 {
	if asbd.SampleRate <= 0 {
		return 0
	}
	return float64(asbd.FramesPerPacket) / asbd.SampleRate
}

// --- introspection -----------------------------------------------------------

func (s *Streamer) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Streamer) IsPlaying() bool { return s.State() == StatePlaying }
func (s *Streamer) IsPaused() bool  { return s.State() == StatePaused }
func (s *Streamer) IsDone() bool    { return s.State() == StateDone }

func (s *Streamer) DoneReason() DoneReason {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.doneReason
}

func (s *Streamer) LastError() *StreamError {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *Streamer) CurrentTrackTitle() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentTrackTitle
}

func (s *Streamer) CalculatedBitRate() (float64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bitrate.rate()
}

func (s *Streamer) Duration() (float64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	bitsPerSecond, bitrateKnown := s.bitrate.rate()
	return estimateDuration(
		0, false,
		s.totalAudioPackets, s.haveTotalAudioPackets,
		s.asbd, s.fileLength, s.dataOffset, bitsPerSecond, bitrateKnown,
	)
}

// Progress returns elapsed playback time in seconds, per spec §4.11's
// "seek_time + audio queue sample time" composition. ok is false until
// the audio queue has been created; once the stream is Stopped or Done it
// reports the last position known before that transition.
func (s *Streamer) Progress() (float64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.progressLocked()
}

func (s *Streamer) progressLocked() (float64, bool) {
	if s.state == StateDone || s.state == StateStopped {
		return s.lastProgress, s.lastProgress > 0 || s.doneReason != DoneReasonNone
	}
	if !s.aqCreated {
		return 0, false
	}
	t := s.seekTime + s.aq.SampleTime()
	if t < 0 {
		t = 0
	}
	return t, true
}

func (s *Streamer) StreamInfo() StreamInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	bitsPerSecond, _ := s.bitrate.rate()
	return StreamInfo{
		FileType:   s.fileTypeHint,
		Bitrate:    int(bitsPerSecond),
		SampleRate: int(s.asbd.SampleRate),
		VBR:        s.vbr,
	}
}

// --- state machine helpers ---------------------------------------------------

func (s *Streamer) setStateLocked(newState State) {
	if s.state == newState {
		return
	}
	if (newState == StateStopped || newState == StateDone) && s.state != StateStopped && s.state != StateDone {
		s.lastProgress, _ = s.progressLocked()
	}
	s.state = newState
	switch newState {
	case StatePlaying:
		s.everPlayed = true
		s.retryCount = 0
	case StateStopped:
		s.doneReason = DoneReasonStopped
	case StateDone:
		if s.err != nil {
			s.doneReason = DoneReasonError
		} else if s.doneReason == DoneReasonNone {
			s.doneReason = DoneReasonEOF
		}
	}
	s.publish(Notification{Kind: NotifyStatusChanged, State: newState})
}

// failWithLocked is the idempotent terminal-error path of spec §7: only
// the first call on a given Streamer has any effect.
func (s *Streamer) failWithLocked(kind ErrorKind, reason string) {
	if s.err != nil {
		return
	}
	s.lastProgress, _ = s.progressLocked()
	s.err = &StreamError{Kind: kind, Reason: reason}
	s.doneReason = DoneReasonError
	s.state = StateDone
	s.stopLocked()
	s.publish(Notification{Kind: NotifyStatusChanged, State: StateDone})
}

func (s *Streamer) maybePostBitrateReadyLocked() {
	if !s.bitrateReadyPosted && s.bitrate.ready() {
		s.bitrateReadyPosted = true
		s.publish(Notification{Kind: NotifyBitrateReady})
	}
}

// --- byte source events ------------------------------------------------------

// sourceSink adapts Streamer to byteSourceEvents for exactly one
// *byteSource, so a callback arriving after the core has already moved
// on to a different source (a seek, a realignment, or a close) is
// recognized as stale and dropped instead of corrupting state that now
// belongs to someone else.
type sourceSink struct {
	s   *Streamer
	src *byteSource
}

func (ss sourceSink) onBytesAvailable(data []byte) { ss.s.onSourceBytes(ss.src, data) }
func (ss sourceSink) onEndEncountered()             { ss.s.onSourceEnd(ss.src) }
func (ss sourceSink) onErrorOccurred(err error)     { ss.s.onSourceError(ss.src, err) }
func (ss sourceSink) onTrackTitle(title string)     { ss.s.onTrackTitle(ss.src, title) }

func (s *Streamer) onSourceHeaders(src *byteSource, header http.Header) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.source != src {
		return
	}

	if s.fileLength == 0 {
		if cr := header.Get("Content-Range"); cr != "" {
			if idx := strings.LastIndex(cr, "/"); idx >= 0 {
				if n, err := strconv.ParseInt(cr[idx+1:], 10, 64); err == nil {
					s.fileLength = n
				}
			}
		} else if cl := header.Get("Content-Length"); cl != "" && s.seekByteOffset == 0 {
			if n, err := strconv.ParseInt(cl, 10, 64); err == nil {
				s.fileLength = n
			}
		}
	}

	if s.parser != nil {
		return
	}

	contentType := header.Get("Content-Type")
	var ft FileType
	var known bool
	if s.haveFileTypeOverride {
		ft, known = s.fileTypeOverride, true
	} else {
		ft, known = ResolveFileType(contentType, s.url)
	}
	s.fileTypeHint = ft
	s.fileTypeKnown = known
	if !known {
		s.sniffer = &shoutcastSniffer{}
	}
	s.parser = s.newParser(parserSink{s: s}, s.fileTypeHint)
}

func (s *Streamer) onSourceBytes(src *byteSource, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.source != src || s.state == StateStopped || s.state == StateDone {
		return
	}
	s.eventsSinceLastTick++
	s.bytesSinceOpen += int64(len(data))

	if s.sniffer != nil {
		contentType, terminated, remainder := s.sniffer.feed(data)
		if !terminated {
			return
		}
		s.resolveSniffedTypeLocked(contentType)
		data = remainder
		if len(data) == 0 {
			return
		}
	}

	if s.parser == nil {
		return
	}
	if err := s.parser.Parse(data); err != nil {
		s.failWithLocked(ErrFileStreamParseBytesFailed, err.Error())
	}
}

// resolveSniffedTypeLocked implements spec §4.2 steps 1-4: the type
// guessed at open-time was wrong (or absent), so every collaborator
// that was sized or constructed around it gets torn down and rebuilt.
// Per spec §9's ambiguous-behavior note, buffers are freed immediately
// but not reallocated until create_queue runs again off the next
// packet callback; the state drops back to WaitingForData so nothing
// tries to enqueue in between.
func (s *Streamer) resolveSniffedTypeLocked(contentType string) {
	s.sniffer = nil

	ft := DefaultFileType
	if parsed, ok := FileTypeFromContentType(contentType); ok {
		ft = parsed
	}
	s.fileTypeHint = ft
	s.fileTypeKnown = true

	if s.parser != nil {
		s.parser.Close()
		s.parser = nil
	}
	if s.aq != nil {
		_ = s.aq.Stop(true)
		s.aq.Dispose()
		s.aq = nil
		s.aqCreated = false
	}
	s.pool = nil
	s.queue.drain()
	s.waitingOnBuffer = false

	s.setStateLocked(StateWaitingForData)
	s.parser = s.newParser(parserSink{s: s}, s.fileTypeHint)
}

func (s *Streamer) onSourceEnd(src *byteSource) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.source != src || s.state == StateStopped || s.state == StateDone {
		return
	}
	s.eventsSinceLastTick++
	s.sourceAtEOF = true

	if s.pool != nil && s.pool.bytesFilled > 0 && !s.pool.inuse[s.pool.fillIndex] {
		s.enqueueBufferLocked()
	}

	switch {
	case s.aqCreated:
		if s.state == StateWaitingForData {
			s.startAudioQueueLocked()
		}
		if s.pool != nil && s.pool.buffersUsed == 0 && s.queue.empty() {
			_ = s.aq.Stop(false)
		} else {
			_ = s.aq.Flush()
		}
	case s.seekByteOffset > 0:
		s.doneReason = DoneReasonEOF
		s.setStateLocked(StateDone)
	default:
		s.failWithLocked(ErrAudioDataNotFound, "no audio data received before end of stream")
	}
}

// onSourceError implements SPEC_FULL.md §13's reconnect path: a drop
// that happens after the stream already played is treated as transient
// and retried up to MaxRetries times at RetryDelay, reopening at the last
// byte offset this source delivered (sent as a Range request only when
// the file length is known; grounded on player.go's
// reconnectWithRotation). A drop before anything ever played, a
// non-retryable HTTP status, or exhausting the retry budget all fall
// through to the ordinary terminal-error path.
func (s *Streamer) onSourceError(src *byteSource, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.source != src || s.state == StateStopped || s.state == StateDone {
		return
	}
	s.eventsSinceLastTick++

	if s.everPlayed && !isNonRetryableError(err) && s.retryCount < MaxRetries {
		s.retryCount++
		s.seekByteOffset = s.openedAtByteOffset + s.bytesSinceOpen
		s.setStateLocked(StateReconnecting)
		go s.scheduleReconnect()
		return
	}

	s.failWithLocked(ErrNetworkConnectionFailed, err.Error())
}

// scheduleReconnect waits out RetryDelay off the core lock, then reopens
// the source if nothing else has moved the Streamer on in the meantime.
func (s *Streamer) scheduleReconnect() {
	time.Sleep(RetryDelay)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateReconnecting {
		return
	}
	s.reopenSourceLocked()
}

func (s *Streamer) onTrackTitle(src *byteSource, title string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.source != src {
		return
	}
	s.eventsSinceLastTick++
	if title == s.currentTrackTitle {
		return
	}
	s.currentTrackTitle = title
	s.publish(Notification{Kind: NotifyTrackTitleChanged, Title: title})
}

// --- first-packet bootstrap and the buffer pool protocol ---------------------

// beforeFirstPacketLocked runs once, on the very first packet callback
// from the parser: it discovers total_audio_packets by bisection
// (spec §4.8), realigns the byte source at packet 0 if discovery moved
// the parser's cursor, and creates the audio queue.
func (s *Streamer) beforeFirstPacketLocked() {
	if s.haveResumeHint && s.resumeHint.FileLength == s.fileLength {
		s.totalAudioPackets = s.resumeHint.TotalAudioPackets
		s.haveTotalAudioPackets = true
	} else if s.parser != nil {
		if total, _, ok := discoverTotalPackets(s.parser.SeekByPacket); ok {
			s.totalAudioPackets = total
			s.haveTotalAudioPackets = true
			if zeroOffset, zok := s.parser.SeekByPacket(0); zok {
				s.seekByteOffset = zeroOffset + s.dataOffset
				s.parser.Discontinuity()
				s.reopenSourceLocked()
			}
		}
	}
	s.createAudioQueueLocked()
}

func (s *Streamer) createAudioQueueLocked() {
	hint := 0
	if s.parser != nil {
		hint = s.parser.PacketBufferSizeHint()
	}
	s.packetBufferSize = hint
	if s.packetBufferSize <= 0 {
		s.packetBufferSize = s.bufferSize
	}

	bufferCount := s.bufferCount
	if bufferCount <= 0 {
		bufferCount = DefaultBufferCount
	}

	aq := s.newAudioQueue()
	buffers, err := aq.Create(s.asbd, bufferCount, s.packetBufferSize, s.magicCookie, aqSink{s: s, aq: aq})
	if err != nil {
		s.failWithLocked(ErrAudioQueueCreationFailed, err.Error())
		return
	}

	s.aq = aq
	s.aqCreated = true
	s.pool = newBufferPool(buffers, s.packetBufferSize)
	_ = s.aq.SetVolume(s.volumeLevel)
}

// enqueueBufferLocked implements spec §4.4: hand the fill buffer to the
// audio queue, start it once enough buffers have accumulated, advance
// the fill cursor, and report back whether the byte source should keep
// feeding (1), stop because the pool is now full (0), or the stream has
// already failed (-1).
func (s *Streamer) enqueueBufferLocked() int {
	if s.pool == nil {
		return -1
	}
	idx := s.pool.fillIndex
	if s.pool.inuse[idx] {
		s.failWithLocked(ErrAudioQueueEnqueueFailed, "fill buffer already in use")
		return -1
	}

	bytesFilled := s.pool.bytesFilled
	var descs []PacketDescriptor
	if s.vbr {
		descs = append([]PacketDescriptor(nil), s.pool.descriptorsInUse()...)
	}

	s.pool.markInUse()
	if err := s.aq.Enqueue(idx, bytesFilled, descs); err != nil {
		s.failWithLocked(ErrAudioQueueEnqueueFailed, err.Error())
		return -1
	}

	if s.state == StateWaitingForData {
		if s.bufferCount < 3 || s.pool.buffersUsed > 2 || s.sourceAtEOF {
			s.startAudioQueueLocked()
		}
	}

	s.pool.advance()

	if s.queue.empty() && s.sourceAtEOF {
		_ = s.aq.Flush()
	}

	if s.pool.inuse[s.pool.fillIndex] {
		if !s.bufferInfinite && s.source != nil {
			s.source.unschedule()
			s.unscheduled = true
			s.rescheduled = false
		}
		s.waitingOnBuffer = true
		return 0
	}
	return 1
}

func (s *Streamer) startAudioQueueLocked() {
	if err := s.aq.Start(s.playbackRate); err != nil {
		s.failWithLocked(ErrAudioQueueStartFailed, err.Error())
		return
	}
	s.setStateLocked(StateWaitingForQueueToStart)
}

// handleVBRLocked implements spec §4.5's VBR packet handler: enqueue the
// current buffer first if the packet would not fit, then append the
// packet and its descriptor. data must already be sliced to exactly
// desc.ByteSize bytes.
func (s *Streamer) handleVBRLocked(data []byte, desc PacketDescriptor) int {
	if int(desc.ByteSize) > s.packetBufferSize {
		s.failWithLocked(ErrAudioBufferTooSmall, "packet exceeds the packet buffer size")
		return -1
	}

	if s.pool.remaining() < int(desc.ByteSize) {
		if result := s.enqueueBufferLocked(); result != 1 {
			return result
		}
	}

	if s.asbd.SampleRate > 0 {
		s.bitrate.addVBRPacket(desc.ByteSize, packetDuration(s.asbd))
		s.maybePostBitrateReadyLocked()
	}

	startOffset := int64(s.pool.bytesFilled)
	s.pool.appendBytes(data)
	s.pool.recordDescriptor(startOffset, desc.ByteSize)

	if s.pool.packetsFilled >= MaxPacketDescs {
		return s.enqueueBufferLocked()
	}
	return 1
}

// handleCBRLocked implements spec §4.5's CBR handler: it copies as much
// of data as fits into the buffer currently being filled, enqueuing
// first if the whole run does not fit in the space left. It returns how many bytes were
// actually copied so the caller can requeue any uncopied suffix.
func (s *Streamer) handleCBRLocked(data []byte) (copied int, result int) {
	if s.pool.remaining() < len(data) {
		result = s.enqueueBufferLocked()
		if result != 1 {
			return 0, result
		}
	}

	if !s.bitrate.cbrKnown && s.asbd.SampleRate > 0 {
		s.bitrate.setCBR(s.asbd)
		s.maybePostBitrateReadyLocked()
	}

	copySize := s.pool.remaining()
	if copySize > len(data) {
		copySize = len(data)
	}
	s.pool.appendBytes(data[:copySize])
	return copySize, 1
}

// drainPacketQueueLocked implements spec §4.6: feed detoured packets
// back through the same handlers until the queue is empty or a handler
// blocks again, then reschedule the byte source if draining freed it up.
func (s *Streamer) drainPacketQueueLocked() {
	for {
		node := s.queue.head
		if node == nil {
			break
		}

		if node.vbr {
			result := s.handleVBRLocked(node.data, PacketDescriptor{ByteSize: node.desc.ByteSize})
			if result == 0 {
				return
			}
			s.queue.popFront()
			if result == -1 {
				return
			}
			continue
		}

		copySize, result := s.handleCBRLocked(node.data)
		node.data = node.data[copySize:]
		if len(node.data) == 0 {
			s.queue.popFront()
		}
		if result == 0 {
			return
		}
		if result == -1 {
			return
		}
	}

	if s.queue.empty() && !s.bufferInfinite && s.unscheduled && s.source != nil {
		s.source.schedule()
		s.unscheduled = false
		s.rescheduled = true
	}
}

// --- audio queue events ------------------------------------------------------

// aqSink adapts Streamer to AudioQueueEvents for exactly one AudioQueue
// instance, mirroring sourceSink's staleness guard.
type aqSink struct {
	s  *Streamer
	aq AudioQueue
}

func (a aqSink) BufferComplete(idx int)         { a.s.onBufferComplete(a.aq, idx) }
func (a aqSink) IsRunningChanged(running bool)  { a.s.onIsRunningChanged(a.aq, running) }
func (a aqSink) Failed(kind ErrorKind, reason string) { a.s.onAudioQueueFailed(a.aq, kind, reason) }

func (s *Streamer) onBufferComplete(aq AudioQueue, idx int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.aq != aq || s.pool == nil {
		return
	}
	if !s.pool.release(idx) {
		return
	}
	if s.state == StateStopped || s.state == StateDone {
		return
	}

	if s.pool.buffersUsed == 0 && s.queue.empty() && s.sourceAtEOF {
		_ = s.aq.Stop(false)
		return
	}

	if s.waitingOnBuffer {
		s.waitingOnBuffer = false
		s.drainPacketQueueLocked()
	}
}

func (s *Streamer) onIsRunningChanged(aq AudioQueue, running bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.aq != aq {
		return
	}
	s.aqRunning = running
	if running {
		if s.state == StateWaitingForQueueToStart {
			s.setStateLocked(StatePlaying)
		}
		return
	}
	if s.seeking || s.state == StateStopped || s.state == StateDone || s.state == StatePaused {
		return
	}
	s.doneReason = DoneReasonEOF
	s.setStateLocked(StateDone)
}

func (s *Streamer) onAudioQueueFailed(aq AudioQueue, kind ErrorKind, reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.aq != aq {
		return
	}
	s.failWithLocked(kind, reason)
}
