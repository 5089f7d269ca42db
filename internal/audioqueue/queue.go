// Package audioqueue is the concrete streamer.AudioQueue adapter (spec
// §4.9): it decodes enqueued MP3 buffers with gopxl/beep/v2's mp3
// decoder and drives the process-wide beep/speaker output device,
// following the same speaker.Init/Play/Clear and effects.Volume shape
// as the teacher's internal/player/player.go.
package audioqueue

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/effects"
	"github.com/gopxl/beep/v2/mp3"
	"github.com/gopxl/beep/v2/speaker"
	"github.com/rs/zerolog/log"

	"github.com/glebovdev/streamcore/internal/streamer"
)

// SpeakerBufferSize mirrors the teacher's speaker.Init buffer-size
// constant.
const SpeakerBufferSize = 250 * time.Millisecond

// fadeStepInterval is how often FadeTo re-samples the ramp.
const fadeStepInterval = 30 * time.Millisecond

var (
	speakerMu       sync.Mutex
	speakerInitDone bool
	speakerRate     beep.SampleRate
)

// ensureSpeakerInit initializes the process-wide speaker device once
// per sample rate, mirroring the teacher's Player.initSpeaker idempotency
// check — beep's speaker is itself a single global output device, not a
// singleton this package introduces.
func ensureSpeakerInit(rate beep.SampleRate) error {
	speakerMu.Lock()
	defer speakerMu.Unlock()
	if speakerInitDone && rate == speakerRate {
		return nil
	}
	if err := speaker.Init(rate, rate.N(SpeakerBufferSize)); err != nil {
		return fmt.Errorf("failed to initialize speaker: %w", err)
	}
	speakerInitDone = true
	speakerRate = rate
	log.Debug().Msgf("speaker initialized at %d Hz, buffer %v", rate, SpeakerBufferSize)
	return nil
}

type pendingBuffer struct {
	idx  int
	data []byte
}

// Queue is the concrete streamer.AudioQueue. Every method it exposes
// follows the no-block, no-synchronous-callback contract documented on
// streamer.AudioQueueEvents: Enqueue only appends to an internal FIFO
// and signals a feeder goroutine, and Dispose only signals teardown —
// neither blocks on a worker goroutine actually exiting.
type Queue struct {
	mu sync.Mutex

	asbd       streamer.ASBD
	bufferSize int
	buffers    []*streamer.Buffer
	events     streamer.AudioQueueEvents

	pipeReader *io.PipeReader
	pipeWriter *io.PipeWriter
	closePipe  sync.Once

	pending []pendingBuffer
	cond    *sync.Cond
	closed  bool
	started bool

	format beep.Format
	ctrl   *beep.Ctrl
	volume *effects.Volume

	playbackRate float64
	fadeGen      int64

	samplesConsumed int64
	startedAt       time.Time
}

// New constructs a Queue. It satisfies streamer.NewAudioQueueFunc.
func New() streamer.AudioQueue {
	return &Queue{}
}

func (q *Queue) Create(asbd streamer.ASBD, bufferCount, bufferSize int, magicCookie []byte, events streamer.AudioQueueEvents) ([]*streamer.Buffer, error) {
	q.mu.Lock()
	q.asbd = asbd
	q.bufferSize = bufferSize
	q.events = events
	q.buffers = make([]*streamer.Buffer, bufferCount)
	for i := range q.buffers {
		q.buffers[i] = &streamer.Buffer{Data: make([]byte, bufferSize)}
	}
	q.pipeReader, q.pipeWriter = io.Pipe()
	q.cond = sync.NewCond(&q.mu)
	buffers := q.buffers
	q.mu.Unlock()

	// MP3 has no magic cookie (formatmp3 never calls OnMagicCookie);
	// nothing to transfer here. Other containers' concrete parsers would
	// forward magicCookie into their own decoder setup at this point.
	_ = magicCookie

	go q.feedLoop()
	go q.decodeLoop()

	return buffers, nil
}

// feedLoop drains enqueued buffers into the pipe the mp3 decoder reads
// from. It runs independently of the core's mutex; Enqueue never blocks
// on it.
func (q *Queue) feedLoop() {
	for {
		q.mu.Lock()
		for len(q.pending) == 0 && !q.closed {
			q.cond.Wait()
		}
		if q.closed && len(q.pending) == 0 {
			q.mu.Unlock()
			return
		}
		buf := q.pending[0]
		q.pending = q.pending[1:]
		q.mu.Unlock()

		_, err := q.pipeWriter.Write(buf.data)
		q.events.BufferComplete(buf.idx)
		if err != nil {
			return
		}
	}
}

// decodeLoop decodes the piped MP3 bytes, waits for Start, and hands the
// result to the process-wide speaker. It only ever calls back into
// events from its own goroutine, never synchronously from a method the
// core invoked.
func (q *Queue) decodeLoop() {
	dec, format, err := mp3.Decode(q.pipeReader)
	if err != nil {
		q.events.Failed(streamer.ErrAudioQueueCreationFailed, err.Error())
		return
	}

	q.mu.Lock()
	q.format = format
	for !q.started && !q.closed {
		q.cond.Wait()
	}
	closed := q.closed
	q.mu.Unlock()
	if closed {
		dec.Close()
		return
	}

	if err := ensureSpeakerInit(format.SampleRate); err != nil {
		q.events.Failed(streamer.ErrAudioQueueStartFailed, err.Error())
		return
	}

	counted := &countingStreamer{Streamer: dec, count: &q.samplesConsumed}
	playable := beep.Streamer(counted)
	if rate := q.currentPlaybackRate(); rate > 0 && rate != 1.0 {
		// Approximate playback-rate change by resampling: this shifts
		// pitch along with speed, unlike the reference Spectral
		// time-pitch algorithm spec §4.9 describes, which beep has no
		// equivalent for. See DESIGN.md.
		target := beep.SampleRate(float64(format.SampleRate) * rate)
		playable = beep.Resample(4, format.SampleRate, target, counted)
	}

	volume := &effects.Volume{Streamer: playable, Base: 2, Volume: 0, Silent: false}
	ctrl := &beep.Ctrl{Streamer: volume, Paused: false}

	q.mu.Lock()
	q.volume = volume
	q.ctrl = ctrl
	q.startedAt = time.Now()
	q.mu.Unlock()

	done := make(chan struct{})
	speaker.Play(beep.Seq(ctrl, beep.Callback(func() { close(done) })))
	q.events.IsRunningChanged(true)

	<-done
	q.events.IsRunningChanged(false)
}

func (q *Queue) currentPlaybackRate() float64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.playbackRate
}

func (q *Queue) Start(playbackRate float64) error {
	q.mu.Lock()
	if playbackRate <= 0 {
		playbackRate = 1.0
	}
	q.playbackRate = playbackRate
	q.started = true
	q.cond.Broadcast()
	q.mu.Unlock()
	return nil
}

func (q *Queue) Pause() error {
	q.mu.Lock()
	ctrl := q.ctrl
	q.mu.Unlock()
	if ctrl == nil {
		return errors.New("audioqueue: not yet playing")
	}
	speaker.Lock()
	ctrl.Paused = true
	speaker.Unlock()
	return nil
}

func (q *Queue) Resume() error {
	q.mu.Lock()
	ctrl := q.ctrl
	q.mu.Unlock()
	if ctrl == nil {
		return errors.New("audioqueue: not yet playing")
	}
	speaker.Lock()
	ctrl.Paused = false
	speaker.Unlock()
	return nil
}

// Stop halts playback. A soft stop closes the feed like Flush, so the
// decoder plays out what it was given and reaches the natural end, which
// reports IsRunningChanged(false). A hard stop pauses and clears the
// device mixer synchronously (mirroring the teacher's speaker.Clear() in
// Player.Stop) and never triggers IsRunningChanged itself — Clear()
// bypasses the Seq/Callback completion path entirely.
func (q *Queue) Stop(hard bool) error {
	if !hard {
		return q.Flush()
	}
	q.mu.Lock()
	ctrl := q.ctrl
	q.mu.Unlock()

	if ctrl != nil {
		speaker.Lock()
		ctrl.Paused = true
		speaker.Unlock()
	}
	speaker.Clear()
	return nil
}

// Flush signals that no more buffers are coming, letting the decoder
// drain what is already piped and reach a natural EOF (spec §4.4 step
// 5's "flush the audio queue asynchronously").
func (q *Queue) Flush() error {
	q.closePipe.Do(func() {
		q.pipeWriter.Close()
	})
	return nil
}

func (q *Queue) Enqueue(idx int, bytesFilled int, descs []streamer.PacketDescriptor) error {
	q.mu.Lock()
	if idx < 0 || idx >= len(q.buffers) {
		q.mu.Unlock()
		return fmt.Errorf("audioqueue: buffer index %d out of range", idx)
	}
	data := append([]byte(nil), q.buffers[idx].Data[:bytesFilled]...)
	q.pending = append(q.pending, pendingBuffer{idx: idx, data: data})
	q.cond.Signal()
	q.mu.Unlock()
	return nil
}

func (q *Queue) SetVolume(level float64) error {
	q.mu.Lock()
	volume := q.volume
	q.mu.Unlock()
	if volume == nil {
		return errors.New("audioqueue: not yet playing")
	}
	db, silent := levelToVolumeDB(level)
	speaker.Lock()
	volume.Volume = db
	volume.Silent = silent
	speaker.Unlock()
	return nil
}

// FadeTo ramps the gain to level over d in a dedicated goroutine, never
// blocking the caller. A new FadeTo call supersedes any fade already in
// flight (tracked via fadeGen, the same superseded-generation pattern
// Streamer uses for stale collaborator callbacks).
func (q *Queue) FadeTo(level float64, d time.Duration) error {
	q.mu.Lock()
	volume := q.volume
	q.fadeGen++
	myGen := q.fadeGen
	q.mu.Unlock()
	if volume == nil {
		return errors.New("audioqueue: not yet playing")
	}

	targetDB, targetSilent := levelToVolumeDB(level)
	if d <= 0 {
		speaker.Lock()
		volume.Volume, volume.Silent = targetDB, targetSilent
		speaker.Unlock()
		return nil
	}

	speaker.Lock()
	startDB := volume.Volume
	speaker.Unlock()

	go func() {
		steps := int(d / fadeStepInterval)
		if steps < 1 {
			steps = 1
		}
		ticker := time.NewTicker(fadeStepInterval)
		defer ticker.Stop()

		for step := 1; step <= steps; step++ {
			<-ticker.C

			q.mu.Lock()
			stale := q.fadeGen != myGen
			q.mu.Unlock()
			if stale {
				return
			}

			frac := float64(step) / float64(steps)
			db := startDB + (targetDB-startDB)*frac
			speaker.Lock()
			volume.Volume = db
			volume.Silent = step == steps && targetSilent
			speaker.Unlock()
		}
	}()
	return nil
}

// SampleTime returns elapsed playback time in seconds, derived from the
// count of samples the decoder has actually produced (spec §4.11
// progress / §9: "queue's sample time which can briefly be negative
// right after restart" — ours never goes negative since the count only
// grows from 0 over the Queue's lifetime, but callers still floor at 0
// defensively).
func (q *Queue) SampleTime() float64 {
	q.mu.Lock()
	rate := q.format.SampleRate
	q.mu.Unlock()
	if rate == 0 {
		return 0
	}
	return float64(atomic.LoadInt64(&q.samplesConsumed)) / float64(rate)
}

// Dispose tears the queue down without blocking on feedLoop or
// decodeLoop actually exiting, per the same non-blocking-close contract
// as bytesource.close().
func (q *Queue) Dispose() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	ctrl := q.ctrl
	q.mu.Unlock()

	q.cond.Broadcast()
	q.closePipe.Do(func() {
		q.pipeWriter.Close()
	})
	q.pipeReader.Close()

	if ctrl != nil {
		speaker.Lock()
		ctrl.Paused = true
		speaker.Unlock()
	}
	speaker.Clear()
}

// countingStreamer wraps the decoded mp3 stream to track consumed sample
// count for SampleTime, mirroring the teacher's bufferedStreamerWrapper
// shape (a Streamer decorator sitting between the decoder and
// effects.Volume) but counting instead of fading.
type countingStreamer struct {
	beep.Streamer
	count *int64
}

func (c *countingStreamer) Stream(samples [][2]float64) (n int, ok bool) {
	n, ok = c.Streamer.Stream(samples)
	if c.count != nil {
		atomic.AddInt64(c.count, int64(n))
	}
	return n, ok
}
