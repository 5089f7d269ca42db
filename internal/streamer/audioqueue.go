package streamer

import "time"

// AudioQueueEvents is the callback contract an AudioQueue uses to report
// back to the core. A concrete AudioQueue typically runs its own worker
// goroutine(s) (decode, device I/O) and must marshal these calls however
// its runtime requires; Streamer's implementation takes its own lock
// internally so these may arrive from any goroutine (spec §5's
// "exception" clause).
type AudioQueueEvents interface {
	// BufferComplete reports that the buffer at idx has been fully
	// consumed by the queue and may be refilled.
	BufferComplete(idx int)
	// IsRunningChanged reports the queue's running property changing.
	IsRunningChanged(running bool)
	// Failed reports an asynchronous queue failure.
	Failed(kind ErrorKind, reason string)
}

// AudioQueue is the adapter boundary to the platform audio output queue
// (spec §4.9). spec.md treats the queue itself as an external
// collaborator; this is the interface the core drives it through.
type AudioQueue interface {
	// Create allocates the queue and bufferCount buffers of bufferSize
	// bytes for the given format, binds events for callbacks, and
	// transfers magicCookie if non-nil. Returns the allocated buffers
	// in fill order (index 0..bufferCount-1).
	Create(asbd ASBD, bufferCount, bufferSize int, magicCookie []byte, events AudioQueueEvents) ([]*Buffer, error)
	// Start begins playback. playbackRate != 1.0 enables time-pitch.
	Start(playbackRate float64) error
	// Pause suspends playback without releasing resources.
	Pause() error
	// Resume resumes playback after Pause.
	Resume() error
	// Stop halts playback. hard stops synchronously and discards
	// anything still queued; soft (hard==false) is requested but may
	// complete asynchronously via a later IsRunningChanged(false).
	Stop(hard bool) error
	// Flush schedules any partially filled trailing audio to play out.
	Flush() error
	// Enqueue submits buffer idx with bytesFilled valid bytes and,
	// for VBR, its packet descriptors.
	Enqueue(idx int, bytesFilled int, descs []PacketDescriptor) error
	// SetVolume sets linear playback gain in [0,1].
	SetVolume(level float64) error
	// FadeTo ramps gain to level over d.
	FadeTo(level float64, d time.Duration) error
	// SampleTime returns elapsed playback time since Start, for
	// progress(); may run briefly negative right after a restart.
	SampleTime() float64
	// Dispose releases all queue resources. Idempotent.
	Dispose()
}

// NewAudioQueueFunc constructs an AudioQueue. Streamer is parameterized
// by this so tests can substitute a fake queue.
type NewAudioQueueFunc func() AudioQueue
