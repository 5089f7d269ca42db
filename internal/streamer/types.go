// Package streamer implements the streaming state machine: the coupled
// producer/consumer pipeline between a network byte source, a container
// format parser, a bounded pool of output buffers, and a platform audio
// output queue.
package streamer

// FileType identifies a recognized audio container/codec. It is derived
// from an HTTP Content-Type header, then a URL extension, then defaults
// to MP3 (see FileTypeFromContentType, FileTypeFromExtension).
type FileType int

const (
	FileTypeMP3 FileType = iota
	FileTypeWAV
	FileTypeAIFF
	FileTypeM4A
	FileTypeMPEG4
	FileTypeCAF
	FileTypeAACADTS
)

func (t FileType) String() string {
	switch t {
	case FileTypeMP3:
		return "MP3"
	case FileTypeWAV:
		return "WAV"
	case FileTypeAIFF:
		return "AIFF"
	case FileTypeM4A:
		return "M4A"
	case FileTypeMPEG4:
		return "MPEG4"
	case FileTypeCAF:
		return "CAF"
	case FileTypeAACADTS:
		return "AAC-ADTS"
	default:
		return "UNKNOWN"
	}
}

// ASBD is the audio stream basic description: the subset of format
// properties the core needs from the parser to size buffers and hand the
// stream off to the audio queue. BytesPerPacket == 0 means VBR.
type ASBD struct {
	SampleRate      float64
	FramesPerPacket uint32
	BytesPerPacket  uint32
	FormatID        string
}

// PacketDescriptor locates one packet's encoded bytes inside a buffer.
type PacketDescriptor struct {
	StartOffset int64
	ByteSize    uint32
}

// Buffer is a fixed-capacity container of encoded audio bytes. The core
// fills Data[:Filled] and hands it to the audio queue between Enqueue and
// the matching BufferComplete callback; during that window the core must
// not mutate it.
type Buffer struct {
	Data   []byte
	Filled int
}

// State is one of the Streamer lifecycle states from spec §4.3.
type State int

const (
	StateInitialized State = iota
	StateWaitingForData
	StateWaitingForQueueToStart
	StatePlaying
	StatePaused
	StateReconnecting
	StateStopped
	StateDone
)

func (s State) String() string {
	switch s {
	case StateInitialized:
		return "Initialized"
	case StateWaitingForData:
		return "WaitingForData"
	case StateWaitingForQueueToStart:
		return "WaitingForQueueToStart"
	case StatePlaying:
		return "Playing"
	case StatePaused:
		return "Paused"
	case StateReconnecting:
		return "Reconnecting"
	case StateStopped:
		return "Stopped"
	case StateDone:
		return "Done"
	default:
		return "Unknown"
	}
}

// DoneReason explains why a terminal state was reached.
type DoneReason int

const (
	DoneReasonNone DoneReason = iota
	DoneReasonStopped
	DoneReasonError
	DoneReasonEOF
)

func (r DoneReason) String() string {
	switch r {
	case DoneReasonStopped:
		return "Stopped"
	case DoneReasonError:
		return "Error"
	case DoneReasonEOF:
		return "EOF"
	default:
		return "None"
	}
}

// ProxyKind selects how the byte source reaches the network.
type ProxyKind int

const (
	ProxyNone ProxyKind = iota
	ProxySystem
	ProxyHTTP
	ProxySOCKS
)

// ProxyConfig configures outbound proxying for the byte source.
type ProxyConfig struct {
	Kind ProxyKind
	Host string
	Port int
}

// StreamInfo summarizes what the demo UI or a caller wants to show about
// the currently playing resource. It is derived, not authoritative state.
type StreamInfo struct {
	FileType   FileType
	Bitrate    int
	SampleRate int
	VBR        bool
}
