package formatmp3

import (
	"testing"

	"github.com/glebovdev/streamcore/internal/streamer"
)

// fakeSink records every ParserSink call a Parser makes, for assertions.
type fakeSink struct {
	dataOffset    int64
	haveOffset    bool
	asbd          streamer.ASBD
	haveASBD      bool
	readyCount    int
	vbrCalls      int
	packetsByCall [][]streamer.PacketDescriptor
	parseErrors   []error
}

func (f *fakeSink) OnDataOffset(offset int64)    { f.dataOffset, f.haveOffset = offset, true }
func (f *fakeSink) OnAudioDataByteCount(n int64) {}
func (f *fakeSink) OnASBD(asbd streamer.ASBD)    { f.asbd, f.haveASBD = asbd, true }
func (f *fakeSink) OnMagicCookie(cookie []byte)  {}
func (f *fakeSink) OnReadyToProduce()            { f.readyCount++ }
func (f *fakeSink) OnParseError(err error)       { f.parseErrors = append(f.parseErrors, err) }
func (f *fakeSink) OnCBRBytes(data []byte)       {}
func (f *fakeSink) OnVBRPackets(data []byte, descs []streamer.PacketDescriptor) {
	f.vbrCalls++
	f.packetsByCall = append(f.packetsByCall, descs)
}

// buildFrame returns size bytes of a valid 128kbps/44100Hz frame:
// the 4-byte header followed by zero-filled payload.
func buildFrame() []byte {
	h := mpeg1Layer3Header(9, 0, 0)
	frame := make([]byte, 417)
	copy(frame, h[:])
	return frame
}

func TestParserEmitsOneVBRPacketPerFrame(t *testing.T) {
	sink := &fakeSink{}
	p := New(sink, streamer.FileTypeMP3)

	stream := append(append(buildFrame(), buildFrame()...), buildFrame()...)
	if err := p.Parse(stream); err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	if !sink.haveOffset || sink.dataOffset != 0 {
		t.Errorf("dataOffset = %v (have=%v), want 0", sink.dataOffset, sink.haveOffset)
	}
	if !sink.haveASBD {
		t.Fatal("OnASBD was never called")
	}
	if sink.asbd.SampleRate != 44100 || sink.asbd.FramesPerPacket != 1152 || sink.asbd.BytesPerPacket != 0 {
		t.Errorf("asbd = %+v, want {44100 1152 0 ...}", sink.asbd)
	}
	if sink.readyCount != 1 {
		t.Errorf("OnReadyToProduce called %d times, want 1", sink.readyCount)
	}
	if sink.vbrCalls != 3 {
		t.Errorf("OnVBRPackets called %d times, want 3", sink.vbrCalls)
	}
}

func TestParserFrameSplitAcrossParseCalls(t *testing.T) {
	sink := &fakeSink{}
	p := New(sink, streamer.FileTypeMP3)

	frame := buildFrame()
	if err := p.Parse(frame[:200]); err != nil {
		t.Fatalf("Parse() first half error = %v", err)
	}
	if sink.vbrCalls != 0 {
		t.Fatalf("a partial frame must not be emitted: vbrCalls = %d", sink.vbrCalls)
	}

	if err := p.Parse(frame[200:]); err != nil {
		t.Fatalf("Parse() second half error = %v", err)
	}
	if sink.vbrCalls != 1 {
		t.Fatalf("vbrCalls = %d, want 1 once the frame completes", sink.vbrCalls)
	}
}

func TestParserSkipsID3v2Tag(t *testing.T) {
	sink := &fakeSink{}
	p := New(sink, streamer.FileTypeMP3)

	tagBody := make([]byte, 20)
	tag := append([]byte{'I', 'D', '3', 0x03, 0x00, 0x00}, syncSafeBytes(len(tagBody))...)
	tag = append(tag, tagBody...)

	stream := append(tag, buildFrame()...)
	if err := p.Parse(stream); err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	if !sink.haveOffset || sink.dataOffset != int64(len(tag)) {
		t.Errorf("dataOffset = %d, want %d (tag length)", sink.dataOffset, len(tag))
	}
	if sink.vbrCalls != 1 {
		t.Errorf("vbrCalls = %d, want 1", sink.vbrCalls)
	}
}

func TestParserResyncsPastGarbageBytes(t *testing.T) {
	sink := &fakeSink{}
	p := New(sink, streamer.FileTypeMP3)

	garbage := []byte{0x00, 0x11, 0x22, 0xFF, 0x00, 0x33}
	stream := append(garbage, buildFrame()...)
	if err := p.Parse(stream); err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	if sink.vbrCalls != 1 {
		t.Fatalf("vbrCalls = %d, want 1 after resyncing past garbage", sink.vbrCalls)
	}
	if sink.dataOffset != int64(len(garbage)) {
		t.Errorf("dataOffset = %d, want %d", sink.dataOffset, len(garbage))
	}
}

func TestParserSeekByPacketExtrapolates(t *testing.T) {
	sink := &fakeSink{}
	p := New(sink, streamer.FileTypeMP3)

	stream := append(append(buildFrame(), buildFrame()...), buildFrame()...)
	if err := p.Parse(stream); err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	offset, ok := p.SeekByPacket(5)
	if !ok {
		t.Fatal("SeekByPacket() should succeed once at least one frame has been parsed")
	}
	want := int64(5 * 417)
	if offset != want {
		t.Errorf("SeekByPacket(5) = %d, want %d", offset, want)
	}
}

func TestParserSeekByPacketFailsBeforeAnyFrame(t *testing.T) {
	sink := &fakeSink{}
	p := New(sink, streamer.FileTypeMP3)

	if _, ok := p.SeekByPacket(0); ok {
		t.Fatal("SeekByPacket() before any frame is parsed should fail")
	}
}

func TestParserDiscontinuityDropsPartialFrame(t *testing.T) {
	sink := &fakeSink{}
	p := New(sink, streamer.FileTypeMP3)

	frame := buildFrame()
	if err := p.Parse(frame[:200]); err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	p.Discontinuity()

	// Feeding a fresh, complete frame after Discontinuity must not be
	// corrupted by the dropped partial bytes.
	if err := p.Parse(buildFrame()); err != nil {
		t.Fatalf("Parse() after Discontinuity error = %v", err)
	}
	if sink.vbrCalls != 1 {
		t.Fatalf("vbrCalls = %d, want 1 (the stale partial frame must not resurface)", sink.vbrCalls)
	}
}

// syncSafeBytes is the test-side inverse of syncSafeSize.
func syncSafeBytes(size int) []byte {
	return []byte{
		byte((size >> 21) & 0x7F),
		byte((size >> 14) & 0x7F),
		byte((size >> 7) & 0x7F),
		byte(size & 0x7F),
	}
}
