package streamer

// MaxPacketDescs bounds how many VBR packet descriptors the current fill
// buffer can accumulate before it is forced to enqueue, mirroring the
// fixed scratch array AudioFileStream-style APIs hand the caller (spec
// §3 "Buffer Pool").
const MaxPacketDescs = 512

// bufferPool is a fixed-size array of N output buffers with an in-use
// bitmap, a fill cursor, and a packet-descriptor scratch area for the
// buffer currently being filled (spec §3, §4.4). It implements invariants
// P1-P6 from spec §8/§3; callers (Streamer) hold the single core mutex
// for the duration of every call.
type bufferPool struct {
	buffers          []*Buffer
	inuse            []bool
	fillIndex        int
	bytesFilled      int
	packetsFilled    int
	packetDescs      [MaxPacketDescs]PacketDescriptor
	buffersUsed      int
	packetBufferSize int
}

func newBufferPool(buffers []*Buffer, packetBufferSize int) *bufferPool {
	return &bufferPool{
		buffers:          buffers,
		inuse:            make([]bool, len(buffers)),
		packetBufferSize: packetBufferSize,
	}
}

func (bp *bufferPool) n() int { return len(bp.buffers) }

// remaining is the free space left in the buffer currently being filled.
func (bp *bufferPool) remaining() int {
	return bp.packetBufferSize - bp.bytesFilled
}

// fillBuffer returns the buffer currently accepting bytes.
func (bp *bufferPool) fillBuffer() *Buffer {
	return bp.buffers[bp.fillIndex]
}

// appendBytes copies data into the fill buffer at the current cursor.
// Caller must have checked remaining() >= len(data).
func (bp *bufferPool) appendBytes(data []byte) {
	buf := bp.fillBuffer()
	copy(buf.Data[bp.bytesFilled:], data)
	bp.bytesFilled += len(data)
	buf.Filled = bp.bytesFilled
}

// recordDescriptor appends a VBR packet descriptor for the packet that
// was just appended at startOffset within the fill buffer.
func (bp *bufferPool) recordDescriptor(startOffset int64, byteSize uint32) {
	bp.packetDescs[bp.packetsFilled] = PacketDescriptor{StartOffset: startOffset, ByteSize: byteSize}
	bp.packetsFilled++
}

// descriptorsInUse returns the descriptors accumulated for the fill
// buffer so far (valid only until the next reset).
func (bp *bufferPool) descriptorsInUse() []PacketDescriptor {
	return bp.packetDescs[:bp.packetsFilled]
}

// advance moves the fill cursor to the next buffer and resets its
// cursors, per enqueue_buffer() step 4.
func (bp *bufferPool) advance() {
	bp.fillIndex = (bp.fillIndex + 1) % bp.n()
	bp.bytesFilled = 0
	bp.packetsFilled = 0
}

// markInUse sets inuse[fillIndex] and bumps buffersUsed, enforcing P1.
func (bp *bufferPool) markInUse() {
	if !bp.inuse[bp.fillIndex] {
		bp.inuse[bp.fillIndex] = true
		bp.buffersUsed++
	}
}

// release clears inuse[idx], enforcing P1. Returns false if idx was
// already free (a double-complete, which the caller should ignore).
func (bp *bufferPool) release(idx int) bool {
	if idx < 0 || idx >= bp.n() || !bp.inuse[idx] {
		return false
	}
	bp.inuse[idx] = false
	bp.buffersUsed--
	return true
}

// massBalanced checks invariant P1: |{i : inuse[i]}| == buffersUsed.
func (bp *bufferPool) massBalanced() bool {
	count := 0
	for _, u := range bp.inuse {
		if u {
			count++
		}
	}
	return count == bp.buffersUsed
}
