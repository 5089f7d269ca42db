package streamer

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
)

// byteSourceEvents is the callback contract the byte source feeds into
// the core (spec §4.1). Every method may be called from the byte
// source's own goroutine; implementations (Streamer) take the core lock.
type byteSourceEvents interface {
	onBytesAvailable(data []byte)
	onEndEncountered()
	onErrorOccurred(err error)
	onTrackTitle(title string)
}

const (
	minReadChunk = 2048
	icyMetaMax   = 4080
)

// byteSource opens a single HTTP/1.1 GET on a URL, optionally resuming
// at a byte offset via Range, and delivers chunks to byteSourceEvents.
// Scheduling is a sync.Cond gate (grounded on the ring-buffer fill loop
// in samuelb-somatui's BufferedStream): unschedule blocks the read loop
// before its next Read, schedule releases it. This is the Go-native
// stand-in for "unscheduling a run-loop source" in spec §4.1/§4.4.
type byteSource struct {
	url      string
	proxy    ProxyConfig
	insecure bool

	client *http.Client
	probe  *resty.Client

	ctx    context.Context
	cancel context.CancelFunc

	events    byteSourceEvents
	chunkSize int

	mu        sync.Mutex
	cond      *sync.Cond
	scheduled bool
	closed    bool

	respHeader http.Header
}

// newByteSource constructs a source for rawURL. The caller must set the
// returned value's events field (it cannot be supplied here, since an
// events implementation typically needs to close over the byteSource
// itself to recognize which source a callback came from).
func newByteSource(rawURL string, proxy ProxyConfig, insecure bool) *byteSource {
	bs := &byteSource{
		url:       rawURL,
		proxy:     proxy,
		insecure:  insecure,
		scheduled: true,
		chunkSize: minReadChunk,
	}
	bs.cond = sync.NewCond(&bs.mu)
	bs.client = &http.Client{
		Transport: &http.Transport{
			Proxy: proxyFuncFor(proxy),
			DialContext: (&net.Dialer{
				Timeout: 10 * time.Second,
			}).DialContext,
			TLSHandshakeTimeout:   10 * time.Second,
			ResponseHeaderTimeout: 15 * time.Second,
			IdleConnTimeout:       90 * time.Second,
			// InsecureSkipVerify stays false unless explicitly overridden;
			// chain validation is the default for https (spec §4.1).
			TLSClientConfig: &tls.Config{InsecureSkipVerify: insecure},
		},
	}
	bs.probe = resty.New().
		SetTimeout(8 * time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(500 * time.Millisecond).
		AddRetryCondition(func(resp *resty.Response, err error) bool {
			return err != nil || resp.StatusCode() >= 500
		})
	return bs
}

// proxyFuncFor builds an http.Transport.Proxy function for the given
// config (spec §4.1): System defers to the environment (http.ProxyFromEnvironment),
// HTTP/SOCKS pin an explicit proxy URL.
func proxyFuncFor(cfg ProxyConfig) func(*http.Request) (*url.URL, error) {
	switch cfg.Kind {
	case ProxySystem:
		return http.ProxyFromEnvironment
	case ProxyHTTP:
		proxyURL := &url.URL{Scheme: "http", Host: net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))}
		return http.ProxyURL(proxyURL)
	case ProxySOCKS:
		proxyURL := &url.URL{Scheme: "socks5", Host: net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))}
		return http.ProxyURL(proxyURL)
	default:
		return nil
	}
}

// open starts the GET and its read loop. If fileLength > 0 and
// seekByteOffset > 0, it requests Range: bytes=seekByteOffset-(fileLength-1)
// per spec §4.1. packetBufferSize sizes the per-read chunk. It returns the
// response header so the caller can resolve the file type and Content-Length
// before any bytes arrive.
func (bs *byteSource) open(seekByteOffset, fileLength int64, packetBufferSize int) (http.Header, error) {
	bs.ctx, bs.cancel = context.WithCancel(context.Background())

	if packetBufferSize > bs.chunkSize {
		bs.chunkSize = packetBufferSize
	}

	req, err := http.NewRequestWithContext(bs.ctx, http.MethodGet, bs.url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Icy-MetaData", "1")

	if fileLength > 0 && seekByteOffset > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", seekByteOffset, fileLength-1))
	}

	resp, err := bs.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to open stream: %w", err)
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusPartialContent {
		resp.Body.Close()
		return nil, &httpStatusError{StatusCode: resp.StatusCode, Status: resp.Status}
	}

	bs.respHeader = resp.Header

	icyMetaint := 0
	if v := resp.Header.Get("icy-metaint"); v != "" {
		icyMetaint, _ = strconv.Atoi(v)
	}

	go bs.readLoop(resp.Body, icyMetaint)
	return resp.Header, nil
}

// probeMetadata issues a short, retried Range:0-0 GET via resty to learn
// Content-Length/Content-Type/redirect target ahead of the long-lived
// streaming GET, without holding a connection open for the full body.
func (bs *byteSource) probeMetadata(rawURL string) (contentType string, contentLength int64, finalURL string, err error) {
	resp, err := bs.probe.R().
		SetHeader("Range", "bytes=0-0").
		SetDoNotParseResponse(false).
		Get(rawURL)
	if err != nil {
		return "", 0, rawURL, fmt.Errorf("metadata probe failed: %w", err)
	}
	contentType = resp.Header().Get("Content-Type")
	finalURL = rawURL
	if req := resp.Request; req != nil && req.RawRequest != nil && req.RawRequest.URL != nil {
		finalURL = req.RawRequest.URL.String()
	}
	switch {
	case resp.StatusCode() == http.StatusPartialContent:
		if cr := resp.Header().Get("Content-Range"); cr != "" {
			if idx := strings.LastIndex(cr, "/"); idx >= 0 {
				contentLength, _ = strconv.ParseInt(cr[idx+1:], 10, 64)
			}
		}
	case resp.StatusCode() == http.StatusOK:
		contentLength, _ = strconv.ParseInt(resp.Header().Get("Content-Length"), 10, 64)
	default:
		return contentType, 0, finalURL, fmt.Errorf("probe returned status %d", resp.StatusCode())
	}
	return contentType, contentLength, finalURL, nil
}

func (bs *byteSource) readLoop(body io.ReadCloser, icyMetaint int) {
	defer body.Close()

	// A chunk never ends short of an ICY metadata block: with a metaint
	// larger than the configured chunk size, the chunk grows to the metaint.
	size := bs.chunkSize
	if icyMetaint > size {
		size = icyMetaint
	}
	reader := bufio.NewReaderSize(body, size)
	chunk := make([]byte, size)

	for {
		if !bs.waitScheduled() {
			return
		}

		n, trackTitle, err := readOneFrame(reader, chunk, icyMetaint)
		// A cancelled context means close() already ran; the events
		// sink is about to be (or already is) stale, and the core may
		// have moved on to a new source entirely. Drop the delivery
		// rather than risk reporting bytes for a source nobody owns
		// anymore.
		if bs.ctxErr() != nil {
			return
		}
		if n > 0 {
			bs.events.onBytesAvailable(chunk[:n])
		}
		if trackTitle != "" {
			bs.events.onTrackTitle(trackTitle)
		}
		if err != nil {
			if err == io.EOF {
				bs.events.onEndEncountered()
			} else if bs.ctxErr() == nil {
				bs.events.onErrorOccurred(err)
			}
			return
		}
	}
}

// readOneFrame reads one chunk of audio bytes, transparently stripping
// one ICY metadata block if icyMetaint > 0 and the chunk boundary lands
// on one. Returns any ICY "StreamTitle=" payload found (spec.md does not
// define this; it rides the same byte source per SPEC_FULL.md §13).
func readOneFrame(r *bufio.Reader, chunk []byte, icyMetaint int) (n int, trackTitle string, err error) {
	readSize := len(chunk)
	if icyMetaint > 0 && icyMetaint < readSize {
		readSize = icyMetaint
	}

	// Fill the chunk while keeping the reader's own error: a clean end of
	// the body stays io.EOF, while a dropped connection stays a read error
	// (io.ReadFull would report both as io.ErrUnexpectedEOF).
	for n < readSize && err == nil {
		var m int
		m, err = r.Read(chunk[n:readSize])
		n += m
	}
	if n == 0 {
		return 0, "", err
	}

	if icyMetaint <= 0 || n < readSize {
		return n, "", err
	}

	metaLenByte, metaErr := r.ReadByte()
	if metaErr != nil {
		return n, "", firstErr(err, metaErr)
	}
	metaLen := int(metaLenByte) * 16
	if metaLen <= 0 {
		return n, "", err
	}
	if metaLen > icyMetaMax {
		_, _ = io.CopyN(io.Discard, r, int64(metaLen))
		return n, "", err
	}

	meta := make([]byte, metaLen)
	if _, metaErr := io.ReadFull(r, meta); metaErr != nil {
		return n, "", firstErr(err, metaErr)
	}

	return n, parseStreamTitle(string(meta)), err
}

func parseStreamTitle(meta string) string {
	const marker = "StreamTitle='"
	start := strings.Index(meta, marker)
	if start < 0 {
		return ""
	}
	start += len(marker)
	end := strings.Index(meta[start:], "';")
	if end < 0 {
		return ""
	}
	return meta[start : start+end]
}

func firstErr(a, b error) error {
	if a != nil {
		return a
	}
	return b
}

func (bs *byteSource) waitScheduled() bool {
	bs.mu.Lock()
	defer bs.mu.Unlock()
	for !bs.scheduled && !bs.closed {
		bs.cond.Wait()
	}
	return !bs.closed
}

func (bs *byteSource) unschedule() {
	bs.mu.Lock()
	bs.scheduled = false
	bs.mu.Unlock()
}

func (bs *byteSource) schedule() {
	bs.mu.Lock()
	bs.scheduled = true
	bs.mu.Unlock()
	bs.cond.Broadcast()
}

func (bs *byteSource) ctxErr() error {
	if bs.ctx == nil {
		return nil
	}
	return bs.ctx.Err()
}

// close tears the source down; safe to call multiple times and from
// inside a callback (spec §5 cancellation). It does not block waiting for
// the read loop goroutine to exit: cancelling the request context makes
// the underlying Read return almost immediately, and the goroutine never
// calls back into events once ctxErr() is non-nil. Callers that need a
// brand-new source recognized as distinct from a still-unwinding old one
// rely on identity checks against the Streamer's current *byteSource,
// not on close() having fully drained.
func (bs *byteSource) close() {
	bs.mu.Lock()
	if bs.closed {
		bs.mu.Unlock()
		return
	}
	bs.closed = true
	bs.mu.Unlock()
	bs.cond.Broadcast()
	if bs.cancel != nil {
		bs.cancel()
	}
}

// httpStatusError is a typed open() failure carrying the response status,
// so isNonRetryableError can tell "server will never serve this URL" apart
// from a transient connection drop (grounded on player.go's httpStatusError).
type httpStatusError struct {
	StatusCode int
	Status     string
}

func (e *httpStatusError) Error() string {
	return fmt.Sprintf("stream returned status %d: %s", e.StatusCode, e.Status)
}

// isNonRetryableError reports whether err is an HTTP status that a retry
// cannot fix, mirroring player.go's isNonRetryableError classification.
func isNonRetryableError(err error) bool {
	var statusErr *httpStatusError
	if errors.As(err, &statusErr) {
		switch statusErr.StatusCode {
		case http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound, http.StatusGone:
			return true
		}
	}
	return false
}
