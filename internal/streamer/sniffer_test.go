package streamer

import "testing"

func TestShoutcastSnifferFindsContentType(t *testing.T) {
	sn := &shoutcastSniffer{}

	ct, terminated, remainder := sn.feed([]byte("icy-name:Test Radio\r\nContent-Type: audio/mpeg\r\n\r\n<mp3-bytes>"))

	if !terminated {
		t.Fatal("feed() should have found the terminator in a single call")
	}
	if ct != "audio/mpeg" {
		t.Fatalf("contentType = %q, want %q", ct, "audio/mpeg")
	}
	if string(remainder) != "<mp3-bytes>" {
		t.Fatalf("remainder = %q, want %q", remainder, "<mp3-bytes>")
	}
}

func TestShoutcastSnifferAcrossMultipleFeeds(t *testing.T) {
	sn := &shoutcastSniffer{}

	ct, terminated, _ := sn.feed([]byte("icy-name:Test\r\nContent-Type: audio/mpeg"))
	if terminated {
		t.Fatal("feed() should not terminate before seeing \\r\\n\\r\\n")
	}
	if ct != "" {
		t.Fatalf("contentType before terminator = %q, want empty", ct)
	}

	ct, terminated, remainder := sn.feed([]byte("\r\n\r\nrest"))
	if !terminated {
		t.Fatal("feed() should terminate once \\r\\n\\r\\n arrives, even split across calls")
	}
	if ct != "audio/mpeg" {
		t.Fatalf("contentType = %q, want %q", ct, "audio/mpeg")
	}
	if string(remainder) != "rest" {
		t.Fatalf("remainder = %q, want %q", remainder, "rest")
	}
}

func TestShoutcastSnifferCaseInsensitiveHeaderName(t *testing.T) {
	sn := &shoutcastSniffer{}
	ct, _, _ := sn.feed([]byte("content-type: AUDIO/MPEG\r\n\r\n"))
	if ct != "AUDIO/MPEG" {
		t.Fatalf("contentType = %q, want %q", ct, "AUDIO/MPEG")
	}
}

func TestShoutcastSnifferNoContentTypeLine(t *testing.T) {
	sn := &shoutcastSniffer{}
	ct, terminated, remainder := sn.feed([]byte("icy-name:Test\r\nicy-genre:Talk\r\n\r\naudio"))
	if !terminated {
		t.Fatal("feed() should terminate on \\r\\n\\r\\n regardless of Content-Type presence")
	}
	if ct != "" {
		t.Fatalf("contentType = %q, want empty when no Content-Type line is present", ct)
	}
	if string(remainder) != "audio" {
		t.Fatalf("remainder = %q, want %q", remainder, "audio")
	}
}
