package streamer

import (
	"path"
	"strings"
)

var mimeToFileType = map[string]FileType{
	"audio/mpeg":   FileTypeMP3,
	"audio/x-wav":  FileTypeWAV,
	"audio/x-aiff": FileTypeAIFF,
	"audio/x-m4a":  FileTypeM4A,
	"audio/mp4":    FileTypeMPEG4,
	"audio/x-caf":  FileTypeCAF,
	"audio/aac":    FileTypeAACADTS,
	"audio/aacp":   FileTypeAACADTS,
}

var extensionToFileType = map[string]FileType{
	"mp3":  FileTypeMP3,
	"wav":  FileTypeWAV,
	"aifc": FileTypeAIFF,
	"aiff": FileTypeAIFF,
	"m4a":  FileTypeM4A,
	"mp4":  FileTypeMPEG4,
	"caf":  FileTypeCAF,
	"aac":  FileTypeAACADTS,
}

// DefaultFileType is used when neither the Content-Type header nor the
// URL extension resolves to a recognized type (spec §6).
const DefaultFileType = FileTypeMP3

// FileTypeFromContentType maps an HTTP Content-Type header value (the
// media-type portion, parameters ignored) to a FileType.
func FileTypeFromContentType(contentType string) (FileType, bool) {
	mediaType := strings.TrimSpace(strings.SplitN(contentType, ";", 2)[0])
	ft, ok := mimeToFileType[strings.ToLower(mediaType)]
	return ft, ok
}

// FileTypeFromExtension maps a resource URL's file extension to a
// FileType.
func FileTypeFromExtension(url string) (FileType, bool) {
	ext := strings.TrimPrefix(strings.ToLower(path.Ext(stripQuery(url))), ".")
	ft, ok := extensionToFileType[ext]
	return ft, ok
}

func stripQuery(url string) string {
	if i := strings.IndexAny(url, "?#"); i >= 0 {
		return url[:i]
	}
	return url
}

// ResolveFileType implements the §6 precedence: Content-Type header,
// then URL extension, then DefaultFileType. fromHeaderOrURL reports
// whether the result was actually derived (true) or defaulted (false) —
// the Shoutcast sniffer only activates when this is false.
func ResolveFileType(contentType, url string) (ft FileType, fromHeaderOrURL bool) {
	if contentType != "" {
		if ft, ok := FileTypeFromContentType(contentType); ok {
			return ft, true
		}
	}
	if ft, ok := FileTypeFromExtension(url); ok {
		return ft, true
	}
	return DefaultFileType, false
}
