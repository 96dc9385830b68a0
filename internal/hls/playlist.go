package hls

import (
	"fmt"
	"strings"
)

// SegmentDuration is the nominal length of one transport-stream segment
// in seconds.
const SegmentDuration = 10

// Quality is the single rendition we expose. Segments are remuxed, not
// transcoded, so the source bitrate and resolution pass through as-is.
const Quality = "original"

// SegmentCount returns how many segments a media duration splits into.
func SegmentCount(duration float64) int {
	if duration <= 0 {
		return 1
	}
	n := int(duration) / SegmentDuration
	if int(duration)%SegmentDuration != 0 || duration != float64(int(duration)) {
		n++
	}
	if n < 1 {
		n = 1
	}
	return n
}

// MasterPlaylist renders the top-level playlist pointing at the single
// rendition.
func MasterPlaylist(id string, width, height int) string {
	var b strings.Builder
	b.WriteString("#EXTM3U\n")
	b.WriteString("#EXT-X-VERSION:3\n")
	if width > 0 && height > 0 {
		fmt.Fprintf(&b, "#EXT-X-STREAM-INF:PROGRAM-ID=1,RESOLUTION=%dx%d\n", width, height)
	} else {
		b.WriteString("#EXT-X-STREAM-INF:PROGRAM-ID=1\n")
	}
	fmt.Fprintf(&b, "/hls/%s/%s/playlist.m3u8\n", id, Quality)
	return b.String()
}

// VariantPlaylist renders the media playlist listing every segment of the
// rendition.
func VariantPlaylist(id string, duration float64) string {
	count := SegmentCount(duration)

	var b strings.Builder
	b.WriteString("#EXTM3U\n")
	b.WriteString("#EXT-X-VERSION:3\n")
	fmt.Fprintf(&b, "#EXT-X-TARGETDURATION:%d\n", SegmentDuration)
	b.WriteString("#EXT-X-MEDIA-SEQUENCE:0\n")
	b.WriteString("#EXT-X-PLAYLIST-TYPE:VOD\n")

	remaining := duration
	for i := 0; i < count; i++ {
		seg := float64(SegmentDuration)
		if remaining > 0 && remaining < seg {
			seg = remaining
		}
		fmt.Fprintf(&b, "#EXTINF:%.3f,\n", seg)
		fmt.Fprintf(&b, "/hls/%s/%s/segment_%d.ts\n", id, Quality, i)
		remaining -= seg
	}
	b.WriteString("#EXT-X-ENDLIST\n")
	return b.String()
}
