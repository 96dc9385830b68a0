package hls

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSegmentCount(t *testing.T) {
	cases := []struct {
		duration float64
		want     int
	}{
		{0, 1},
		{5, 1},
		{10, 1},
		{10.5, 2},
		{25, 3},
		{119.9, 12},
		{120, 12},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, SegmentCount(tc.duration), "duration %v", tc.duration)
	}
}

func TestMasterPlaylist(t *testing.T) {
	m := MasterPlaylist("abc", 1920, 1080)
	assert.True(t, strings.HasPrefix(m, "#EXTM3U\n"))
	assert.Contains(t, m, "RESOLUTION=1920x1080")
	assert.Contains(t, m, "/hls/abc/original/playlist.m3u8")

	m = MasterPlaylist("abc", 0, 0)
	assert.NotContains(t, m, "RESOLUTION")
}

func TestVariantPlaylist(t *testing.T) {
	p := VariantPlaylist("abc", 25)

	assert.Contains(t, p, "#EXT-X-TARGETDURATION:10")
	assert.Contains(t, p, "#EXT-X-PLAYLIST-TYPE:VOD")
	assert.Contains(t, p, "/hls/abc/original/segment_0.ts")
	assert.Contains(t, p, "/hls/abc/original/segment_2.ts")
	assert.NotContains(t, p, "segment_3.ts")
	assert.True(t, strings.HasSuffix(p, "#EXT-X-ENDLIST\n"))

	// final segment carries the remainder
	assert.Contains(t, p, "#EXTINF:5.000,")
}
