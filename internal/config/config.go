package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

var (
	listenAddr = ":8080"

	// Telegram API credentials + one bot token per worker connection.
	apiID      int
	apiHash    string
	botTokens  []string
	sessionDir = "./sessions"

	// streaming engine
	chunkSize   = int64(1 << 20) // 1 MiB, Telegram's preferred part size
	parallelism = 3              // in-flight chunk fetches per stream

	// upstream retry behavior
	maxFloodWait  = 5 * time.Second
	fetchAttempts = 3

	// stream registry
	recentStreamsCap = 50
	pruneGrace       = 3 * time.Second

	// resolver locator cache
	locatorTTL = 30 * time.Minute

	// HLS remux
	ffmpegPath       = "ffmpeg"
	hlsProbeBytes    = int64(50 << 20) // feed at most 50 MiB into the remuxer
	hlsCacheMaxBytes = int64(256 << 20)
	hlsCacheTTL      = 1 * time.Hour
	remuxTimeout     = 30 * time.Second

	// usage accounting (optional; empty DSN disables the ledger)
	pgDSN         = ""
	usageInterval = 5 * time.Second

	// logging
	logFilePath   = "debug.log"
	logAllowRegex = `^\[(init|boot|db|http|pool|resolve|stream|hls|usage|janitor|panic)\]`
	logDenyRegex  = `broken pipe|reset by peer`
	logDedupWin   = 3 * time.Second
)

func Load() {
	listenAddr = getenv("LISTEN", listenAddr)

	apiID = int(getenvInt64("API_ID", 0))
	apiHash = getenv("API_HASH", "")
	if v := getenv("BOT_TOKENS", ""); v != "" {
		for _, t := range strings.Split(v, ",") {
			if t = strings.TrimSpace(t); t != "" {
				botTokens = append(botTokens, t)
			}
		}
	}
	sessionDir = getenv("SESSION_DIR", sessionDir)
	_ = os.MkdirAll(sessionDir, 0o755)

	chunkSize = getenvInt64("CHUNK_SIZE_BYTES", chunkSize)
	parallelism = int(getenvInt64("PARALLELISM", int64(parallelism)))

	maxFloodWait = getenvDuration("MAX_FLOOD_WAIT", maxFloodWait)
	fetchAttempts = int(getenvInt64("FETCH_ATTEMPTS", int64(fetchAttempts)))

	recentStreamsCap = int(getenvInt64("RECENT_STREAMS_CAP", int64(recentStreamsCap)))
	pruneGrace = getenvDuration("PRUNE_GRACE", pruneGrace)

	locatorTTL = getenvDuration("LOCATOR_TTL", locatorTTL)

	ffmpegPath = getenv("FFMPEG_PATH", ffmpegPath)
	hlsProbeBytes = getenvInt64("HLS_PROBE_BYTES", hlsProbeBytes)
	hlsCacheMaxBytes = getenvInt64("HLS_CACHE_MAX_BYTES", hlsCacheMaxBytes)
	hlsCacheTTL = getenvDuration("HLS_CACHE_TTL", hlsCacheTTL)
	remuxTimeout = getenvDuration("REMUX_TIMEOUT", remuxTimeout)

	pgDSN = getenv("PG_DSN", "")
	usageInterval = getenvDuration("USAGE_FLUSH_INTERVAL", usageInterval)

	logFilePath = getenv("LOG_FILE", logFilePath)
	logAllowRegex = getenv("LOG_ALLOW", logAllowRegex)
	logDenyRegex = getenv("LOG_DENY", logDenyRegex)
	logDedupWin = getenvDuration("LOG_DEDUP_WINDOW", logDedupWin)
}

// getters
func ListenAddr() string             { return listenAddr }
func APIID() int                     { return apiID }
func APIHash() string                { return apiHash }
func BotTokens() []string            { return botTokens }
func SessionDir() string             { return sessionDir }
func ChunkSize() int64               { return chunkSize }
func Parallelism() int               { return parallelism }
func MaxFloodWait() time.Duration    { return maxFloodWait }
func FetchAttempts() int             { return fetchAttempts }
func RecentStreamsCap() int          { return recentStreamsCap }
func PruneGrace() time.Duration      { return pruneGrace }
func LocatorTTL() time.Duration      { return locatorTTL }
func FFmpegPath() string             { return ffmpegPath }
func HLSProbeBytes() int64           { return hlsProbeBytes }
func HLSCacheMaxBytes() int64        { return hlsCacheMaxBytes }
func HLSCacheTTL() time.Duration     { return hlsCacheTTL }
func RemuxTimeout() time.Duration    { return remuxTimeout }
func PGDSN() string                  { return pgDSN }
func UsageInterval() time.Duration   { return usageInterval }
func LogFilePath() string            { return logFilePath }
func LogAllowRegex() string          { return logAllowRegex }
func LogDenyRegex() string           { return logDenyRegex }
func LogDedupWindow() time.Duration  { return logDedupWin }

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getenvInt64(k string, def int64) int64 {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return def
}

func getenvDuration(k string, def time.Duration) time.Duration {
	if v := os.Getenv(k); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
