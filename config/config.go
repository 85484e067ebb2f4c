package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

var gitSHA string
var buildDate string

const prefix = "HLS_SITE_"

// LoadDotEnv reads an optional .env file. Variables already present in the
// environment win.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	var present []string
	for _, f := range files {
		if _, err := os.Stat(f); err == nil {
			present = append(present, f)
		}
	}
	if len(present) == 0 {
		return nil
	}
	return godotenv.Load(present...)
}

func lookup(name, fallback string) string {
	value, exists := os.LookupEnv(prefix + name)
	if exists && strings.TrimSpace(value) != "" {
		return value
	}
	return fallback
}

func lookupInt(name string, fallback int) int {
	value, err := strconv.Atoi(strings.TrimSpace(lookup(name, "")))
	if err != nil || value < 1 {
		return fallback
	}
	return value
}

func lookupDuration(name string, fallback time.Duration) time.Duration {
	value, err := time.ParseDuration(strings.TrimSpace(lookup(name, "")))
	if err != nil || value <= 0 {
		return fallback
	}
	return value
}

func lookupBool(name string) bool {
	lower := strings.ToLower(strings.TrimSpace(lookup(name, "")))
	return lower == "on" || lower == "1" || lower == "true" || lower == "yes"
}

func GetDataDir() string {
	return lookup("DATA_DIR", "data")
}

// defaults to GetDataDir() / uploads
func GetOutputDir() string {
	return lookup("OUTPUT_DIR", filepath.Join(GetDataDir(), "uploads"))
}

// staged sources while a job runs
func GetWorkDir() string {
	return lookup("WORK_DIR", filepath.Join(GetDataDir(), "work"))
}

// raw multipart uploads before a job exists
func GetTempDir() string {
	return lookup("TEMP_DIR", filepath.Join(GetDataDir(), "temp_uploads"))
}

// defaults to GetDataDir() / config
func GetConfigDir() string {
	return lookup("CONFIG_DIR", filepath.Join(GetDataDir(), "config"))
}

func GetDatabasePath() string {
	return filepath.Join(GetConfigDir(), "jobs.db")
}

func GetListenAddr() string {
	return lookup("LISTEN", ":8080")
}

// URL prefix under which GetOutputDir() is served
func GetPublicPrefix() string {
	return "/" + strings.Trim(lookup("PUBLIC_PREFIX", "/uploads"), "/")
}

// empty keeps variant references in master.m3u8 relative
func GetPlaylistBaseURL() string {
	return lookup("PLAYLIST_BASE_URL", "")
}

func GetWorkers() int {
	return lookupInt("WORKERS", 2)
}

func GetQueueSize() int {
	return lookupInt("QUEUE_SIZE", 64)
}

// 1 encodes variants one after another
func GetEncodeConcurrency() int {
	return lookupInt("ENCODE_CONCURRENCY", 1)
}

func GetEncodeTimeout() time.Duration {
	return lookupDuration("ENCODE_TIMEOUT", 30*time.Minute)
}

func GetJobTimeout() time.Duration {
	return lookupDuration("JOB_TIMEOUT", 2*time.Hour)
}

// failed jobs are deleted unless this is set
func GetKeepFailedJobs() bool {
	return lookupBool("KEEP_FAILED_JOBS")
}

func GetFFmpegPath() string {
	return lookup("FFMPEG", "ffmpeg")
}

func GetFFprobePath() string {
	return lookup("FFPROBE", "ffprobe")
}

func GetMaxUploadBytes() int64 {
	return int64(lookupInt("MAX_UPLOAD_MB", 4096)) * 1024 * 1024
}

func GetLogLevel() string {
	return lookup("LOG_LEVEL", "debug")
}

func GetMaintenanceSchedule() string {
	return lookup("MAINTENANCE_SCHEDULE", "@hourly")
}

func GetGitSHA() string {
	if gitSHA == "" {
		return "<not provided>"
	} else {
		return gitSHA
	}
}

func GetBuildDate() string {
	if buildDate == "" {
		return "<not provided>"
	} else {
		return buildDate
	}
}
