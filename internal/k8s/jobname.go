package k8s

import (
	"strconv"
	"strings"
	"time"
)

const jobNamePrefix = "cis-"

// NewJobName returns a job name unique per user and instant:
// cis-<username>-<unix nanoseconds>, a DNS-1123 label of at most 63 chars.
func NewJobName(username string, now time.Time) string {
	suffix := strconv.FormatInt(now.UnixNano(), 10)
	user := sanitizeK8sName(username)

	room := 63 - len(jobNamePrefix) - len(suffix) - 1
	if len(user) > room {
		user = strings.TrimRight(user[:room], "-")
	}
	if user == "" {
		return jobNamePrefix + suffix
	}
	return jobNamePrefix + user + "-" + suffix
}
