package model

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Run IDs have the form run_<unix_ts>_<uuid8>, sortable by creation time.

var runIDRegex = regexp.MustCompile(`^run_[0-9]{10}_[0-9a-f]{8}$`)

func GenerateRunID() string {
	short := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return fmt.Sprintf("run_%010d_%s", time.Now().Unix(), short)
}

func ValidateRunID(id string) bool {
	return runIDRegex.MatchString(id)
}

func ParseRunIDTimestamp(id string) (time.Time, error) {
	if !ValidateRunID(id) {
		return time.Time{}, fmt.Errorf("invalid run ID format: %s", id)
	}
	tsStr := id[len("run_") : len("run_")+10]
	ts, err := strconv.ParseInt(tsStr, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp from run ID %s: %w", id, err)
	}
	return time.Unix(ts, 0), nil
}
