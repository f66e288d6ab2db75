package core

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Eprint writes msg to stderr when verbose is true.
func Eprint(msg string, verbose bool) {
	if verbose {
		fmt.Fprintln(os.Stderr, msg)
	}
}

// ProgressPrint writes msg to stderr unless quiet is true.
func ProgressPrint(msg string, quiet bool) {
	if !quiet {
		fmt.Fprintln(os.Stderr, msg)
	}
}

// GetTZ returns a *time.Location for the given timezone name.
// Falls back to UTC if the timezone is not found.
func GetTZ(name string) *time.Location {
	if name == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: Timezone '%s' not found; falling back to UTC.\n", name)
		return time.UTC
	}
	return loc
}

// ParseDatetime parses a "YYYY-MM-DD HH:MM:SS" string in the given timezone.
func ParseDatetime(s string, loc *time.Location) (time.Time, error) {
	t, err := time.ParseInLocation(APIDatetimeFmt, s, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid datetime '%s' (expected YYYY-MM-DD HH:MM:SS)", s)
	}
	return t, nil
}

var timestampRegex = regexp.MustCompile(`^(\d{1,19})(?:\.(\d{1,9}))?$`)

// ParseTimestamp converts a mirror node timestamp ("seconds.nanoseconds") to time.Time.
func ParseTimestamp(ts string) (time.Time, error) {
	matches := timestampRegex.FindStringSubmatch(ts)
	if matches == nil {
		return time.Time{}, fmt.Errorf("invalid timestamp '%s' (expected SECONDS.NANOS)", ts)
	}
	secs, err := strconv.ParseInt(matches[1], 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp '%s': %w", ts, err)
	}
	var nanos int64
	if matches[2] != "" {
		// right-pad the fraction to nine digits
		frac := matches[2] + strings.Repeat("0", 9-len(matches[2]))
		nanos, _ = strconv.ParseInt(frac, 10, 64)
	}
	return time.Unix(secs, nanos).UTC(), nil
}

// FormatTimestamp formats t as a mirror node timestamp ("seconds.nanoseconds").
func FormatTimestamp(t time.Time) string {
	return fmt.Sprintf("%d.%09d", t.Unix(), t.Nanosecond())
}

// ParseTimestampSpec accepts either a mirror timestamp or a "YYYY-MM-DD HH:MM:SS"
// datetime in loc and returns the normalized mirror timestamp.
func ParseTimestampSpec(spec string, loc *time.Location) (string, error) {
	if t, err := ParseTimestamp(spec); err == nil {
		return FormatTimestamp(t), nil
	}
	t, err := ParseDatetime(spec, loc)
	if err != nil {
		return "", fmt.Errorf("invalid timestamp '%s'", spec)
	}
	return FormatTimestamp(t), nil
}

var entityIDRegex = regexp.MustCompile(`^(\d+)\.(\d+)\.(\d+)$`)

// ParseEntityID validates and normalizes an entity ID. A bare number is
// expanded to "0.0.N".
func ParseEntityID(s string) (string, error) {
	if n, err := strconv.ParseUint(s, 10, 64); err == nil {
		return fmt.Sprintf("0.0.%d", n), nil
	}
	matches := entityIDRegex.FindStringSubmatch(s)
	if matches == nil {
		return "", fmt.Errorf("invalid entity ID '%s' (expected SHARD.REALM.NUM)", s)
	}
	parts := make([]string, 3)
	for i := range parts {
		n, err := strconv.ParseUint(matches[i+1], 10, 64)
		if err != nil {
			return "", fmt.Errorf("invalid entity ID '%s': %w", s, err)
		}
		parts[i] = strconv.FormatUint(n, 10)
	}
	return strings.Join(parts, "."), nil
}

var transactionIDRegex = regexp.MustCompile(`^(\d+\.\d+\.\d+)[-@](\d+)[-.](\d+)$`)

// NormalizeTransactionID rewrites "0.0.X-S-N" or "0.0.X@S.N" into the chosen form.
// Unknown inputs are returned unchanged.
func NormalizeTransactionID(id string, useAtForm bool) string {
	matches := transactionIDRegex.FindStringSubmatch(id)
	if matches == nil {
		return id
	}
	if useAtForm {
		return fmt.Sprintf("%s@%s.%s", matches[1], matches[2], matches[3])
	}
	return fmt.Sprintf("%s-%s-%s", matches[1], matches[2], matches[3])
}
