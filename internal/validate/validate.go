package validate

import (
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"stockhold/internal/domain"
)

var (
	reID    = regexp.MustCompile(`^[A-Za-z0-9_.:-]{1,64}$`)
	reUUID  = regexp.MustCompile(`^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}$`)
	reParty = regexp.MustCompile(`^[A-Za-z0-9_.@+-]{1,50}$`)
)

// ID validates product and location identifiers.
func ID(s string) (string, bool) {
	s = strings.TrimSpace(s)
	return s, s != "" && reID.MatchString(s)
}

// ReservationID validates a reservation UUID.
func ReservationID(s string) (string, bool) {
	s = strings.TrimSpace(s)
	return s, reUUID.MatchString(s)
}

// Party validates an optional customer or seller reference; empty is allowed.
func Party(s string) (string, bool) {
	s = strings.TrimSpace(s)
	return s, s == "" || reParty.MatchString(s)
}

const maxNotes = 500

// Notes trims and caps free text at 500 bytes without splitting a rune.
func Notes(s string) string {
	s = strings.ToValidUTF8(strings.TrimSpace(s), "")
	if len(s) <= maxNotes {
		return s
	}
	cut := maxNotes
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

// Positive accepts 1..domain.MaxQuantity.
func Positive(n int) bool { return n > 0 && n <= domain.MaxQuantity }

// NonNegative accepts 0..domain.MaxQuantity.
func NonNegative(n int) bool { return n >= 0 && n <= domain.MaxQuantity }

// Minutes parses a positive minute count, capped at one week.
func Minutes(s string, fallback int) (int, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return fallback, true
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 || n > 7*24*60 {
		return 0, false
	}
	return n, true
}

// Timestamp parses RFC3339.
func Timestamp(s string) (time.Time, bool) {
	t, err := time.Parse(time.RFC3339, strings.TrimSpace(s))
	return t, err == nil
}
