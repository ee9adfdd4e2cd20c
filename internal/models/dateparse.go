package models

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

var (
	timePattern = regexp.MustCompile(`(\d{1,2}):(\d{2})`)
	datePattern = regexp.MustCompile(`(\d{1,2})\.(\d{1,2})\.(\d{2,4})`)
)

var berlinLocation *time.Location

func berlin() *time.Location {
	if berlinLocation != nil {
		return berlinLocation
	}
	loc, err := time.LoadLocation("Europe/Berlin")
	if err != nil {
		loc = time.FixedZone("CET", 1*60*60)
	}
	berlinLocation = loc
	return loc
}

// ParsePostedAt PARSES THE MARKETPLACE'S GERMAN CREATION-DATE PHRASE AGAINST now.
//
// Recognises "Heute HH:MM", "Gestern HH:MM" and "DD.MM.YY[YY] HH:MM" (optionally
// suffixed with "Uhr"). Returns the parsed instant in UTC, or a nil time if the
// phrase could not be parsed — the raw text is always returned unchanged so the
// caller can store it even when parsing fails.
func ParsePostedAt(raw string, now time.Time) (*time.Time, string) {
	text := strings.TrimSpace(raw)
	if text == "" {
		return nil, raw
	}

	cleaned := text
	cleaned = strings.TrimSuffix(strings.TrimSpace(cleaned), "Uhr.")
	cleaned = strings.TrimSuffix(strings.TrimSpace(cleaned), "Uhr")
	cleaned = strings.TrimSpace(cleaned)

	loc := berlin()
	nowBerlin := now.In(loc)

	lower := strings.ToLower(cleaned)

	var base time.Time
	haveBase := false

	switch {
	case strings.HasPrefix(lower, "heute"):
		base = nowBerlin
		haveBase = true
	case strings.HasPrefix(lower, "gestern"):
		base = nowBerlin.AddDate(0, 0, -1)
		haveBase = true
	default:
		if m := datePattern.FindStringSubmatch(cleaned); m != nil {
			day, _ := strconv.Atoi(m[1])
			month, _ := strconv.Atoi(m[2])
			year, _ := strconv.Atoi(m[3])
			if year < 100 {
				year += 2000
			}
			base = time.Date(year, time.Month(month), day, 0, 0, 0, 0, loc)
			haveBase = true
		}
	}

	if !haveBase {
		return nil, raw
	}

	hour, minute := base.Hour(), base.Minute()
	if m := timePattern.FindStringSubmatch(cleaned); m != nil {
		h, _ := strconv.Atoi(m[1])
		mm, _ := strconv.Atoi(m[2])
		hour, minute = h, mm
	}

	result := time.Date(base.Year(), base.Month(), base.Day(), hour, minute, 0, 0, loc).UTC()
	return &result, raw
}
