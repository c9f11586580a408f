package imapworker

import "time"

// mailtimeToEpoch converts a message date's local-time fields and a
// numeric zone offset (e.g. 530 for +05:30, -500 for -05:00) into a UTC
// epoch second. The fields are first interpreted as if they were already
// UTC, then the zone correction is subtracted — preserving the exact
// computation the cache's on-disk dates were produced with.
func mailtimeToEpoch(year int, month time.Month, day, hour, min, sec, zone int) int64 {
	t := time.Date(year, month, day, hour, min, sec, 0, time.UTC).Unix()
	offsH := zone / 100
	offsM := zone % 100
	t -= int64(offsH) * 3600
	t -= int64(offsM) * 60
	return t
}

// NormalizeDate reproduces the cache's historical date normalization: the
// envelope date's wall-clock fields, in the zone the server sent, are
// treated as if already UTC, then the zone offset is subtracted. For any
// offset that is a whole number of minutes the result equals t.Unix(); the
// field-by-field form is kept because it is the computation the existing
// cache's on-disk DateIndex entries were produced with.
func NormalizeDate(t time.Time) int64 {
	_, offsetSeconds := t.Zone()
	offsetH := offsetSeconds / 3600
	offsetM := (offsetSeconds % 3600) / 60
	zone := offsetH*100 + offsetM
	return mailtimeToEpoch(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), zone)
}
