package domain

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// DisasterType classifies an alert.
type DisasterType string

const (
	DisasterEarthquake DisasterType = "earthquake"
	DisasterTsunami    DisasterType = "tsunami"
)

// AlertLevel is the severity of an alert, lowest first.
type AlertLevel string

const (
	AlertInfo     AlertLevel = "info"
	AlertAdvisory AlertLevel = "advisory"
	AlertWarning  AlertLevel = "warning"
	AlertCritical AlertLevel = "critical"
)

var alertRank = map[AlertLevel]int{
	AlertInfo:     0,
	AlertAdvisory: 1,
	AlertWarning:  2,
	AlertCritical: 3,
}

// alertTTL is how long an alert stays relevant after it is raised.
const alertTTL = 24 * time.Hour

// Alert is a user-facing disaster notice derived from a quake or tsunami report.
type Alert struct {
	ID          string       `json:"id"`
	Type        DisasterType `json:"disaster_type"`
	Title       string       `json:"title"`
	Description string       `json:"description"`
	Location    string       `json:"location"`
	Level       AlertLevel   `json:"alert_level"`
	Latitude    *float64     `json:"latitude,omitempty"`
	Longitude   *float64     `json:"longitude,omitempty"`
	Timestamp   time.Time    `json:"timestamp"`
	ExpiresAt   time.Time    `json:"expiry_time"`
	Source      string       `json:"source"`
}

// AlertLevelForMagnitude maps a magnitude to an alert level:
// >=7 critical, >=6 warning, >=5 advisory, otherwise info.
func AlertLevelForMagnitude(m float64) AlertLevel {
	switch {
	case m >= 7.0:
		return AlertCritical
	case m >= 6.0:
		return AlertWarning
	case m >= 5.0:
		return AlertAdvisory
	default:
		return AlertInfo
	}
}

// AlertLevelForTsunamiGrade maps a tsunami forecast grade to an alert level.
func AlertLevelForTsunamiGrade(grade string) AlertLevel {
	switch grade {
	case "MajorWarning":
		return AlertCritical
	case "Warning":
		return AlertWarning
	case "Watch":
		return AlertAdvisory
	default:
		return AlertInfo
	}
}

var tsunamiGradeLabels = map[string]string{
	"MajorWarning": "大津波警報",
	"Warning":      "津波警報",
	"Watch":        "津波注意報",
}

// QuakeAlert derives an alert from q when its magnitude reaches threshold.
func QuakeAlert(q JMAQuake, threshold float64) (Alert, bool) {
	mag, ok := q.Magnitude()
	if !ok || mag < threshold {
		return Alert{}, false
	}
	h := q.Earthquake.Hypocenter
	location := h.Name
	if location == "" {
		location = "不明"
	}
	ts := ParseTime(q.Earthquake.Time, nil)
	return Alert{
		ID:          prefixedID("eq_", q.EventID()),
		Type:        DisasterEarthquake,
		Title:       fmt.Sprintf("地震発生 M%.1f", mag),
		Description: fmt.Sprintf("マグニチュード%.1fの地震が%sで発生しました。最大震度%s。", mag, location, q.MaxScaleLabel()),
		Location:    location,
		Level:       AlertLevelForMagnitude(mag),
		Latitude:    h.Latitude,
		Longitude:   h.Longitude,
		Timestamp:   ts,
		ExpiresAt:   ts.Add(alertTTL),
		Source:      q.Issue.Source,
	}, true
}

// TsunamiAlert derives an alert from an active tsunami forecast. The level
// is the most severe grade across its areas. Cancelled forecasts and
// forecasts without areas produce no alert.
func TsunamiAlert(t JMATsunami) (Alert, bool) {
	if t.Cancelled || len(t.Areas) == 0 {
		return Alert{}, false
	}
	level := AlertInfo
	grade := ""
	names := make([]string, 0, len(t.Areas))
	for _, a := range t.Areas {
		l := AlertLevelForTsunamiGrade(a.Grade)
		if alertRank[l] > alertRank[level] || grade == "" {
			level, grade = l, a.Grade
		}
		names = append(names, a.Name)
	}
	label, ok := tsunamiGradeLabels[grade]
	if !ok {
		label = "津波予報"
	}
	ts := ParseTime(t.Issue.Time, nil)
	return Alert{
		ID:          prefixedID("ts_", t.EventID()),
		Type:        DisasterTsunami,
		Title:       label,
		Description: fmt.Sprintf("%sが発表されました。対象地域: %s", label, strings.Join(names, "、")),
		Location:    strings.Join(names, "、"),
		Level:       level,
		Timestamp:   ts,
		ExpiresAt:   ts.Add(alertTTL),
		Source:      t.Issue.Source,
	}, true
}

// prefixedID returns "" for id-less events so storage can assign a key.
func prefixedID(prefix, id string) string {
	if id == "" {
		return ""
	}
	return prefix + id
}

// duplicateWindow and duplicateDegrees bound IsLikelyDuplicate.
const (
	duplicateWindow  = 5 * time.Minute
	duplicateDegrees = 0.1
)

// IsLikelyDuplicate reports whether two quake reports describe the same
// shaking: origin times within five minutes and hypocenters within 0.1° in
// both latitude and longitude. Reports without coordinates never match.
// Two distinct nearby quakes inside the window are indistinguishable here.
func IsLikelyDuplicate(a, b JMAQuake) bool {
	ha, hb := a.Earthquake.Hypocenter, b.Earthquake.Hypocenter
	if ha == nil || hb == nil || ha.Latitude == nil || ha.Longitude == nil || hb.Latitude == nil || hb.Longitude == nil {
		return false
	}
	ta := ParseTime(a.Earthquake.Time, nil)
	tb := ParseTime(b.Earthquake.Time, nil)
	if d := ta.Sub(tb); d >= duplicateWindow || d <= -duplicateWindow {
		return false
	}
	return math.Abs(*ha.Latitude-*hb.Latitude) < duplicateDegrees &&
		math.Abs(*ha.Longitude-*hb.Longitude) < duplicateDegrees
}
