package domain

import "encoding/json"

// InfoCode is the integer discriminator carried in every P2P message.
type InfoCode int

const (
	CodeJMAQuake            InfoCode = 551  // 地震情報
	CodeJMATsunami          InfoCode = 552  // 津波予報
	CodeEEWDetection        InfoCode = 554  // 緊急地震速報 発表検出
	CodeAreapeers           InfoCode = 555  // 各地域ピア数
	CodeEEW                 InfoCode = 556  // 緊急地震速報（警報）
	CodeUserquake           InfoCode = 561  // 地震感知情報
	CodeUserquakeEvaluation InfoCode = 9611 // 地震感知情報 解析結果
)

// KnownCodes lists every information code the parser accepts.
var KnownCodes = []InfoCode{
	CodeJMAQuake,
	CodeJMATsunami,
	CodeEEWDetection,
	CodeAreapeers,
	CodeEEW,
	CodeUserquake,
	CodeUserquakeEvaluation,
}

// String returns a stable snake_case name, used for metric labels and logs.
func (c InfoCode) String() string {
	switch c {
	case CodeJMAQuake:
		return "jma_quake"
	case CodeJMATsunami:
		return "jma_tsunami"
	case CodeEEWDetection:
		return "eew_detection"
	case CodeAreapeers:
		return "areapeers"
	case CodeEEW:
		return "eew"
	case CodeUserquake:
		return "userquake"
	case CodeUserquakeEvaluation:
		return "userquake_evaluation"
	default:
		return "unknown"
	}
}

// Message is the closed set of parsed P2P variants. Only types in this
// package implement it.
type Message interface {
	Meta() Envelope
	sealed()
}

// Envelope holds the fields shared by every variant.
type Envelope struct {
	ID   *string  `json:"id"`
	Code InfoCode `json:"code"`
	Time string   `json:"time"` // receipt time, "2006/01/02 15:04:05.999"
}

// Meta returns the envelope itself; it is promoted into every variant.
func (e Envelope) Meta() Envelope { return e }

// EventID returns the message id, or "" when the upstream omitted it.
func (e Envelope) EventID() string {
	if e.ID == nil {
		return ""
	}
	return *e.ID
}

// Issue describes who published a JMA report and when.
type Issue struct {
	Source  string `json:"source,omitempty"`
	Time    string `json:"time"`
	Type    string `json:"type"` // ScalePrompt, Destination, ScaleAndDestination, DetailScale, Foreign, Other
	Correct string `json:"correct,omitempty"`
}

// Hypocenter is the origin of a JMA earthquake report.
type Hypocenter struct {
	Name      string   `json:"name,omitempty"`
	Latitude  *float64 `json:"latitude,omitempty"`
	Longitude *float64 `json:"longitude,omitempty"`
	Depth     *int     `json:"depth,omitempty"` // km
	Magnitude *float64 `json:"magnitude,omitempty"`
}

// Earthquake is the body of a JMA earthquake report.
type Earthquake struct {
	Time            string      `json:"time"`
	Hypocenter      *Hypocenter `json:"hypocenter,omitempty"`
	MaxScale        *int        `json:"maxScale,omitempty"`
	DomesticTsunami string      `json:"domesticTsunami,omitempty"`
	ForeignTsunami  string      `json:"foreignTsunami,omitempty"`
}

// ObservationPoint is one intensity observation.
type ObservationPoint struct {
	Pref   string `json:"pref"`
	Addr   string `json:"addr"`
	IsArea bool   `json:"isArea"`
	Scale  int    `json:"scale"`
}

// ScaleLabel converts the point's encoded intensity to its display label.
func (p ObservationPoint) ScaleLabel() string { return ScaleLabel(p.Scale) }

// Comments carries the free-text addendum of a report.
type Comments struct {
	FreeFormComment string `json:"freeFormComment"`
}

// JMAQuake is an earthquake report (code 551).
type JMAQuake struct {
	Envelope
	Issue      Issue              `json:"issue"`
	Earthquake Earthquake         `json:"earthquake"`
	Points     []ObservationPoint `json:"points"`
	Comments   *Comments          `json:"comments,omitempty"`
}

// MaxScaleLabel returns the display label of the maximum intensity, or
// "不明" when it is absent.
func (q JMAQuake) MaxScaleLabel() string {
	if q.Earthquake.MaxScale == nil {
		return ScaleLabel(0)
	}
	return ScaleLabel(*q.Earthquake.MaxScale)
}

// Magnitude returns the hypocenter magnitude and whether it is known.
// The upstream reports -1 for an undetermined magnitude.
func (q JMAQuake) Magnitude() (float64, bool) {
	h := q.Earthquake.Hypocenter
	if h == nil || h.Magnitude == nil || *h.Magnitude < 0 {
		return 0, false
	}
	return *h.Magnitude, true
}

// MarshalJSON adds the derived maxScaleLabel field.
func (q JMAQuake) MarshalJSON() ([]byte, error) {
	type alias JMAQuake
	return json.Marshal(struct {
		alias
		MaxScaleLabel string `json:"maxScaleLabel"`
	}{alias(q), q.MaxScaleLabel()})
}

// TsunamiFirstHeight is the expected first-wave arrival.
type TsunamiFirstHeight struct {
	ArrivalTime string `json:"arrivalTime,omitempty"`
	Condition   string `json:"condition,omitempty"`
}

// TsunamiMaxHeight is the expected maximum wave height.
type TsunamiMaxHeight struct {
	Description string   `json:"description"`
	Value       *float64 `json:"value,omitempty"`
}

// TsunamiArea is one forecast region of a tsunami report.
type TsunamiArea struct {
	Grade       string              `json:"grade"` // MajorWarning, Warning, Watch, Unknown
	Immediate   bool                `json:"immediate"`
	Name        string              `json:"name"`
	FirstHeight *TsunamiFirstHeight `json:"firstHeight,omitempty"`
	MaxHeight   *TsunamiMaxHeight   `json:"maxHeight,omitempty"`
}

// JMATsunami is a tsunami forecast (code 552).
type JMATsunami struct {
	Envelope
	Cancelled bool          `json:"cancelled"`
	Issue     Issue         `json:"issue"`
	Areas     []TsunamiArea `json:"areas"`
}

// EEWDetection reports that an EEW was detected on air (code 554).
type EEWDetection struct {
	Envelope
	Type string `json:"type"`
}

// AreaPeer is the peer count of one region.
type AreaPeer struct {
	ID   int `json:"id"`
	Peer int `json:"peer"`
}

// Areapeers is the per-region peer distribution (code 555). Diagnostic only.
type Areapeers struct {
	Envelope
	Areas []AreaPeer `json:"areas"`
}

// EEWHypocenter is the estimated origin in an EEW.
type EEWHypocenter struct {
	Name       string   `json:"name,omitempty"`
	ReduceName string   `json:"reduceName,omitempty"`
	Latitude   *float64 `json:"latitude,omitempty"`
	Longitude  *float64 `json:"longitude,omitempty"`
	Depth      *float64 `json:"depth,omitempty"`
	Magnitude  *float64 `json:"magnitude,omitempty"`
}

// EEWEarthquake is the earthquake part of an EEW.
type EEWEarthquake struct {
	OriginTime  string        `json:"originTime"`
	ArrivalTime string        `json:"arrivalTime"`
	Condition   string        `json:"condition,omitempty"`
	Hypocenter  EEWHypocenter `json:"hypocenter"`
}

// EEWIssue identifies one EEW bulletin.
type EEWIssue struct {
	Time    string `json:"time"`
	EventID string `json:"eventId"`
	Serial  string `json:"serial"`
}

// EEWArea is a forecast sub-region of an EEW.
type EEWArea struct {
	Pref        string  `json:"pref"`
	Name        string  `json:"name"`
	ScaleFrom   float64 `json:"scaleFrom"`
	ScaleTo     float64 `json:"scaleTo"`
	KindCode    string  `json:"kindCode,omitempty"`
	ArrivalTime string  `json:"arrivalTime,omitempty"`
}

// EEW is an earthquake early warning (code 556).
type EEW struct {
	Envelope
	Test       bool           `json:"test"`
	Earthquake *EEWEarthquake `json:"earthquake,omitempty"`
	Issue      EEWIssue       `json:"issue"`
	Cancelled  bool           `json:"cancelled"`
	Areas      []EEWArea      `json:"areas"`
}

// Userquake is a crowd-sensed shake report (code 561).
type Userquake struct {
	Envelope
	Area int `json:"area"`
}

// AreaConfidence is the evaluation result for one area.
type AreaConfidence struct {
	Confidence float64 `json:"confidence"`
	Count      int     `json:"count"`
	Display    string  `json:"display,omitempty"`
}

// UserquakeEvaluation aggregates user reports (code 9611).
type UserquakeEvaluation struct {
	Envelope
	Count           int                       `json:"count"`
	Confidence      float64                   `json:"confidence"`
	StartedAt       string                    `json:"started_at,omitempty"`
	UpdatedAt       string                    `json:"updated_at,omitempty"`
	AreaConfidences map[string]AreaConfidence `json:"area_confidences,omitempty"`
}

func (JMAQuake) sealed()            {}
func (JMATsunami) sealed()          {}
func (EEWDetection) sealed()        {}
func (Areapeers) sealed()           {}
func (EEW) sealed()                 {}
func (Userquake) sealed()           {}
func (UserquakeEvaluation) sealed() {}
