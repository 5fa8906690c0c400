package domain

// scaleLabels maps the JMA encoded intensity to its conventional label.
// 46 is "5弱以上と推定されるが震度情報を入手していない".
var scaleLabels = map[int]string{
	10: "1",
	20: "2",
	30: "3",
	40: "4",
	45: "5弱",
	46: "5弱*",
	50: "5強",
	55: "6弱",
	60: "6強",
	70: "7",
}

// ScaleLabel returns the display label for an encoded intensity, or "不明"
// for any value outside the table (including -1 and 0).
func ScaleLabel(scale int) string {
	if label, ok := scaleLabels[scale]; ok {
		return label
	}
	return "不明"
}
