package http

import (
	"net/url"
	"strconv"
	"strings"

	"github.com/couchcryptid/p2pquake-service/internal/adapter/p2p"
	"github.com/couchcryptid/p2pquake-service/internal/domain"
)

// Bad query values are ignored rather than rejected: the data endpoints
// always answer 200.

func intParam(q url.Values, key string, def int) int {
	if n, err := strconv.Atoi(q.Get(key)); err == nil {
		return n
	}
	return def
}

func optionalInt(q url.Values, key string) *int {
	n, err := strconv.Atoi(q.Get(key))
	if err != nil {
		return nil
	}
	return &n
}

func optionalFloat(q url.Values, key string) *float64 {
	f, err := strconv.ParseFloat(q.Get(key), 64)
	if err != nil {
		return nil
	}
	return &f
}

// parseCodes accepts both codes=551,552 and repeated codes params. Unknown
// codes are dropped.
func parseCodes(q url.Values) []domain.InfoCode {
	var codes []domain.InfoCode
	for _, v := range q["codes"] {
		for part := range strings.SplitSeq(v, ",") {
			n, err := strconv.Atoi(strings.TrimSpace(part))
			if err != nil || !domain.IsKnownCode(domain.InfoCode(n)) {
				continue
			}
			codes = append(codes, domain.InfoCode(n))
		}
	}
	return codes
}

func parseQuakeQuery(q url.Values) p2p.QuakeQuery {
	return p2p.QuakeQuery{
		Limit:        intParam(q, "limit", 10),
		Offset:       intParam(q, "offset", 0),
		Order:        intParam(q, "order", -1),
		SinceDate:    q.Get("since_date"),
		UntilDate:    q.Get("until_date"),
		QuakeType:    q.Get("quake_type"),
		MinMagnitude: optionalFloat(q, "min_magnitude"),
		MaxMagnitude: optionalFloat(q, "max_magnitude"),
		MinScale:     optionalInt(q, "min_scale"),
		MaxScale:     optionalInt(q, "max_scale"),
	}
}

func parseTsunamiQuery(q url.Values) p2p.TsunamiQuery {
	return p2p.TsunamiQuery{
		Limit:     intParam(q, "limit", 10),
		Offset:    intParam(q, "offset", 0),
		Order:     intParam(q, "order", -1),
		SinceDate: q.Get("since_date"),
		UntilDate: q.Get("until_date"),
	}
}
