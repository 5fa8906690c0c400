// Package domain models the P2P地震情報 (p2pquake.net) JSON API v2 payloads.
//
// # Data Source
//
// Messages arrive from two upstream surfaces: the realtime WebSocket
// (wss://api.p2pquake.net/v2/ws) and the REST history endpoints
// (https://api.p2pquake.net/v2). Both carry the same JSON objects. A sandbox
// host pair replays recorded traffic for development.
//
// # P2P Data Conventions
//
// Discriminator:
//
//	Every object carries an integer "code". 551 earthquake report, 552
//	tsunami forecast, 554 EEW detection, 555 area peers, 556 EEW, 561
//	userquake, 9611 userquake evaluation. Any other code is rejected with
//	[ErrUnknownCode].
//
// Time format:
//
//	"2006/01/02 15:04:05" with an optional ".999" suffix, always JST.
//	Parsed by [ParseTime], which falls back to the current time.
//
// Seismic intensity ("scale"):
//
//	Encoded as integers: 10 → 1, 20 → 2, 30 → 3, 40 → 4, 45 → 5弱,
//	50 → 5強, 55 → 6弱, 60 → 6強, 70 → 7, 46 → 5弱* (5弱以上と推定).
//	-1 and any other value means unknown ("不明"). See [ScaleLabel].
//
// Magnitude:
//
//	-1 in hypocenter.magnitude means undetermined. [JMAQuake.Magnitude]
//	reports it as unknown.
//
// # Identity
//
// The "id" field is the upstream event id. It is optional; messages without
// one are kept in history but never indexed by id. Later reports with the
// same id (corrections, cancellations) replace earlier ones in the index.
package domain
