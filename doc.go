// Package trafficlight is a Raspberry Pi traffic light controller for a
// two-approach intersection: a main road (north-south) crossing the road
// to the S-Bahn station (east-west).
//
// The signal runs the German cycle (green, yellow, red, red+yellow) under
// a mode-driven phase plan. Operating modes react to live conditions
// fetched from public APIs: inbound trains from the Deutsche Bahn
// timetables API, precipitation and frost from OpenWeatherMap, commute
// delay from Google Directions, and the planetary Kp index from NOAA.
//
// # Architecture
//
//	┌──────────────────────────────────────┐
//	│            Controller                │  Signal loop, mode
//	│  (tick, evaluate, drive, interlock)  │  evaluation, lamp retry
//	└──────────────────────────────────────┘
//	      ↑ plans            ↑ conditions
//	┌───────────┐      ┌──────────────────┐
//	│   Modes   │      │  Monitor store   │  Freshness-aware
//	│ (registry)│      │  + poll runners  │  condition snapshots
//	└───────────┘      └──────────────────┘
//	      ↓ transitions drive
//	┌──────────────────────────────────────┐
//	│           Hardware driver            │  periph.io GPIO or mock
//	└──────────────────────────────────────┘
//
// Safety invariants are enforced in the phase package: crossing
// approaches never show green together, yellow duration is fixed, every
// plan carries an all-red clearance window, and plan changes are adopted
// only inside that window. A detected conflict trips the interlock and
// forces all heads red.
//
// # Packages
//
//   - phase: signal colors, phase plans, the cycle state machine
//   - mode: operating mode registry and the built-in modes
//   - monitor: condition snapshots, store, and polling runners
//   - monitor/transit, monitor/weather, monitor/traffic,
//     monitor/spaceweather: the four condition sources
//   - controller: the signal loop
//   - hardware: lamp drivers (GPIO, mock)
//   - events: in-process event bus and optional NATS publisher
//   - web: status API, health endpoint, metrics, websocket event stream
//   - config: YAML configuration and environment credentials
//   - errors, health, metric, pkg/retry: shared infrastructure
//
// # Binary
//
// cmd/trafficlightd runs the daemon:
//
//	trafficlightd -config configs/config.yaml
//	trafficlightd -mock-hardware -log-level debug
//
// Credentials come from the environment (DB_CLIENT_ID, DB_CLIENT_SECRET,
// OWM_API_KEY, GOOGLE_MAPS_API_KEY, NATS_URL). Sources without
// credentials are disabled and reported as unavailable; the signal keeps
// cycling in normal mode.
package trafficlight
