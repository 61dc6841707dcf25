// Package config loads sceneboard settings.
//
// Settings are layered, higher layers overriding lower:
//
//	┌─────────────────────────────┐
//	│  3. Environment Variables   │  ← SCENEBOARD_HISTORY_CAPACITY, ...
//	├─────────────────────────────┤
//	│  2. Config File             │  ← sceneboard.toml
//	├─────────────────────────────┤
//	│  1. Built-in Defaults       │
//	└─────────────────────────────┘
//
// # Usage
//
//	cfg, err := config.Load("sceneboard.toml")
//	if err != nil {
//		return err
//	}
//
// Unknown keys in the file are rejected with a *ParseError carrying the
// line and column. Out-of-range values are reported together in one error
// wrapping ErrInvalidConfig.
//
// # Live Reload
//
// Watch reloads the file when it changes and hands each valid result to a
// callback. Only the history capacity is applied to a running engine.
//
//	w, err := config.Watch(path, func(c config.Config) {
//		eng.SetCapacity(c.History.Capacity)
//	})
package config
