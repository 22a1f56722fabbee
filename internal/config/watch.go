package config

import (
	"context"
	"os"
	"sort"
	"time"

	"go.uber.org/zap"
)

// DefaultWatchInterval is the poll cadence for on-disk edits.
const DefaultWatchInterval = 2 * time.Second

// Change describes one detected reload: which sections differ plus full
// before/after snapshots for subscribers that need old values.
type Change struct {
	Sections []string
	Old      Snapshot
	New      Snapshot
}

// ChangeFunc receives every detected change. It runs on the watcher
// goroutine; long work should be handed off by the subscriber.
type ChangeFunc func(Change)

type subscriber struct {
	name string
	fn   ChangeFunc
}

// Subscribe registers fn under name. Re-subscribing an existing name is a
// no-op, so registration is idempotent.
func (s *Store) Subscribe(name string, fn ChangeFunc) {
	if fn == nil {
		return
	}
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for _, sub := range s.subs {
		if sub.name == name {
			return
		}
	}
	s.subs = append(s.subs, subscriber{name: name, fn: fn})
}

// Unsubscribe removes the named subscriber; unknown names are ignored.
func (s *Store) Unsubscribe(name string) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for i, sub := range s.subs {
		if sub.name == name {
			s.subs = append(s.subs[:i], s.subs[i+1:]...)
			return
		}
	}
}

// Watch polls the file mtime until ctx is done, reloading and notifying
// subscribers when it moves. Diffs are taken against the last broadcast
// snapshot, so changes persisted through Set+Save are rebroadcast exactly
// like external edits. Run on its own goroutine.
func (s *Store) Watch(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultWatchInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	last := s.Snapshot()
	s.logger.Info("config_watch_start",
		zap.String("path", s.path), zap.Duration("interval", interval))

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("config_watch_stop")
			return
		case <-ticker.C:
		}

		st, err := os.Stat(s.path)
		if err != nil {
			// Editors replace files non-atomically; try again next poll.
			continue
		}
		s.mu.RLock()
		known := s.modTime
		s.mu.RUnlock()
		if st.ModTime().Equal(known) {
			continue
		}

		if err := s.Load(); err != nil {
			s.logger.Warn("config_reload_failed", zap.Error(err))
			continue
		}
		cur := s.Snapshot()
		changed := changedSections(last, cur)
		if len(changed) == 0 {
			last = cur
			continue
		}
		s.logger.Info("config_reload",
			zap.Strings("sections", changed),
			zap.Strings("keys", changedKeys(last, cur, changed)))
		s.broadcast(Change{Sections: changed, Old: last, New: cur})
		last = cur
	}
}

func (s *Store) broadcast(change Change) {
	s.subMu.Lock()
	subs := make([]subscriber, len(s.subs))
	copy(subs, s.subs)
	s.subMu.Unlock()

	for _, sub := range subs {
		func() {
			defer func() {
				if r := recover(); r != nil {
					s.logger.Error("config_subscriber_panic",
						zap.String("subscriber", sub.name), zap.Any("panic", r))
				}
			}()
			sub.fn(change)
		}()
	}
}

func changedSections(old, cur Snapshot) []string {
	seen := make(map[string]struct{})
	for name := range old {
		seen[name] = struct{}{}
	}
	for name := range cur {
		seen[name] = struct{}{}
	}
	var out []string
	for name := range seen {
		if !sameSection(old[name], cur[name]) {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

func sameSection(a, b map[string]string) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if bv, ok := b[k]; !ok || bv != v {
			return false
		}
	}
	return true
}

// changedKeys flattens the differing keys as section.key for the reload log.
func changedKeys(old, cur Snapshot, sections []string) []string {
	var out []string
	for _, section := range sections {
		o, n := old[section], cur[section]
		seen := make(map[string]struct{})
		for k := range o {
			seen[k] = struct{}{}
		}
		for k := range n {
			seen[k] = struct{}{}
		}
		keys := make([]string, 0, len(seen))
		for k := range seen {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			ov, oOK := o[k]
			nv, nOK := n[k]
			if !oOK || !nOK || ov != nv {
				out = append(out, section+"."+k)
			}
		}
	}
	return out
}
