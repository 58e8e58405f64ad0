package ops

import (
	"context"
	"os"
	"time"

	"github.com/yanun0323/logs"
)

// DefaultReloadInterval is how often Watch stats the config file.
const DefaultReloadInterval = 2 * time.Second

// Watch polls path and calls update with every config that loads after a modification.
// A file that fails to load is reported and retried on its next change.
func Watch(ctx context.Context, path string, interval time.Duration, update func(Loaded)) {
	if interval <= 0 {
		interval = DefaultReloadInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var lastMod time.Time
	if info, err := os.Stat(path); err == nil {
		lastMod = info.ModTime()
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			info, err := os.Stat(path)
			if err != nil {
				logs.Warnf("config stat %s, err: %+v", path, err)
				continue
			}
			if !info.ModTime().After(lastMod) {
				continue
			}
			lastMod = info.ModTime()

			loaded, err := Load(path)
			if err != nil {
				logs.Errorf("config reload %s, err: %+v", path, err)
				continue
			}
			update(loaded)
			logs.Infof("config reloaded: %s", path)
		}
	}
}
