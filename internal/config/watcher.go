package config

import (
	"context"
	"os"
	"sync"
	"time"

	"wabagate/internal/models"

	"github.com/sirupsen/logrus"
)

// ConfigWatcher polls the config file and re-applies the settings that can change at runtime.
type ConfigWatcher struct {
	configPath string
	interval   time.Duration
	logger     *logrus.Logger
	mu         sync.RWMutex
	config     *models.Config
	callbacks  []func(*models.Config)
}

func NewConfigWatcher(configPath string, initial *models.Config, logger *logrus.Logger) *ConfigWatcher {
	return &ConfigWatcher{
		configPath: configPath,
		interval:   5 * time.Second,
		logger:     logger,
		config:     initial,
	}
}

// Start blocks until ctx is done, reloading whenever the file's modification time advances.
func (cw *ConfigWatcher) Start(ctx context.Context) error {
	stat, err := os.Stat(cw.configPath)
	if err != nil {
		return err
	}
	lastModTime := stat.ModTime()

	ticker := time.NewTicker(cw.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			stat, err := os.Stat(cw.configPath)
			if err != nil {
				cw.logger.WithError(err).Error("Failed to stat configuration file")
				continue
			}
			if stat.ModTime().After(lastModTime) {
				lastModTime = stat.ModTime()
				cw.reload()
			}
		}
	}
}

func (cw *ConfigWatcher) GetConfig() *models.Config {
	cw.mu.RLock()
	defer cw.mu.RUnlock()
	return cw.config
}

func (cw *ConfigWatcher) OnConfigChange(callback func(*models.Config)) {
	cw.mu.Lock()
	defer cw.mu.Unlock()
	cw.callbacks = append(cw.callbacks, callback)
}

func (cw *ConfigWatcher) reload() {
	next, err := LoadConfig(cw.configPath)
	if err != nil {
		cw.logger.WithError(err).Error("Failed to reload configuration")
		return
	}

	cw.mu.Lock()
	prev := cw.config
	cw.config = next
	callbacks := append([]func(*models.Config){}, cw.callbacks...)
	cw.mu.Unlock()

	if prev != nil && prev.LogLevel != next.LogLevel {
		cw.logger.WithFields(logrus.Fields{"old": prev.LogLevel, "new": next.LogLevel}).Info("Log level changed")
	}
	if prev != nil {
		if sections := restartSections(prev, next); len(sections) > 0 {
			cw.logger.WithField("sections", sections).Warn("Configuration changed in sections that apply only after a restart")
		}
	}

	for _, cb := range callbacks {
		func() {
			defer func() {
				if r := recover(); r != nil {
					cw.logger.WithField("panic", r).Error("Config change callback panicked")
				}
			}()
			cb(next)
		}()
	}
}

// restartSections names the changed sections that are read once at startup.
// Only log_level is applied live.
func restartSections(prev, next *models.Config) []string {
	var out []string
	if prev.Server != next.Server {
		out = append(out, "server")
	}
	if prev.WhatsApp != next.WhatsApp {
		out = append(out, "whatsapp")
	}
	if prev.Database != next.Database || prev.Encryption != next.Encryption {
		out = append(out, "storage")
	}
	if prev.Queue != next.Queue {
		out = append(out, "queue")
	}
	if prev.Webhook != next.Webhook {
		out = append(out, "webhook")
	}
	if prev.Redis != next.Redis {
		out = append(out, "redis")
	}
	return out
}
