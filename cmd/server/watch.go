package main

import (
	"log/slog"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"github.com/siphomateke/zra-helper-sub001/internal/config"
	"github.com/siphomateke/zra-helper-sub001/internal/queue"
)

// watchQueueLimits re-applies queue limits whenever the config file changes.
// Other settings need a restart.
func watchQueueLimits(v *viper.Viper, queues *queue.Set, logger *slog.Logger) {
	if v.ConfigFileUsed() == "" {
		return
	}
	v.OnConfigChange(func(e fsnotify.Event) {
		applyQueueLimits(v, queues, logger, e.Name)
	})
	v.WatchConfig()
	logger.Info("watching config file for queue limit changes", "file", v.ConfigFileUsed())
}

func applyQueueLimits(v *viper.Viper, queues *queue.Set, logger *slog.Logger, file string) {
	cfg, err := config.Decode(v)
	if err != nil {
		logger.Warn("ignoring invalid config change", "file", file, "error", err)
		return
	}
	queues.Apply(cfg.Queues)
}
