package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/JeanGrijp/throttle-io/internal/core/domain"
)

const reloadDebounce = 100 * time.Millisecond

// WatchRulesFile recarrega path sempre que ele é escrito ou recriado e entrega
// as novas regras a onChange. Um arquivo inválido é registrado no log e as
// regras anteriores continuam valendo. A observação termina com ctx.
func WatchRulesFile(ctx context.Context, path string, logger *slog.Logger, onChange func(domain.RuleSet)) error {
	if logger == nil {
		logger = slog.Default()
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolve rules file path: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create rules file watcher: %w", err)
	}
	// Editores substituem o arquivo ao salvar; por isso o diretório é observado.
	if err := watcher.Add(filepath.Dir(absPath)); err != nil {
		watcher.Close()
		return fmt.Errorf("watch %s: %w", filepath.Dir(absPath), err)
	}

	reload := func() {
		rules, err := LoadRulesFile(absPath)
		if err != nil {
			logger.Warn("ignoring rules file change", "path", absPath, "error", err)
			return
		}
		logger.Info("rules file reloaded", "path", absPath, "layers", len(rules))
		onChange(rules)
	}

	go func() {
		defer watcher.Close()

		var debounce *time.Timer
		for {
			select {
			case <-ctx.Done():
				if debounce != nil {
					debounce.Stop()
				}
				return

			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != absPath {
					continue
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
					continue
				}
				if debounce != nil {
					debounce.Stop()
				}
				debounce = time.AfterFunc(reloadDebounce, reload)

			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Error("rules file watcher error", "error", err)
			}
		}
	}()

	logger.Info("watching rules file", "path", absPath)
	return nil
}
