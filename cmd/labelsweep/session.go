package main

import (
	"context"
	"io"
	"log/slog"
	"slices"

	"github.com/joshsymonds/labelsweep/internal/config"
	"github.com/joshsymonds/labelsweep/internal/gmailctl"
	"github.com/joshsymonds/labelsweep/internal/labeller"
	"github.com/joshsymonds/labelsweep/internal/mail"
	"github.com/joshsymonds/labelsweep/internal/runtime"
)

// session is the configuration and provider shared by every command that
// talks to the mailbox.
type session struct {
	cfg      *config.Config
	logger   *slog.Logger
	provider mail.Provider
	closers  closers
}

func openSession(ctx context.Context, stderr io.Writer) (*session, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	s := &session{cfg: cfg, logger: newLogger(stderr)}
	provider, closeProvider, err := runtime.NewProvider(ctx, cfg, s.logger)
	if err != nil {
		return nil, err
	}
	s.provider = provider
	s.closers.add(closeProvider)
	return s, nil
}

func (s *session) Close() { s.closers.run() }

// imported returns gmailctl rules when import is enabled. Failures are
// logged and yield no rules.
func (s *session) imported(ctx context.Context) gmailctl.Converted {
	conv, err := runtime.ImportedRules(ctx, s.cfg, s.logger)
	if err != nil {
		s.logger.Warn("gmailctl import failed, continuing without imported rules", "err", err)
	}
	return conv
}

// openEngine builds the labelling engine. Without withClassifier the engine
// can only run Cleanup.
func (s *session) openEngine(ctx context.Context, withClassifier bool) (*labeller.Engine, error) {
	s.closers.add(startTelemetry(ctx, s.cfg, s.logger))
	lc := s.cfg.Labeller()
	if !withClassifier {
		return labeller.New(s.provider, nil, nil, lc, s.logger), nil
	}

	conv := s.imported(ctx)
	classifier, _, err := runtime.NewClassifier(s.cfg, conv.LabelRules, s.logger)
	if err != nil {
		return nil, err
	}
	store, closeStore, err := runtime.OpenStore(s.cfg)
	if err != nil {
		return nil, err
	}
	s.closers.add(func() {
		if err := closeStore(); err != nil {
			s.logger.Warn("close state store", "err", err)
		}
	})
	lc.AutoTrashRules = append(slices.Clone(lc.AutoTrashRules), conv.TrashRules...)
	return labeller.New(s.provider, classifier, store, lc, s.logger), nil
}
