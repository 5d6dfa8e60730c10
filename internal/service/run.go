// SPDX-FileCopyrightText: 2025 The instrcount Authors
// SPDX-License-Identifier: Apache-2.0

package service

import (
	"context"
	"log/slog"
	"os"

	"github.com/oklog/run"
)

// Run runs every Runner in a run group. The first runner to return stops the
// others and each runner that is also a Shutdowner is shut down as it stops.
// Shutdowners that do not run are shut down, in reverse order, once the group
// has stopped.
func Run(outer context.Context, logger *slog.Logger, services []Service) error {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, nil))
	}

	logger.Info("Running all services")
	ctx, cancel := context.WithCancel(outer)
	defer cancel()

	var g run.Group
	var passive []Service
	for _, s := range services {
		r, ok := s.(Runner)
		if !ok {
			logger.Debug("service does not run", "service", s.Name())
			passive = append(passive, s)
			continue
		}

		g.Add(
			func() error {
				logger.Info("Running service", "service", r.Name())
				return r.Run(ctx)
			},
			func(err error) {
				cancel()
				if err != nil {
					logger.Warn("service terminated", "service", r.Name(), "reason", err)
				}

				sd, ok := r.(Shutdowner)
				if !ok {
					return
				}
				logger.Info("shutting down", "service", r.Name())
				if err := sd.Shutdown(); err != nil {
					logger.Warn("service shutdown failed with error", "service", r.Name(), "error", err)
				}
			},
		)
	}

	err := g.Run()
	shutdown(logger, passive)
	return err
}
