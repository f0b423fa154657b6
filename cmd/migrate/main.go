// Copyright 2026 The GridPanel Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Command migrate applies the embedded schema migrations and exits.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/gridpanel/gridpanel/internal/config"
	"github.com/gridpanel/gridpanel/internal/observability/logger"
	"github.com/gridpanel/gridpanel/internal/store/postgres"
)

func main() {
	list := flag.Bool("list", false, "print the embedded migrations without connecting")
	timeout := flag.Duration("timeout", 2*time.Minute, "overall migration timeout")
	flag.Parse()

	logger.InitLogger(logger.Config{
		Level:       "info",
		Format:      "text",
		ServiceName: "gridpanel-migrate",
		DisableOTel: true,
	})

	if *list {
		names, err := postgres.Migrations()
		if err != nil {
			slog.Error("failed to read migrations", logger.Error(err))
			os.Exit(1)
		}
		for _, name := range names {
			fmt.Println(name)
		}
		return
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", logger.Error(err))
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	db, err := postgres.New(ctx, postgres.Config{
		DSN:          cfg.Database.DSN(),
		MaxOpenConns: 2,
	})
	if err != nil {
		slog.Error("failed to connect to database", logger.Error(err))
		os.Exit(1)
	}
	defer db.Close()

	applied, err := db.Migrate(ctx)
	if err != nil {
		slog.Error("migration failed", logger.Error(err))
		os.Exit(1)
	}
	for _, name := range applied {
		slog.Info("migration applied", logger.String("migration", name))
	}
	slog.Info("database is up to date", logger.Count(len(applied)))
}
