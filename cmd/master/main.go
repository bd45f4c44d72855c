/*
 * JuiceFS, Copyright 2020 Juicedata, Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Command master runs the metadata server event loop: it loads (or
// formats) a data directory, replays any changelog left from the last
// run, then serves as either Master (emitting a changelog of its own) or
// Shadow (only ever replaying one), ticking the background trash,
// checksum and task-manager jobs on a fixed schedule (spec §2, §4.9,
// §4.10, §4.11).
package main

import (
	"bufio"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/google/gops/agent"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"github.com/juicedata/lizardmeta/pkg/chunk"
	"github.com/juicedata/lizardmeta/pkg/meta"
	"github.com/juicedata/lizardmeta/pkg/utils"
)

const changelogFileName = "changelog.mfs"

var logger = utils.GetLogger("master")

func main() {
	app := &cli.App{
		Name:    "master",
		Usage:   "metadata server for a lizardmeta-managed filesystem",
		Version: "1.0.0",
		Flags:   daemonFlags(),
		Action:  run,
	}
	if err := app.Run(os.Args); err != nil {
		logger.Fatalf("%s", err)
	}
}

func daemonFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "dir", Value: "/var/lib/lizardmeta", Usage: "data directory holding the image and changelog"},
		&cli.StringFlag{Name: "personality", Value: "master", Usage: "master or shadow"},
		&cli.BoolFlag{Name: "auto-recovery", Usage: "reclaim a stale data-dir lock instead of refusing to start"},
		&cli.BoolFlag{Name: "disable-checksum-verification", Usage: "skip the changelog CHECKSUM line cross-check on replay"},
		&cli.BoolFlag{Name: "no-atime", Usage: "never update atime on read"},
		&cli.IntFlag{Name: "keep-previous", Value: 3, Usage: "number of rotated metadata.mfs.N backups to retain"},
		&cli.UintFlag{Name: "checksum-interval", Value: 1000, Usage: "versions between background checksum recalculation passes"},
		&cli.UintFlag{Name: "checksum-speed", Value: 5000, Usage: "entities processed per tick during checksum recalculation"},
		&cli.DurationFlag{Name: "empty-trash-period", Value: time.Hour, Usage: "tick interval for expiring trash entries"},
		&cli.DurationFlag{Name: "empty-reserved-period", Value: time.Hour, Usage: "tick interval for reclaiming orphaned reserved inodes"},
		&cli.DurationFlag{Name: "free-inodes-period", Value: time.Hour, Usage: "tick interval for releasing quarantined inodes"},
		&cli.DurationFlag{Name: "inode-reuse-delay", Value: 24 * time.Hour, Usage: "quarantine window before a freed inode id can be reused"},
		&cli.IntFlag{Name: "task-batch-size", Value: 100, Usage: "per-tick step budget for the task manager"},
		&cli.StringFlag{Name: "sugid-clear-mode", Value: "never", Usage: "never, always, osx, bsd, ext, xfs"},
		&cli.IntFlag{Name: "retries", Value: 10, Usage: "client-facing retry budget reported in Format"},
		&cli.BoolFlag{Name: "strict", Usage: "client-facing strict consistency flag reported in Format"},
		&cli.StringFlag{Name: "log-level", Value: "info", Usage: "trace, debug, info, warn, error"},
		&cli.StringFlag{Name: "log-file", Usage: "redirect logs to a file instead of stderr"},
		&cli.BoolFlag{Name: "no-color", Usage: "disable ANSI colors in log output"},
		&cli.StringFlag{Name: "metrics", Value: "127.0.0.1:9567", Usage: "address to serve Prometheus metrics on"},
		&cli.BoolFlag{Name: "gops", Usage: "start a github.com/google/gops diagnostics agent"},
	}
}

func sugidModeFromFlag(s string) meta.SugidClearMode {
	switch strings.ToLower(s) {
	case "always":
		return meta.SugidClearAlways
	case "osx":
		return meta.SugidClearOSX
	case "bsd":
		return meta.SugidClearBSD
	case "ext":
		return meta.SugidClearExt
	case "xfs":
		return meta.SugidClearXFS
	default:
		return meta.SugidClearNever
	}
}

func configFromFlags(c *cli.Context) meta.Config {
	cfg := meta.DefaultConfig()
	cfg.DataDir = c.String("dir")
	if strings.EqualFold(c.String("personality"), "shadow") {
		cfg.Personality = meta.Shadow
	} else {
		cfg.Personality = meta.Master
	}
	cfg.AutoRecovery = c.Bool("auto-recovery")
	cfg.DisableChecksumVerification = c.Bool("disable-checksum-verification")
	cfg.NoAtime = c.Bool("no-atime")
	cfg.BackMetaKeepPrevious = c.Int("keep-previous")
	cfg.ChecksumInterval = uint32(c.Uint("checksum-interval"))
	cfg.ChecksumRecalculationSpeed = uint32(c.Uint("checksum-speed"))
	cfg.EmptyTrashPeriod = c.Duration("empty-trash-period")
	cfg.EmptyReservedInodesPeriod = c.Duration("empty-reserved-period")
	cfg.FreeInodesPeriod = c.Duration("free-inodes-period")
	cfg.InodeReuseDelay = c.Duration("inode-reuse-delay")
	cfg.TaskBatchSize = c.Int("task-batch-size")
	cfg.SugidClearMode = sugidModeFromFlag(c.String("sugid-clear-mode"))
	cfg.Retries = c.Int("retries")
	cfg.Strict = c.Bool("strict")
	return cfg
}

func setupLogging(c *cli.Context) {
	if lvl, err := logrus.ParseLevel(c.String("log-level")); err == nil {
		utils.SetLogLevel(lvl)
	}
	if f := c.String("log-file"); f != "" {
		utils.SetOutFile(f)
	}
	if c.Bool("no-color") {
		utils.DisableLogColor()
	}
}

func run(c *cli.Context) error {
	setupLogging(c)

	if c.Bool("gops") {
		if err := agent.Listen(agent.Options{}); err != nil {
			logger.Warnf("gops agent: %s", err)
		} else {
			defer agent.Close()
		}
	}

	cfg := configFromFlags(c)
	dataLock, err := meta.LockDataDir(cfg.DataDir, cfg.AutoRecovery)
	if err != nil {
		return fmt.Errorf("lock data dir: %w", err)
	}
	defer dataLock.Unlock()

	coordinator := chunk.NewMemory()
	e := meta.NewEngine(cfg, coordinator)

	if err := loadAndReplay(e, cfg.DataDir); err != nil {
		return fmt.Errorf("load data dir: %w", err)
	}

	changelogPath := filepath.Join(cfg.DataDir, changelogFileName)
	clFile, err := os.OpenFile(changelogPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("open changelog: %w", err)
	}
	defer clFile.Close()
	e.SetChangelogOutput(clFile, nil)

	go serveMetrics(c.String("metrics"))

	logger.Infof("%s serving %s, metrics on %s", personalityName(cfg.Personality), cfg.DataDir, c.String("metrics"))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	lastTrash := time.Now()
	lastReserved := time.Now()
	lastFreeInodes := time.Now()

	for {
		select {
		case <-sigCh:
			logger.Infof("shutting down")
			return shutdown(e, cfg.DataDir, cfg.BackMetaKeepPrevious)
		case now := <-ticker.C:
			ts := now.Unix()
			e.TickTasks(ts)
			e.TickChecksum(ts)
			if now.Sub(lastTrash) >= cfg.EmptyTrashPeriod {
				e.EmptyTrash(ts)
				lastTrash = now
			}
			if now.Sub(lastReserved) >= cfg.EmptyReservedInodesPeriod {
				e.EmptyReservedInodes(ts)
				lastReserved = now
			}
			if now.Sub(lastFreeInodes) >= cfg.FreeInodesPeriod {
				e.FreeExpiredInodes(ts)
				lastFreeInodes = now
			}
		}
	}
}

func personalityName(p meta.Personality) string {
	if p == meta.Shadow {
		return "shadow"
	}
	return "master"
}

// loadAndReplay restores the image, then either trusts a clean-shutdown
// quick_stop sentinel (skipping replay entirely when its version matches
// the loaded image) or replays the on-disk changelog line by line (spec
// §4.10 "A clean shutdown may instead write a one-line sentinel file").
func loadAndReplay(e *meta.Engine, dir string) error {
	if err := e.LoadFromDataDir(dir); err != nil {
		logger.Warnf("no existing image in %s, starting empty: %s", dir, err)
		e.Init(meta.Format{Name: filepath.Base(dir)}, false)
	}
	if version, ok := meta.ReadQuickStop(dir); ok && version == e.Version() {
		logger.Infof("quick_stop sentinel matches image version %d, skipping changelog replay", version)
		return nil
	}
	changelogPath := filepath.Join(dir, changelogFileName)
	f, err := os.Open(changelogPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer f.Close()
	return e.ReplayAll(bufio.NewReader(f))
}

// shutdown writes a final image and a matching quick_stop sentinel so the
// next start can skip replay, then truncates the just-dumped changelog.
func shutdown(e *meta.Engine, dir string, keepBackups int) error {
	if err := e.DumpToDataDir(dir, keepBackups); err != nil {
		return fmt.Errorf("final dump: %w", err)
	}
	if err := meta.WriteQuickStop(dir, e.Version()); err != nil {
		return fmt.Errorf("write quick_stop: %w", err)
	}
	changelogPath := filepath.Join(dir, changelogFileName)
	if err := os.Truncate(changelogPath, 0); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("truncate changelog: %w", err)
	}
	return nil
}

// serveMetrics exposes the collectors meta's own package init already
// registered against the default Prometheus registry (spec §10
// observability carried as ambient stack).
func serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Errorf("metrics server: %s", err)
	}
}
