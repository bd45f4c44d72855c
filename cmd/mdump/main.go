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

// Command mdump is the offline counterpart to cmd/master: it inspects,
// verifies and compacts a data directory. dump and verify run without the
// exclusive data-directory lock a live daemon holds; compact takes that
// lock before rewriting anything. Grounded on the teacher's cmd/fsck.go
// (urfave/cli subcommand + progress-bar shape, applied to this module's
// own image+changelog instead of block/object-storage reconciliation).
package main

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"

	"github.com/urfave/cli/v2"

	"github.com/juicedata/lizardmeta/pkg/chunk"
	"github.com/juicedata/lizardmeta/pkg/meta"
	"github.com/juicedata/lizardmeta/pkg/utils"
)

const changelogFileName = "changelog.mfs"

var logger = utils.GetLogger("mdump")

func main() {
	app := &cli.App{
		Name:  "mdump",
		Usage: "inspect, verify and compact a lizardmeta data directory",
		Commands: []*cli.Command{
			dumpCommand(),
			verifyCommand(),
			compactCommand(),
		},
	}
	if err := app.Run(os.Args); err != nil {
		logger.Fatalf("%s", err)
	}
}

func dirFlag() cli.Flag {
	return &cli.StringFlag{Name: "dir", Required: true, Usage: "data directory to read"}
}

func dumpCommand() *cli.Command {
	return &cli.Command{
		Name:      "dump",
		Usage:     "print the image's metadata version and global checksum",
		ArgsUsage: "--dir DIR",
		Flags:     []cli.Flag{dirFlag()},
		Action: func(c *cli.Context) error {
			e, _, err := loadAndReplay(c.String("dir"), true)
			if err != nil {
				return err
			}
			fmt.Printf("version: %d\n", e.Version())
			fmt.Printf("checksum: %016X\n", e.Checksum(true))
			return nil
		},
	}
}

func verifyCommand() *cli.Command {
	return &cli.Command{
		Name:      "verify",
		Usage:     "replay the changelog over the image and report any checksum mismatch",
		ArgsUsage: "--dir DIR",
		Flags:     []cli.Flag{dirFlag()},
		Action: func(c *cli.Context) error {
			e, mismatches, err := loadAndReplay(c.String("dir"), false)
			if err != nil {
				return err
			}
			if mismatches > 0 {
				return fmt.Errorf("%d checksum mismatch(es) detected during replay", mismatches)
			}
			fmt.Printf("OK: version %d, checksum %016X\n", e.Version(), e.Checksum(true))
			return nil
		},
	}
}

func compactCommand() *cli.Command {
	return &cli.Command{
		Name:      "compact",
		Usage:     "replay the changelog, write a fresh image, and truncate the changelog",
		ArgsUsage: "--dir DIR",
		Flags: []cli.Flag{
			dirFlag(),
			&cli.IntFlag{Name: "keep-previous", Value: 3, Usage: "rotated metadata.mfs.N backups to retain"},
		},
		Action: func(c *cli.Context) error {
			dir := c.String("dir")
			lock, err := meta.LockDataDir(dir, false)
			if err != nil {
				return fmt.Errorf("lock data dir (is master running?): %w", err)
			}
			defer lock.Unlock()

			e, mismatches, err := loadAndReplay(dir, false)
			if err != nil {
				return err
			}
			if mismatches > 0 {
				return fmt.Errorf("refusing to compact: %d checksum mismatch(es) during replay", mismatches)
			}
			if err := e.DumpToDataDir(dir, c.Int("keep-previous")); err != nil {
				return fmt.Errorf("write image: %w", err)
			}
			if err := meta.WriteQuickStop(dir, e.Version()); err != nil {
				return fmt.Errorf("write quick_stop: %w", err)
			}
			changelogPath := filepath.Join(dir, changelogFileName)
			if err := os.Truncate(changelogPath, 0); err != nil && !os.IsNotExist(err) {
				return fmt.Errorf("truncate changelog: %w", err)
			}
			fmt.Printf("compacted: version %d, checksum %016X\n", e.Version(), e.Checksum(true))
			return nil
		},
	}
}

// loadAndReplay loads the image, then replays the changelog line by
// line under a progress bar; skipChangelog builds the engine from the
// image alone, for "dump" where replay isn't needed. Returns the number
// of replayed lines whose status was not OK (checksum mismatches, apply
// mismatches and any other error status).
func loadAndReplay(dir string, skipChangelog bool) (e *meta.Engine, mismatches int, err error) {
	cfg := meta.DefaultConfig()
	cfg.DataDir = dir
	cfg.Personality = meta.Shadow // offline replay never re-emits its own changelog
	e = meta.NewEngine(cfg, chunk.NewMemory())
	if err = e.LoadFromDataDir(dir); err != nil {
		return nil, 0, fmt.Errorf("load image: %w", err)
	}
	if skipChangelog {
		return e, 0, nil
	}

	changelogPath := filepath.Join(dir, changelogFileName)
	f, openErr := os.Open(changelogPath)
	if openErr != nil {
		if os.IsNotExist(openErr) {
			return e, 0, nil
		}
		return nil, 0, fmt.Errorf("open changelog: %w", openErr)
	}
	defer f.Close()

	lineCount, err := countLines(changelogPath)
	if err != nil {
		return nil, 0, err
	}

	pg := utils.NewProgress(false)
	bar := pg.AddCountBar("replay", lineCount)
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 16*1024*1024)
	for sc.Scan() {
		line := sc.Text()
		if line == "" {
			continue
		}
		if st := e.ReplayLine(line); !st.OK() {
			logger.Warnf("replay %q: %s", line, st)
			mismatches++
		}
		bar.Increment()
	}
	pg.Wait()
	if err := sc.Err(); err != nil {
		return nil, 0, fmt.Errorf("scan changelog: %w", err)
	}
	return e, mismatches, nil
}

func countLines(path string) (int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 16*1024*1024)
	var n int64
	for sc.Scan() {
		if sc.Text() != "" {
			n++
		}
	}
	return n, sc.Err()
}
