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

package utils

import (
	"os"

	"github.com/mattn/go-isatty"
	"github.com/vbauerster/mpb/v7"
	"github.com/vbauerster/mpb/v7/decor"
)

// Progress renders one bar per named stage of a long offline operation
// (mdump's dump/verify/compact), mirroring the quiet-when-piped behavior
// of the teacher's own terminal-color detection in logger.go. Disabled
// entirely when stderr isn't a terminal so redirected/CI output stays
// clean of carriage-return spam.
type Progress struct {
	p       *mpb.Progress
	enabled bool
}

// NewProgress constructs a Progress; quiet forces it off regardless of
// the terminal check.
func NewProgress(quiet bool) *Progress {
	if quiet || !isatty.IsTerminal(os.Stderr.Fd()) {
		return &Progress{}
	}
	return &Progress{p: mpb.New(mpb.WithOutput(os.Stderr)), enabled: true}
}

// AddCountBar adds a determinate bar counting up to total named items
// (e.g. changelog lines to replay, inodes to checksum).
func (pg *Progress) AddCountBar(name string, total int64) *CountBar {
	if !pg.enabled {
		return &CountBar{}
	}
	bar := pg.p.AddBar(total,
		mpb.PrependDecorators(decor.Name(name, decor.WC{W: len(name) + 1, C: decor.DidentRight})),
		mpb.AppendDecorators(decor.CountersNoUnit("%d / %d"), decor.Percentage(decor.WCSyncSpace)),
	)
	return &CountBar{bar: bar}
}

// Wait blocks until every bar has reached its total (or been completed).
func (pg *Progress) Wait() {
	if pg.enabled {
		pg.p.Wait()
	}
}

// CountBar is a no-op when progress is disabled, so callers never need a
// nil check.
type CountBar struct {
	bar *mpb.Bar
}

func (c *CountBar) Increment() {
	if c.bar != nil {
		c.bar.Increment()
	}
}

func (c *CountBar) SetTotal(total int64, complete bool) {
	if c.bar != nil {
		c.bar.SetTotal(total, complete)
	}
}
