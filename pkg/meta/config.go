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

package meta

import "time"

// Personality selects whether the engine emits changelogs (Master) or
// only replays them (Shadow). See spec §2 "Data flow" and GLOSSARY.
type Personality uint8

const (
	Master Personality = iota
	Shadow
)

// Config holds the engine-level tunables enumerated in spec §6. CLI/env
// parsing lives in cmd/master; this struct is the pure data the engine
// consumes.
type Config struct {
	DataDir string

	Personality Personality

	AutoRecovery                bool
	DisableChecksumVerification bool
	MagicAutoFileRepair         bool
	NoAtime                     bool
	MagicDisableMetadataDumps   bool

	BackMetaKeepPrevious int // <= 99

	ChecksumInterval           uint32 // "period" in spec §4.9
	ChecksumRecalculationSpeed uint32 // entities/tick, spec §4.8 speed_limit

	EmptyTrashPeriod          time.Duration
	EmptyReservedInodesPeriod time.Duration
	FreeInodesPeriod          time.Duration

	CustomGoalsFilename string

	// InodeReuseDelay is the inode pool's quarantine window (spec §4.1,
	// >= 86400s).
	InodeReuseDelay time.Duration

	// TaskBatchSize is the task manager's per-tick step budget K (spec §4.11).
	TaskBatchSize int

	SugidClearMode SugidClearMode

	Retries int
	Strict  bool
}

// DefaultConfig mirrors the original daemon's compiled-in defaults.
func DefaultConfig() Config {
	return Config{
		InodeReuseDelay:            24 * time.Hour,
		ChecksumInterval:           1000,
		ChecksumRecalculationSpeed: 5000,
		EmptyTrashPeriod:           time.Hour,
		EmptyReservedInodesPeriod:  time.Hour,
		FreeInodesPeriod:           time.Hour,
		BackMetaKeepPrevious:       3,
		TaskBatchSize:              100,
		SugidClearMode:             SugidClearNever,
	}
}
