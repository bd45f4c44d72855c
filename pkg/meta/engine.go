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

import (
	"io"
	"strconv"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/juicedata/lizardmeta/pkg/utils"
)

// Engine is the in-memory namespace graph plus every side table that
// hangs off it: inode pool, quotas, xattrs, ACLs, locks, checksum state,
// trash/reserved tables and sessions. One Engine is the whole of a
// master's (or shadow's) metadata state (spec §1 "Scope").
//
// The engine is single-threaded by contract: every exported method
// assumes it runs on the owning goroutine's event loop, mirroring the
// original's cooperative, lock-free design (spec §2 "Concurrency model").
// callersLock is a reader/writer mutex declared for cross-goroutine reads
// (metrics scraping, offline tools); no engine method takes it, so such
// reads are not synchronised with the owning loop by the engine itself.
type Engine struct {
	config Config
	format Format

	nodes  map[Ino]*node
	inodes *inodePool
	xattrs *xattrStore
	acls   *aclStore
	quotas *quotaDB
	locks  *fileLocks

	trash    *trashTable
	reserved *reservedTable

	checksum   checksumState
	bgChecksum *backgroundChecksum

	chunks ChunkCoordinator

	changelog    *changelogWriter
	metaversion  uint64
	lastChecksumVersion uint64

	sessions      map[uint32]*Session
	nextSessionID uint32

	tasks *taskManager

	logger logrus.FieldLogger

	callersLock sync.RWMutex
}

// NewEngine constructs an empty Engine; call Init on a brand-new volume
// or LoadFromDataDir to restore one from an image+changelog (spec §4.10/§4.11).
func NewEngine(cfg Config, coordinator ChunkCoordinator) *Engine {
	e := &Engine{
		config:        cfg,
		nodes:         make(map[Ino]*node),
		inodes:        newInodePool(cfg.InodeReuseDelay),
		xattrs:        newXattrStore(),
		acls:          newAclStore(),
		quotas:        newQuotaDB(),
		locks:         newFileLocks(),
		trash:         newTrashTable(),
		reserved:      newReservedTable(),
		bgChecksum:    newBackgroundChecksum(cfg.ChecksumRecalculationSpeed),
		chunks:        coordinator,
		changelog:     newChangelogWriter(nil, nil),
		sessions:      make(map[uint32]*Session),
		nextSessionID: 1,
		logger:        utils.GetLogger("meta"),
	}
	e.tasks = newTaskManager(e, cfg.TaskBatchSize)
	return e
}

// SetChangelogOutput wires the append-destination and broadcast sink used
// by emitMaster; offline tools (mdump) leave this unset and get a
// discarding writer (spec §4.9).
func (e *Engine) SetChangelogOutput(w io.Writer, sink ChangelogSink) {
	e.changelog = newChangelogWriter(w, sink)
}

// Init formats a brand-new, empty volume: it creates the root inode and
// records the format descriptor (spec §4.10 "Init/Format").
func (e *Engine) Init(format Format, force bool) Status {
	if _, exists := e.nodes[RootInode]; exists && !force {
		return StatusAlreadyExists
	}
	e.format = format
	root := newNode(RootInode, TypeDirectory, 0755, 0, 0, 0)
	root.attr.Nlink = 2
	e.nodes[RootInode] = root
	e.inodes.markUsed(RootInode)
	e.xorHash(root)
	return StatusOK
}

// Reset drops all in-memory state, returning the engine to its
// just-constructed condition (used by tests and mdump before a fresh
// load).
func (e *Engine) Reset() {
	e.nodes = make(map[Ino]*node)
	e.inodes = newInodePool(e.config.InodeReuseDelay)
	e.xattrs = newXattrStore()
	e.acls = newAclStore()
	e.quotas = newQuotaDB()
	e.locks = newFileLocks()
	e.trash = newTrashTable()
	e.reserved = newReservedTable()
	e.checksum = checksumState{}
	e.bgChecksum = newBackgroundChecksum(e.config.ChecksumRecalculationSpeed)
	e.metaversion = 0
	e.lastChecksumVersion = 0
	e.sessions = make(map[uint32]*Session)
	e.nextSessionID = 1
}

// Version returns the current metadata version (spec §6 "version").
func (e *Engine) Version() uint64 { return e.metaversion }

// Personality reports whether this engine is acting as Master or Shadow.
func (e *Engine) Personality() Personality { return e.config.Personality }

// emitMaster appends+broadcasts a changelog record and advances
// metaversion, but only when running as Master; Shadow engines advance
// metaversion exclusively from ReplayLine (spec §4.9, §7).
func (e *Engine) emitMaster(ts int64, op string, args []string, result string, hasResult bool) {
	if e.config.Personality != Master {
		return
	}
	e.metaversion++
	if err := e.changelog.emit(e.metaversion, ts, op, args, result, hasResult); err != nil {
		e.logger.Errorf("emit changelog: %s", err)
		return
	}
	changelogEmitted.Inc()
}

// itoa formats an unsigned integer for changelog argument encoding.
func itoa(v uint64) string {
	return strconv.FormatUint(v, 10)
}

// itoaSigned formats a signed integer for changelog argument encoding.
func itoaSigned(v int64) string {
	return strconv.FormatInt(v, 10)
}
