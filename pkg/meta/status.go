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

// Status is the error taxonomy every engine operation returns. Unlike a
// POSIX-facing client (out of scope, see spec §1), the core never returns
// a raw syscall.Errno; a gateway module translates Status to whatever wire
// protocol it speaks.
type Status uint8

const (
	StatusOK Status = iota
	StatusNotFound
	StatusNotPermitted
	StatusAccessDenied
	StatusNotDirectory
	StatusIsADirectory
	StatusNotEmpty
	StatusAlreadyExists
	StatusInvalidArgument
	StatusReadOnlyFs
	StatusIndexTooBig
	StatusNoSuchChunk
	StatusQuotaExceeded
	StatusMismatch
	StatusDelayed
	StatusTempNotPossible
	StatusBadMetadataChecksum
	StatusIoError
	StatusWaiting
)

var statusNames = [...]string{
	StatusOK:                  "OK",
	StatusNotFound:            "ENOENT",
	StatusNotPermitted:        "EPERM",
	StatusAccessDenied:        "EACCES",
	StatusNotDirectory:        "ENOTDIR",
	StatusIsADirectory:        "EISDIR",
	StatusNotEmpty:            "ENOTEMPTY",
	StatusAlreadyExists:       "EEXIST",
	StatusInvalidArgument:     "EINVAL",
	StatusReadOnlyFs:          "EROFS",
	StatusIndexTooBig:         "EFBIG",
	StatusNoSuchChunk:         "ENOCHUNK",
	StatusQuotaExceeded:       "EDQUOT",
	StatusMismatch:            "MISMATCH",
	StatusDelayed:             "DELAYED",
	StatusTempNotPossible:     "TEMP_NOTPOSSIBLE",
	StatusBadMetadataChecksum: "BAD_CHECKSUM",
	StatusIoError:             "EIO",
	StatusWaiting:             "WAITING",
}

func (s Status) String() string {
	if int(s) < len(statusNames) {
		return statusNames[s]
	}
	return "UNKNOWN"
}

// Error lets Status satisfy the error interface, so it can be returned as
// the side-effect half of an otherwise pure state transition.
func (s Status) Error() string {
	return s.String()
}

// OK reports whether the status represents success.
func (s Status) OK() bool {
	return s == StatusOK
}

// noRecord reports whether this status should suppress changelog emission
// on the master (§7: "On the master, error statuses cause no changelog
// emission").
func (s Status) noRecord() bool {
	return s != StatusOK
}
