// Copyright 2021-2026
// SPDX-License-Identifier: Apache-2.0
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package common

import (
	"encoding/binary"
	"errors"

	"github.com/pierrec/lz4/v4"
)

// cache values carry a one byte encoding tag
const (
	encodingRaw byte = iota
	encodingLZ4
)

const (
	// report payloads smaller than this are stored as is
	minCompressSize = 256

	maxCacheValueSize = 64 << 20
)

var ErrCorruptCacheValue = errors.New("corrupt cache value")

// EncodeCacheValue tags val and lz4 block compresses it when it is large
// enough to benefit. Incompressible payloads are stored raw.
func EncodeCacheValue(val []byte) ([]byte, error) {
	if len(val) < minCompressSize {
		return rawValue(val), nil
	}

	buf := make([]byte, 1+binary.MaxVarintLen64+lz4.CompressBlockBound(len(val)))
	buf[0] = encodingLZ4
	hdr := 1 + binary.PutUvarint(buf[1:], uint64(len(val)))

	n, err := lz4.CompressBlock(val, buf[hdr:], nil)
	if err != nil {
		return nil, err
	}
	if n == 0 || hdr+n >= len(val)+1 {
		return rawValue(val), nil
	}
	return buf[:hdr+n], nil
}

// DecodeCacheValue reverses EncodeCacheValue
func DecodeCacheValue(enc []byte) ([]byte, error) {
	if len(enc) == 0 {
		return nil, ErrCorruptCacheValue
	}

	switch enc[0] {
	case encodingRaw:
		return append([]byte(nil), enc[1:]...), nil
	case encodingLZ4:
		size, n := binary.Uvarint(enc[1:])
		if n <= 0 || size == 0 || size > maxCacheValueSize {
			return nil, ErrCorruptCacheValue
		}
		out := make([]byte, size)
		read, err := lz4.UncompressBlock(enc[1+n:], out)
		if err != nil || uint64(read) != size {
			return nil, ErrCorruptCacheValue
		}
		return out, nil
	default:
		return nil, ErrCorruptCacheValue
	}
}

func rawValue(val []byte) []byte {
	out := make([]byte, 1+len(val))
	out[0] = encodingRaw
	copy(out[1:], val)
	return out
}
