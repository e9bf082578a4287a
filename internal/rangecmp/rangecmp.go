// Package rangecmp implements the range-equality utility from the status &
// utility component: does a byte range at an absolute offset equal the
// corresponding sub-region of an in-memory cache?
package rangecmp

import "bytes"

// Equal answers "does buf[0..len(buf)) at absolute offset bufOffset
// byte-equal the sub-region of cache[0..cacheLen) anchored at cacheOffset?"
//
// It returns false on any nil slice, on bufOffset < cacheOffset, on
// cacheLen < len(buf), and on cacheLen-len(buf) < bufOffset-cacheOffset;
// otherwise it compares len(buf) bytes at the computed cache cursor.
func Equal(bufOffset uint32, buf []byte, cacheOffset uint32, cacheLen uint32, cache []byte) bool {
	if buf == nil || cache == nil {
		return false
	}
	bufLen := uint32(len(buf))
	if bufOffset < cacheOffset {
		return false
	}
	if cacheLen < bufLen {
		return false
	}
	if cacheLen-bufLen < bufOffset-cacheOffset {
		return false
	}
	cursor := bufOffset - cacheOffset
	if uint64(cursor)+uint64(bufLen) > uint64(len(cache)) {
		return false
	}
	return bytes.Equal(buf, cache[cursor:cursor+bufLen])
}
