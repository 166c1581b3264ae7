// Copyright 2026 The Mydia Authors
// SPDX-License-Identifier: Apache-2.0

// Package media serves the instance's media files over the secure
// transport: a filesystem-backed source for streaming resources and the
// request handler that glues pairing and media access to the transport
// listener.
package media

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/mydia-project/mydia/wire"
)

// contentTypes maps streaming file extensions the stdlib does not know
// to their media types.
var contentTypes = map[string]string{
	".m3u8": "application/vnd.apple.mpegurl",
	".ts":   "video/mp2t",
	".mp4":  "video/mp4",
	".m4s":  "video/iso.segment",
	".vtt":  "text/vtt",
	".mkv":  "video/x-matroska",
	".mp3":  "audio/mpeg",
	".aac":  "audio/aac",
	".flac": "audio/flac",
	".jpg":  "image/jpeg",
	".png":  "image/png",
}

// Source serves files from a directory tree. Resource paths are
// resolved strictly inside Root; anything that escapes reads as absent.
type Source struct {
	// Root is the media directory.
	Root string
}

// resolve maps a request path to a file under Root, or fails for paths
// that are absolute, empty, or traverse upwards.
func (s *Source) resolve(resource string) (string, error) {
	cleaned := path.Clean("/" + resource)
	if cleaned == "/" {
		return "", errors.New("empty resource path")
	}
	// Clean moved any ".." out; the remainder is a safe relative path.
	return filepath.Join(s.Root, filepath.FromSlash(cleaned)), nil
}

// Serve answers one media request. Missing or escaping paths produce a
// 404 response, not an error; errors are reserved for I/O failures the
// client cannot do anything about.
func (s *Source) Serve(req *wire.Request) (*wire.Response, error) {
	notFound := &wire.Response{
		Status:      404,
		ContentType: "text/plain; charset=utf-8",
		Body:        []byte("not found"),
	}

	target, err := s.resolve(req.Path)
	if err != nil {
		return notFound, nil
	}
	f, err := os.Open(target)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return notFound, nil
		}
		return nil, fmt.Errorf("opening %s: %w", req.Path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", req.Path, err)
	}
	if info.IsDir() {
		return notFound, nil
	}
	size := info.Size()

	resp := &wire.Response{
		Status:       200,
		ContentType:  typeFor(target),
		CacheControl: cacheControlFor(target),
	}

	start, end := int64(0), size-1
	ranged := req.RangeStart != nil
	if ranged {
		start = *req.RangeStart
		if req.RangeEnd != nil && *req.RangeEnd < end {
			end = *req.RangeEnd
		}
		if start >= size || start > end {
			return &wire.Response{
				Status:       416,
				ContentRange: fmt.Sprintf("bytes */%d", size),
			}, nil
		}
	}

	length := end - start + 1
	body := make([]byte, length)
	if _, err := f.ReadAt(body, start); err != nil && err != io.EOF {
		return nil, fmt.Errorf("reading %s: %w", req.Path, err)
	}
	resp.Body = body
	resp.ContentLength = length
	if ranged {
		resp.Status = 206
		resp.ContentRange = fmt.Sprintf("bytes %d-%d/%d", start, end, size)
	}
	return resp, nil
}

func typeFor(target string) string {
	if ct, ok := contentTypes[strings.ToLower(filepath.Ext(target))]; ok {
		return ct
	}
	return "application/octet-stream"
}

// cacheControlFor keeps playlists fresh and lets immutable segments be
// cached hard.
func cacheControlFor(target string) string {
	if strings.EqualFold(filepath.Ext(target), ".m3u8") {
		return "no-cache"
	}
	return "public, max-age=31536000, immutable"
}
