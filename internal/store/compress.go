// SPDX-License-Identifier: MIT

package store

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/stemsync/stemsync/internal/log"
)

// ffmpegError wraps FFmpeg command failures with truncated context.
type ffmpegError struct {
	cmd     string
	output  string
	wrapped error
}

func (e *ffmpegError) Error() string {
	return fmt.Sprintf("ffmpeg: %s: command %q: %s", e.wrapped, e.cmd, e.output)
}

func (e *ffmpegError) Unwrap() error { return e.wrapped }

func newFFmpegError(cmd *exec.Cmd, output []byte, err error) error {
	cmdStr := cmd.String()
	if len(cmdStr) > 200 {
		cmdStr = cmdStr[:200] + "..."
	}
	outStr := string(output)
	if len(outStr) > 200 {
		outStr = outStr[:200] + "..."
	}
	return &ffmpegError{cmd: cmdStr, output: outStr, wrapped: err}
}

// CompressAudio re-encodes the MP3 at path to targetKbps in place: ffmpeg
// writes a temp sibling which is renamed over the original. Safe to call
// concurrently on different files.
func (s *Store) CompressAudio(ctx context.Context, path string, targetKbps int) error {
	if _, err := os.Stat(path); err != nil {
		return fail("stat", path, err)
	}

	dir := filepath.Dir(path)
	tmp := filepath.Join(dir, "."+filepath.Base(path)+".encoding")
	defer os.Remove(tmp)

	cmd := exec.CommandContext(ctx, "ffmpeg",
		"-y",
		"-i", path,
		"-codec:a", "libmp3lame",
		"-b:a", fmt.Sprintf("%dk", targetKbps),
		"-f", "mp3",
		tmp,
	)
	if output, err := cmd.CombinedOutput(); err != nil {
		return fail("compress", path, newFFmpegError(cmd, output, err))
	}

	info, err := os.Stat(tmp)
	if err != nil {
		return fail("stat encoded", tmp, err)
	}
	if info.Size() == 0 {
		return fail("compress", path, fmt.Errorf("ffmpeg produced an empty file"))
	}

	if err := os.Rename(tmp, path); err != nil {
		return fail("rename encoded", path, err)
	}

	s.logger.Debug().
		Str(log.FieldPath, path).
		Int("bitrate_kbps", targetKbps).
		Int64("bytes", info.Size()).
		Msg("re-encoded audio")
	return nil
}
