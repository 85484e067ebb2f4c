package ffmpeg

import (
	"bytes"
	"context"
	"os/exec"
	"strings"
	"time"
)

// runs ffmpeg with the provided args and returns (stdout, stderr, error)
func (t *Tool) Ffmpeg(ctx context.Context, args ...string) ([]byte, []byte, error) {
	return t.run(ctx, t.FFmpegPath, args...)
}

// runs ffprobe with the provided args and returns (stdout, stderr, error)
func (t *Tool) Ffprobe(ctx context.Context, args ...string) ([]byte, []byte, error) {
	return t.run(ctx, t.FFprobePath, args...)
}

func (t *Tool) run(ctx context.Context, bin string, args ...string) ([]byte, []byte, error) {
	t.log.Infoln(bin, strings.Join(args, " "))
	cmd := exec.CommandContext(ctx, bin, args...)
	var stdout bytes.Buffer
	var stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = 10 * time.Second
	err := cmd.Run()

	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = ctxErr
		}
		t.log.Errorf("%s error: %v", bin, err)
	}
	t.log.Debugln("stdout:", stdout.String())
	t.log.Debugln("stderr:", stderr.String())
	return stdout.Bytes(), stderr.Bytes(), err
}

// Version returns the first line of `ffmpeg -version`.
func (t *Tool) Version(ctx context.Context) (string, error) {
	stdout, _, err := t.Ffmpeg(ctx, "-version")
	if err != nil {
		return "", err
	}
	line, _, _ := strings.Cut(string(stdout), "\n")
	return strings.TrimSpace(line), nil
}

const stderrTail = 2048

func tail(b []byte) string {
	if len(b) > stderrTail {
		b = b[len(b)-stderrTail:]
	}
	return strings.TrimSpace(string(b))
}
