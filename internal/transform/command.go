package transform

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"path"
	"strings"
)

// commandStep pipes the asset through an external compiler such as sass, lessc or
// stylus. The command reads the source on stdin and writes the result to stdout. The
// placeholder {file} in args is replaced with the file name of the asset.
func commandStep(ctx context.Context, asset *Asset, opts Options) error {
	name, err := opts.String("command")
	if err != nil {
		return err
	}
	if name == "" {
		return fmt.Errorf("%w: command is required", ErrInvalidOption)
	}
	args, err := opts.Strings("args")
	if err != nil {
		return err
	}
	for i, arg := range args {
		args[i] = strings.ReplaceAll(arg, "{file}", path.Base(asset.Path))
	}

	// #nosec G204 - command comes from the project configuration
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = asset.Dir
	cmd.Stdin = bytes.NewReader(asset.Code)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			return fmt.Errorf("%s: %w", name, err)
		}
		return fmt.Errorf("%s: %w: %s", name, err, msg)
	}

	if stdout.Len() == 0 && len(bytes.TrimSpace(asset.Code)) > 0 {
		return errors.New(name + " produced no output")
	}

	asset.Code = stdout.Bytes()
	return nil
}
