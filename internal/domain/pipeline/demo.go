package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/klauspost/compress/gzip"

	"github.com/GriffinCanCode/Stochify/vizhost/internal/shared/id"
	"github.com/GriffinCanCode/Stochify/vizhost/internal/shared/types"
)

// maxDemoSize bounds the inflated demo snippet
const maxDemoSize = 1 << 20

// RunDemo submits the bundled demo snippet at path. The file may be gzipped.
func (o *Orchestrator) RunDemo(ctx context.Context, path string) (Outcome, error) {
	src, err := readDemo(path)
	if err != nil {
		return Outcome{}, err
	}
	return o.Submit(ctx, Request{
		ID:        id.NewRequestID(),
		Source:    src,
		Dimension: string(types.DimensionDemo),
	}), nil
}

func readDemo(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read demo: %w", err)
	}

	if strings.HasSuffix(path, ".gz") || bytes.HasPrefix(data, []byte{0x1f, 0x8b}) {
		zr, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return "", fmt.Errorf("gunzip demo %s: %w", path, err)
		}
		defer zr.Close()

		data, err = io.ReadAll(io.LimitReader(zr, maxDemoSize+1))
		if err != nil {
			return "", fmt.Errorf("gunzip demo %s: %w", path, err)
		}
	}
	if len(data) > maxDemoSize {
		return "", fmt.Errorf("demo %s exceeds %d bytes", path, maxDemoSize)
	}
	return string(data), nil
}
