package media

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pion/webrtc/v4/pkg/media/ivfreader"
	"github.com/pion/webrtc/v4/pkg/media/oggreader"
)

var (
	// ErrUnsupportedContainer is returned for files that are neither IVF nor OGG.
	ErrUnsupportedContainer = errors.New("unsupported container")

	// ErrInvalidTimebase is returned for an IVF header with a zero timebase.
	ErrInvalidTimebase = errors.New("invalid timebase")
)

// Duration returns the play time of an IVF or OGG file.
func Duration(path string) (time.Duration, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".ivf":
		return ivfDuration(path)
	case ".ogg", ".opus":
		return oggDuration(path)
	default:
		return 0, fmt.Errorf("%s: %w", path, ErrUnsupportedContainer)
	}
}

func ivfDuration(path string) (time.Duration, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	_, header, err := ivfreader.NewWith(f)
	if err != nil {
		return 0, fmt.Errorf("read ivf header of %s: %w", path, err)
	}
	if header.TimebaseDenominator == 0 {
		return 0, fmt.Errorf("%s: %w", path, ErrInvalidTimebase)
	}

	seconds := float64(header.NumFrames) * float64(header.TimebaseNumerator) / float64(header.TimebaseDenominator)
	return time.Duration(seconds * float64(time.Second)), nil
}

func oggDuration(path string) (time.Duration, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	reader, _, err := oggreader.NewWith(f)
	if err != nil {
		return 0, fmt.Errorf("read ogg header of %s: %w", path, err)
	}

	var granule uint64
	for {
		_, header, err := reader.ParseNextPage()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return 0, fmt.Errorf("read ogg page of %s: %w", path, err)
		}
		granule = header.GranulePosition
	}
	return time.Duration(granule) * time.Second / opusSampleRate, nil
}
