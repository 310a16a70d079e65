package gpu

import (
	"bytes"
	"encoding/binary"
	"os"
	"path/filepath"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"golang.org/x/exp/slog"
)

// PipelineCacheHeaderVersionOne is the only header layout drivers emit.
const PipelineCacheHeaderVersionOne = 1

// pipelineCacheHeaderSize is the length of a version one header: four
// little-endian uint32s and the cache UUID.
const pipelineCacheHeaderSize = 16 + 16

// PipelineCacheHeader is the driver-written prefix of serialized pipeline
// cache data.
type PipelineCacheHeader struct {
	Length   uint32
	Version  uint32
	VendorID uint32
	DeviceID uint32
	UUID     uuid.UUID
}

func ParsePipelineCacheHeader(data []byte) (PipelineCacheHeader, error) {
	var header PipelineCacheHeader
	if len(data) < pipelineCacheHeaderSize {
		return header, errors.Newf("pipeline cache: %d bytes is shorter than a header", len(data))
	}

	r := bytes.NewReader(data)
	for _, field := range []any{&header.Length, &header.Version, &header.VendorID, &header.DeviceID, &header.UUID} {
		if err := binary.Read(r, binary.LittleEndian, field); err != nil {
			return header, errors.Wrap(err, "pipeline cache: read header")
		}
	}
	return header, nil
}

// Matches returns an error describing the first way in which the header was
// not written by the driver of c.
func (h PipelineCacheHeader) Matches(c Candidate) error {
	switch {
	case h.Length < pipelineCacheHeaderSize:
		return errors.Newf("bad header length 0x%x", h.Length)
	case h.Version != PipelineCacheHeaderVersionOne:
		return errors.Newf("unsupported header version 0x%x", h.Version)
	case h.VendorID != c.VendorID:
		return errors.Newf("vendor ID mismatch: cache 0x%x, driver 0x%x", h.VendorID, c.VendorID)
	case h.DeviceID != c.DeviceID:
		return errors.Newf("device ID mismatch: cache 0x%x, driver 0x%x", h.DeviceID, c.DeviceID)
	case h.UUID != c.PipelineCacheUUID:
		return errors.Newf("UUID mismatch: cache %s, driver %s", h.UUID, c.PipelineCacheUUID)
	}
	return nil
}

// LoadPipelineCache reads the cache data stored at path for use as the
// initial data of a new pipeline cache. It returns nil when there is no file
// or when the file was written for another device or driver; a stale file is
// removed so the next run can repopulate it.
func LoadPipelineCache(path string, c Candidate, log *slog.Logger) []byte {
	if path == "" {
		return nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Warn("pipeline cache unreadable", "path", path, "error", err)
		}
		return nil
	}

	header, err := ParsePipelineCacheHeader(data)
	if err == nil {
		err = header.Matches(c)
	}
	if err != nil {
		log.Info("discarding pipeline cache", "path", path, "reason", err)
		_ = os.Remove(path)
		return nil
	}

	log.Debug("loaded pipeline cache", "path", path, "bytes", len(data))
	return data
}

func SavePipelineCache(path string, data []byte) error {
	if path == "" || len(data) == 0 {
		return nil
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return errors.Wrapf(err, "pipeline cache: create %s", dir)
		}
	}
	return errors.Wrapf(os.WriteFile(path, data, 0o644), "pipeline cache: write %s", path)
}
