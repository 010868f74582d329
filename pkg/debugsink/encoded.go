package debugsink

import (
	"io"
	"os"
	"strings"

	"github.com/ajitpratap0/zerowire/pkg/compression"
	"github.com/ajitpratap0/zerowire/pkg/convert"
	"github.com/ajitpratap0/zerowire/pkg/ingesterrors"
	"google.golang.org/protobuf/encoding/protowire"
)

// EncodedExt is the extension of encoded mirror files before any
// compression suffix. Records are varint length-delimited.
const EncodedExt = ".pb"

// encodedMirror appends encoded rows to a length-delimited stream,
// optionally compressed. The size limit applies to uncompressed bytes.
type encodedMirror struct {
	file  *rotatingFile
	codec *compression.Config

	writer  compression.Writer
	logical int64
	scratch []byte
}

func (m *encodedMirror) write(rows []convert.Encoded) error {
	for _, row := range rows {
		if m.writer == nil {
			if err := m.start(); err != nil {
				return err
			}
		}
		m.scratch = protowire.AppendBytes(m.scratch[:0], row.Data)
		if _, err := m.writer.Write(m.scratch); err != nil {
			return ingesterrors.Wrap(err, ingesterrors.ErrorTypeFile, "failed to write encoded mirror").
				WithDetail("path", m.file.state.CurrentPath)
		}
		m.logical += int64(len(m.scratch))
		if m.file.maxSize > 0 && m.logical >= m.file.maxSize {
			if err := m.rotate(); err != nil {
				return err
			}
		}
	}
	return nil
}

func (m *encodedMirror) start() error {
	// Open eagerly so the compressor header lands in the new file.
	if !m.file.active() {
		if err := m.file.open(); err != nil {
			return err
		}
	}
	w, err := compression.NewWriter(m.file, m.codec)
	if err != nil {
		return ingesterrors.Wrap(err, ingesterrors.ErrorTypeConfig, "failed to create encoded mirror compressor")
	}
	m.writer = w
	m.logical = 0
	return nil
}

func (m *encodedMirror) flush() error {
	if m.writer != nil {
		if err := m.writer.Flush(); err != nil {
			return ingesterrors.Wrap(err, ingesterrors.ErrorTypeFile, "failed to flush encoded mirror")
		}
	}
	return m.file.flush()
}

func (m *encodedMirror) rotate() error {
	var werr error
	if m.writer != nil {
		werr = m.writer.Close()
		m.writer = nil
	}
	if err := m.file.closeActive(); err != nil {
		return err
	}
	if werr != nil {
		return ingesterrors.Wrap(werr, ingesterrors.ErrorTypeFile, "failed to end encoded mirror stream")
	}
	return nil
}

// ReadEncoded reads every record of an encoded mirror file. The
// compression is inferred from the file extension.
func ReadEncoded(path string) ([][]byte, error) {
	f, err := os.Open(path) //nolint:gosec // G304: path is supplied by the operator
	if err != nil {
		return nil, ingesterrors.Wrap(err, ingesterrors.ErrorTypeFile, "failed to open encoded mirror")
	}
	defer f.Close()

	r, err := compression.NewReader(f, algorithmFor(path))
	if err != nil {
		return nil, ingesterrors.Wrap(err, ingesterrors.ErrorTypeFile, "failed to read encoded mirror")
	}
	defer r.Close()
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, ingesterrors.Wrap(err, ingesterrors.ErrorTypeFile, "failed to decompress encoded mirror").
			WithDetail("path", path)
	}

	var out [][]byte
	for len(data) > 0 {
		rec, n := protowire.ConsumeBytes(data)
		if n < 0 {
			return out, ingesterrors.Wrap(protowire.ParseError(n), ingesterrors.ErrorTypeFile, "truncated encoded mirror").
				WithDetail("path", path).
				WithDetail("records", len(out))
		}
		out = append(out, append([]byte(nil), rec...))
		data = data[n:]
	}
	return out, nil
}

func encodedExt(alg compression.Algorithm) string {
	return EncodedExt + alg.Extension()
}

func algorithmFor(path string) compression.Algorithm {
	for _, alg := range []compression.Algorithm{
		compression.Gzip, compression.Snappy, compression.LZ4, compression.Zstd, compression.S2,
	} {
		if strings.HasSuffix(path, encodedExt(alg)) {
			return alg
		}
	}
	return compression.None
}
