// Package archive writes and reads the compressed tarballs packages are stored and transferred as.
package archive

import (
	"archive/tar"
	"compress/gzip"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/andybalholm/brotli"
	"github.com/rotisserie/eris"
	"github.com/ulikunitz/xz"
)

// FileEntry describes one file of a package
type FileEntry struct {
	Path   string `json:"path"`
	Size   int64  `json:"size"`
	Sha256 string `json:"sha256"`
}

type (
	compressor   func(io.Writer) (io.WriteCloser, error)
	decompressor func(io.Reader) (io.ReadCloser, error)
)

func getCodec(filename string) (compressor, decompressor, error) {
	switch {
	case strings.HasSuffix(filename, ".tgz"), strings.HasSuffix(filename, ".tar.gz"):
		return func(w io.Writer) (io.WriteCloser, error) {
				return gzip.NewWriterLevel(w, gzip.BestCompression)
			}, func(r io.Reader) (io.ReadCloser, error) {
				return gzip.NewReader(r)
			}, nil
	case strings.HasSuffix(filename, ".txz"), strings.HasSuffix(filename, ".tar.xz"):
		return func(w io.Writer) (io.WriteCloser, error) {
				return xz.NewWriter(w)
			}, func(r io.Reader) (io.ReadCloser, error) {
				reader, err := xz.NewReader(r)
				if err != nil {
					return nil, err
				}
				return io.NopCloser(reader), nil
			}, nil
	case strings.HasSuffix(filename, ".tbr"), strings.HasSuffix(filename, ".tar.br"):
		return func(w io.Writer) (io.WriteCloser, error) {
				return brotli.NewWriterLevel(w, brotli.BestCompression), nil
			}, func(r io.Reader) (io.ReadCloser, error) {
				return io.NopCloser(brotli.NewReader(r)), nil
			}, nil
	}

	return nil, nil, eris.Errorf("Archive format of %s not supported", filename)
}

// Pack writes every regular file below srcDir into archivePath. The compression is picked based on the extension.
func Pack(srcDir, archivePath string) ([]FileEntry, error) {
	compress, _, err := getCodec(archivePath)
	if err != nil {
		return nil, err
	}

	err = os.MkdirAll(filepath.Dir(archivePath), 0o755)
	if err != nil {
		return nil, eris.Wrapf(err, "Failed to create directory %s", filepath.Dir(archivePath))
	}

	hdl, err := os.Create(archivePath)
	if err != nil {
		return nil, eris.Wrapf(err, "Failed to create %s", archivePath)
	}
	defer hdl.Close()

	cw, err := compress(hdl)
	if err != nil {
		return nil, eris.Wrapf(err, "Failed to initialize compression for %s", archivePath)
	}

	tw := tar.NewWriter(cw)
	entries := []FileEntry{}
	buf := make([]byte, 32*1024)

	err = filepath.WalkDir(srcDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if !d.Type().IsRegular() {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return err
		}

		rel, err := filepath.Rel(srcDir, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)

		header, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		header.Name = rel

		err = tw.WriteHeader(header)
		if err != nil {
			return eris.Wrapf(err, "Failed to write header for %s", rel)
		}

		f, err := os.Open(path)
		if err != nil {
			return eris.Wrapf(err, "Failed to open file %s", path)
		}
		defer f.Close()

		hash := sha256.New()
		size, err := io.CopyBuffer(io.MultiWriter(tw, hash), f, buf)
		if err != nil {
			return eris.Wrapf(err, "Failed to pack file %s", path)
		}

		entries = append(entries, FileEntry{
			Path:   rel,
			Size:   size,
			Sha256: hex.EncodeToString(hash.Sum(nil)),
		})
		return nil
	})
	if err != nil {
		return nil, eris.Wrapf(err, "Failed to pack %s", srcDir)
	}

	err = tw.Close()
	if err != nil {
		return nil, eris.Wrap(err, "Failed to finish tar stream")
	}

	err = cw.Close()
	if err != nil {
		return nil, eris.Wrap(err, "Failed to finish compression")
	}

	err = hdl.Close()
	if err != nil {
		return nil, eris.Wrapf(err, "Failed to write %s", archivePath)
	}

	return entries, nil
}

// Unpack extracts archivePath into destDir and returns the extracted files
func Unpack(archivePath, destDir string) ([]FileEntry, error) {
	_, decompress, err := getCodec(archivePath)
	if err != nil {
		return nil, err
	}

	hdl, err := os.Open(archivePath)
	if err != nil {
		return nil, eris.Wrapf(err, "Failed to open %s", archivePath)
	}
	defer hdl.Close()

	reader, err := decompress(hdl)
	if err != nil {
		return nil, eris.Wrapf(err, "Failed to read %s", archivePath)
	}
	defer reader.Close()

	destDir, err = filepath.Abs(destDir)
	if err != nil {
		return nil, err
	}

	entries := []FileEntry{}
	archive := tar.NewReader(reader)
	for {
		item, err := archive.Next()
		if err != nil {
			if err == io.EOF {
				break
			}

			return nil, eris.Wrap(err, "Failed to read archive entry")
		}

		if item.Typeflag != tar.TypeReg {
			continue
		}

		dest := filepath.Join(destDir, filepath.FromSlash(item.Name))
		if !strings.HasPrefix(dest, destDir+string(filepath.Separator)) {
			return nil, eris.Errorf("Archive entry %s points outside of %s", item.Name, destDir)
		}

		err = os.MkdirAll(filepath.Dir(dest), 0o755)
		if err != nil {
			return nil, eris.Wrapf(err, "Failed to create directory %s", filepath.Dir(dest))
		}

		entry, err := extractFile(archive, dest, item.FileInfo().Mode().Perm())
		if err != nil {
			return nil, err
		}

		entry.Path = item.Name
		entries = append(entries, entry)
	}

	return entries, nil
}

func extractFile(r io.Reader, dest string, mode os.FileMode) (FileEntry, error) {
	destHandle, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, mode)
	if err != nil {
		return FileEntry{}, eris.Wrapf(err, "Failed to create file %s", dest)
	}
	defer destHandle.Close()

	hash := sha256.New()
	size, err := io.Copy(io.MultiWriter(destHandle, hash), r)
	if err != nil {
		return FileEntry{}, eris.Wrapf(err, "Failed to write extracted file %s", dest)
	}

	err = destHandle.Close()
	if err != nil {
		return FileEntry{}, eris.Wrapf(err, "Failed to write extracted file %s", dest)
	}

	return FileEntry{
		Size:   size,
		Sha256: hex.EncodeToString(hash.Sum(nil)),
	}, nil
}
