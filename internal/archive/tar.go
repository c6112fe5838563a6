package archive

import (
	"archive/tar"
	"compress/bzip2"
	"compress/gzip"
	"io"
	"os"
	"path/filepath"
	"strings"
)

type tarExtractor struct {
	path string
	file *os.File
	gz   *gzip.Reader
	tr   *tar.Reader
}

func openTar(path string) (Extractor, error) {
	t := &tarExtractor{path: path}
	if err := t.Reset(); err != nil {
		return nil, err
	}
	return t, nil
}

func (t *tarExtractor) Reset() error {
	if err := t.closeFile(); err != nil {
		return err
	}
	f, err := os.Open(t.path)
	if err != nil {
		return err
	}
	t.file = f

	var r io.Reader = f
	switch strings.ToLower(filepath.Ext(t.path)) {
	case ".gz", ".tgz":
		gz, err := gzip.NewReader(f)
		if err != nil {
			f.Close()
			t.file = nil
			return err
		}
		t.gz = gz
		r = gz
	case ".bz2", ".tbz":
		r = bzip2.NewReader(f)
	}
	t.tr = tar.NewReader(r)
	return nil
}

func (t *tarExtractor) Next() (string, io.Reader, error) {
	for {
		hdr, err := t.tr.Next()
		if err != nil {
			return "", nil, err
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}
		return canonical(hdr.Name), t.tr, nil
	}
}

func (t *tarExtractor) closeFile() error {
	if t.gz != nil {
		t.gz.Close()
		t.gz = nil
	}
	if t.file != nil {
		err := t.file.Close()
		t.file = nil
		return err
	}
	return nil
}

func (t *tarExtractor) Close() error {
	t.tr = nil
	return t.closeFile()
}
