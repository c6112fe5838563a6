package archive

import (
	"archive/zip"
	"io"
)

type zipExtractor struct {
	rc      *zip.ReadCloser
	index   int
	current io.ReadCloser
}

func openZip(path string) (Extractor, error) {
	rc, err := zip.OpenReader(path)
	if err != nil {
		return nil, err
	}
	return &zipExtractor{rc: rc}, nil
}

func (z *zipExtractor) Next() (string, io.Reader, error) {
	if z.current != nil {
		z.current.Close()
		z.current = nil
	}
	for z.index < len(z.rc.File) {
		f := z.rc.File[z.index]
		z.index++
		if f.FileInfo().IsDir() {
			continue
		}
		r, err := f.Open()
		if err != nil {
			return "", nil, err
		}
		z.current = r
		return canonical(f.Name), r, nil
	}
	return "", nil, io.EOF
}

func (z *zipExtractor) Reset() error {
	if z.current != nil {
		z.current.Close()
		z.current = nil
	}
	z.index = 0
	return nil
}

func (z *zipExtractor) Close() error {
	if z.current != nil {
		z.current.Close()
		z.current = nil
	}
	return z.rc.Close()
}
