package archive

import (
	"io"
	"os"

	"github.com/nwaples/rardecode"
)

type rarExtractor struct {
	path string
	file *os.File
	rr   *rardecode.Reader
}

func openRar(path string) (Extractor, error) {
	r := &rarExtractor{path: path}
	if err := r.Reset(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *rarExtractor) Reset() error {
	if err := r.closeFile(); err != nil {
		return err
	}
	f, err := os.Open(r.path)
	if err != nil {
		return err
	}
	rr, err := rardecode.NewReader(f, "")
	if err != nil {
		f.Close()
		return err
	}
	r.file = f
	r.rr = rr
	return nil
}

func (r *rarExtractor) Next() (string, io.Reader, error) {
	for {
		hdr, err := r.rr.Next()
		if err != nil {
			return "", nil, err
		}
		if hdr.IsDir {
			continue
		}
		return canonical(hdr.Name), r.rr, nil
	}
}

func (r *rarExtractor) closeFile() error {
	r.rr = nil
	if r.file != nil {
		err := r.file.Close()
		r.file = nil
		return err
	}
	return nil
}

func (r *rarExtractor) Close() error {
	return r.closeFile()
}
