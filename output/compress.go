package output

import (
	"bufio"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// CompressThreshold is the size in bytes above which a file is gzipped.
const CompressThreshold = 1024

var (
	ErrFileNotWriteable = errors.New("not opened for writing")
	ErrFileNotReadable  = errors.New("not opened for reading")
)

// MaybeCompressedFile collects writes in a temporary file and, on Close,
// moves them to their final name, compressed if they exceed the threshold.
// Readers decompress transparently.
type MaybeCompressedFile struct {
	w *compresswriter
	r *compressreader
}

// CreateMaybeCompressedFile creates a file, that may be compressed, if a
// certain amount of data is written to it. Nothing is visible under
// filename before Close.
func CreateMaybeCompressedFile(filename string) *MaybeCompressedFile {
	return &MaybeCompressedFile{w: &compresswriter{filename: filename}}
}

// OpenMaybeCompressedFile returns a file, that may be transparently
// decompressed on the fly.
func OpenMaybeCompressedFile(filename string) (*MaybeCompressedFile, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	var reader io.Reader
	gz, err := gzip.NewReader(bufio.NewReader(file))
	switch err {
	case nil:
		reader = gz
	case gzip.ErrHeader, io.ErrUnexpectedEOF, io.EOF:
		if _, err := file.Seek(0, io.SeekStart); err != nil {
			file.Close()
			return nil, err
		}
		gz = nil
		reader = bufio.NewReader(file)
	default:
		file.Close()
		return nil, err
	}
	return &MaybeCompressedFile{r: &compressreader{r: reader, gz: gz, file: file}}, nil
}

func (f *MaybeCompressedFile) Name() string {
	if f.w != nil {
		return f.w.filename
	}
	if f.r != nil {
		return f.r.file.Name()
	}
	return ""
}

func (f *MaybeCompressedFile) Read(p []byte) (n int, err error) {
	if f.r == nil {
		return 0, ErrFileNotReadable
	}
	return f.r.Read(p)
}

func (f *MaybeCompressedFile) Write(p []byte) (n int, err error) {
	if f.w == nil {
		return 0, ErrFileNotWriteable
	}
	return f.w.Write(p)
}

// Written returns the number of uncompressed bytes written so far.
func (f *MaybeCompressedFile) Written() int {
	if f.w == nil {
		return 0
	}
	return f.w.written
}

// Close commits a written file or releases a read one.
func (f *MaybeCompressedFile) Close() error {
	if f.r != nil {
		return f.r.Close()
	}
	if f.w != nil {
		return f.w.Close()
	}
	return nil
}

// Abort drops everything written; the final file is not touched.
func (f *MaybeCompressedFile) Abort() error {
	if f.w == nil {
		return ErrFileNotWriteable
	}
	return f.w.cleanup()
}

// mkdirAll ensures a path exists and is a directory.
func mkdirAll(dir string) error {
	fi, err := os.Stat(dir)
	if os.IsNotExist(err) {
		return os.MkdirAll(dir, 0755)
	}
	if err != nil {
		return err
	}
	if !fi.IsDir() {
		return fmt.Errorf("%s is not a directory", dir)
	}
	return nil
}

// compresswriter optionally compresses everything that is written to it.
type compresswriter struct {
	filename string
	tempfile *os.File
	bw       *bufio.Writer
	written  int
}

func (w *compresswriter) init() error {
	tf, err := os.CreateTemp("", "oaiharvest-")
	if err != nil {
		return err
	}
	w.tempfile = tf
	w.bw = bufio.NewWriter(tf)
	return nil
}

func (w *compresswriter) Write(p []byte) (n int, err error) {
	if w.tempfile == nil {
		if err := w.init(); err != nil {
			return 0, err
		}
	}
	w.written += len(p)
	return w.bw.Write(p)
}

func (w *compresswriter) cleanup() error {
	if w.tempfile == nil {
		return nil
	}
	name := w.tempfile.Name()
	w.tempfile.Close()
	w.tempfile = nil
	return os.Remove(name)
}

func (w *compresswriter) Close() error {
	if w.tempfile == nil {
		if err := w.init(); err != nil {
			return err
		}
	}
	defer w.cleanup()
	if err := w.bw.Flush(); err != nil {
		return err
	}
	if _, err := w.tempfile.Seek(0, io.SeekStart); err != nil {
		return err
	}
	dir, name := filepath.Split(w.filename)
	if err := mkdirAll(dir); err != nil {
		return err
	}
	file, err := os.CreateTemp(dir, "."+name+"-")
	if err != nil {
		return err
	}
	defer os.Remove(file.Name())

	var dst io.WriteCloser = nopCloser{file}
	if w.written >= CompressThreshold {
		dst = gzip.NewWriter(file)
	}
	if _, err := io.Copy(dst, bufio.NewReader(w.tempfile)); err != nil {
		file.Close()
		return err
	}
	if err := dst.Close(); err != nil {
		file.Close()
		return err
	}
	if err := file.Close(); err != nil {
		return err
	}
	return os.Rename(file.Name(), w.filename)
}

type nopCloser struct{ io.Writer }

func (nopCloser) Close() error { return nil }

type compressreader struct {
	file *os.File
	r    io.Reader
	gz   *gzip.Reader
}

func (r *compressreader) Read(p []byte) (n int, err error) {
	return r.r.Read(p)
}

func (r *compressreader) Close() error {
	if r.gz != nil {
		if err := r.gz.Close(); err != nil {
			return err
		}
	}
	return r.file.Close()
}
