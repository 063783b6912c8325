// Command flashdump is a read-only inspector: it opens a raw flash
// image file, walks the page ring, and prints each page's state and
// item log without mutating anything. Grounded on tinySQL's
// pager/inspect.go, adapted from a B+Tree page dump to a
// log-structured item-frame dump.
package main

import (
	"encoding/binary"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/tinyflash/flashmap"
)

var (
	path      = flag.String("file", "", "path to a raw flash image file")
	wordSize  = flag.Int("word-size", 4, "flash word size in bytes")
	pageSize  = flag.Int("page-size", 1024, "page size in bytes")
	pageCount = flag.Int("pages", 4, "page count")
)

// fileFlash adapts an *os.File into flashmap.Flash for read-only
// inspection. Write/Erase are unimplemented — flashdump never calls
// them.
type fileFlash struct {
	f                             *os.File
	wordSize, pageSz, pageCnt, sz int
}

func (ff *fileFlash) WordSize() int  { return ff.wordSize }
func (ff *fileFlash) PageSize() int  { return ff.pageSz }
func (ff *fileFlash) PageCount() int { return ff.pageCnt }

func (ff *fileFlash) ReadAt(off uint32, buf []byte) error {
	if int(off)+len(buf) > ff.sz {
		return flashmap.ErrOutOfBounds
	}
	_, err := ff.f.ReadAt(buf, int64(off))
	return err
}

func (ff *fileFlash) WriteAt(uint32, []byte) error {
	return fmt.Errorf("flashdump: read-only")
}

func (ff *fileFlash) Erase(int) error {
	return fmt.Errorf("flashdump: read-only")
}

func main() {
	flag.Parse()
	if *path == "" {
		log.Fatalf("flashdump: -file is required")
	}
	if err := run(); err != nil {
		log.Fatalf("flashdump: %v", err)
	}
}

func run() error {
	f, err := os.Open(*path)
	if err != nil {
		return fmt.Errorf("opening %s: %w", *path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}

	ff := &fileFlash{f: f, wordSize: *wordSize, pageSz: *pageSize, pageCnt: *pageCount, sz: int(info.Size())}
	g, err := flashmap.NewGeometry(ff, 0, uint32((*pageCount)*(*pageSize)))
	if err != nil {
		return fmt.Errorf("building geometry: %w", err)
	}

	for p := 0; p < g.PageCount; p++ {
		state, err := pageStateOf(ff, g, p)
		if err != nil {
			return fmt.Errorf("page %d: reading state: %w", p, err)
		}
		fmt.Printf("page %d: %s\n", p, state)
		if state != "PartialOpen" && state != "Closed" {
			continue
		}
		if err := dumpItems(ff, g, p); err != nil {
			return fmt.Errorf("page %d: %w", p, err)
		}
	}
	return nil
}

// pageStateOf re-derives a page's header state by reading the two
// marker words directly, since the engine's internal classification
// helpers are unexported.
func pageStateOf(f flashmap.Flash, g flashmap.Geometry, p int) (string, error) {
	w := f.WordSize()
	buf := make([]byte, 2*w)
	if err := f.ReadAt(g.Base+uint32(p*f.PageSize()), buf); err != nil {
		return "", err
	}
	open := allOnes(buf[:w])
	closed := allOnes(buf[w:])
	switch {
	case open && closed:
		return "Erased", nil
	case !open && closed:
		return "PartialOpen", nil
	case !open && !closed:
		return "Closed", nil
	default:
		return "Open(transient)", nil
	}
}

func allOnes(buf []byte) bool {
	for _, b := range buf {
		if b != 0xFF {
			return false
		}
	}
	return true
}

// dumpItems walks one page's item frames, printing each slot's offset
// and payload length until the first erased length word. It does not
// check CRCs, tell present frames from tombstones, or decode keys:
// flashdump only knows the universal length/CRC framing, not a
// specific value encoding.
func dumpItems(f flashmap.Flash, g flashmap.Geometry, p int) error {
	w := f.WordSize()
	off := g.Base + uint32(p*f.PageSize()) + uint32(2*w)
	end := g.Base + uint32((p+1)*f.PageSize())

	lenBuf := make([]byte, roundUp(4, w))
	for off < end {
		if err := f.ReadAt(off, lenBuf); err != nil {
			return err
		}
		length := binary.LittleEndian.Uint32(lenBuf[:4])
		if length == 0xFFFFFFFF {
			fmt.Printf("  [%#x] erased (end of log)\n", off)
			return nil
		}
		payloadPadded := roundUp(int(length), w)
		fmt.Printf("  [%#x] length=%d\n", off, length)
		off += uint32(len(lenBuf) + payloadPadded + roundUp(4, w))
	}
	return nil
}

func roundUp(n, w int) int {
	if n%w == 0 {
		return n
	}
	return n + (w - n%w)
}
