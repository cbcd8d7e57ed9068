package templates

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"hash/crc32"
	"image"
	"image/png"
	"math/rand/v2"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
)

const listingJSON = `{"success":true,"data":{"memes":[
 {"id":"1","name":"One","url":"https://example.test/1.jpg","width":500,"height":400,"box_count":2},
 {"id":"2","name":"Two","url":"https://example.test/2.jpg","width":600,"height":908,"box_count":3}
]}}`

func TestListFetchesRemote(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(listingJSON))
	}))
	defer srv.Close()

	list, err := NewSource(srv.URL, srv.Client()).List(context.Background())
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 2 || list[1].Name != "Two" || list[1].BoxCount != 3 {
		t.Fatalf("unexpected list %+v", list)
	}
	info := list[1].ImageInfo()
	if info.Width != 600 || info.Height != 908 || info.URL != "https://example.test/2.jpg" {
		t.Fatalf("unexpected image info %+v", info)
	}
}

func TestListFallsBack(t *testing.T) {
	cases := map[string]http.HandlerFunc{
		"status": func(w http.ResponseWriter, r *http.Request) { http.Error(w, "down", http.StatusBadGateway) },
		"json":   func(w http.ResponseWriter, r *http.Request) { w.Write([]byte("{not json")) },
		"empty":  func(w http.ResponseWriter, r *http.Request) { w.Write([]byte(`{"success":true,"data":{"memes":[]}}`)) },
	}
	for name, h := range cases {
		srv := httptest.NewServer(h)
		list, err := NewSource(srv.URL, srv.Client()).List(context.Background())
		srv.Close()
		if err == nil {
			t.Fatalf("%s: expected informational error", name)
		}
		if len(list) != 3 || list[1].Name != "Two Buttons" {
			t.Fatalf("%s: expected built-in list, got %+v", name, list)
		}
	}
}

func TestFallbackIsCopied(t *testing.T) {
	list := fallback()
	list[0].Name = "mutated"
	if Fallback[0].Name != "Drake Hotline Bling" {
		t.Fatalf("fallback list must not be aliased")
	}
}

func TestRandom(t *testing.T) {
	if _, ok := Random(nil, nil); ok {
		t.Fatalf("empty list must report !ok")
	}
	r := rand.New(rand.NewPCG(1, 2))
	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		tpl, ok := Random(Fallback, r)
		if !ok {
			t.Fatalf("expected a template")
		}
		seen[tpl.ID] = true
	}
	if len(seen) != len(Fallback) {
		t.Fatalf("expected all templates to be picked eventually, got %v", seen)
	}
}

func TestImageLoader(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 30, 20))
	path := filepath.Join(t.TempDir(), "tpl.png")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := png.Encode(f, img); err != nil {
		t.Fatal(err)
	}
	f.Close()

	loader := NewImageLoader(nil)
	got, err := loader.Load(context.Background(), path)
	if err != nil {
		t.Fatalf("Load file: %v", err)
	}
	if got.Bounds().Dx() != 30 || got.Bounds().Dy() != 20 {
		t.Fatalf("unexpected bounds %v", got.Bounds())
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.ServeFile(w, r, path)
	}))
	defer srv.Close()
	got, err = NewImageLoader(srv.Client()).Load(context.Background(), srv.URL+"/tpl.png")
	if err != nil {
		t.Fatalf("Load url: %v", err)
	}
	if got.Bounds().Dx() != 30 {
		t.Fatalf("unexpected bounds %v", got.Bounds())
	}

	if _, err := loader.Load(context.Background(), ""); err == nil {
		t.Fatalf("empty src must fail")
	}
}

func TestRemoteImageLoaderRefusesLocalPaths(t *testing.T) {
	path := filepath.Join(t.TempDir(), "private.png")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	png.Encode(f, image.NewRGBA(image.Rect(0, 0, 37, 41)))
	f.Close()

	for _, src := range []string{path, "file://" + path, "../private.png"} {
		if _, err := NewRemoteImageLoader(nil).Load(context.Background(), src); !errors.Is(err, ErrNotRemote) {
			t.Fatalf("Load(%q) = %v, want ErrNotRemote", src, err)
		}
	}
}

// hugePNG returns a valid PNG header declaring w×h with no pixel data.
func hugePNG(t *testing.T, w, h uint32) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewGray(image.Rect(0, 0, 1, 1))); err != nil {
		t.Fatal(err)
	}
	data := buf.Bytes()
	// 8 字节签名后是 IHDR：长度(4) 类型(4) 宽(4) 高(4) ... CRC(4)
	binary.BigEndian.PutUint32(data[16:20], w)
	binary.BigEndian.PutUint32(data[20:24], h)
	binary.BigEndian.PutUint32(data[29:33], crc32.ChecksumIEEE(data[12:29]))
	return data
}

func TestImageLoaderRejectsOversizedImages(t *testing.T) {
	body := hugePNG(t, 50000, 50000)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		w.Write(body)
	}))
	defer srv.Close()

	_, err := NewRemoteImageLoader(srv.Client()).Load(context.Background(), srv.URL+"/huge.png")
	if !errors.Is(err, ErrImageTooLarge) {
		t.Fatalf("expected ErrImageTooLarge, got %v", err)
	}
}
