package services

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/apphub/backend/internal/config"
	"github.com/apphub/backend/internal/infrastructure/logger"
	"github.com/apphub/backend/internal/infrastructure/storage"
)

func newTestResults(t *testing.T) (*ResultService, *fakeRemote, string, *map[string]string) {
	t.Helper()
	dir := t.TempDir()
	remote := newFakeRemote()
	saved := new(map[string]string)
	persist := func(p map[string]string) error {
		*saved = p
		return nil
	}
	s := NewResultService(storage.NewLocalStorage(dir), remote, config.DefaultPaths(), persist, logger.NewNop())
	return s, remote, dir, saved
}

func TestCategoryFor(t *testing.T) {
	cases := map[string]string{
		"a.PNG":     CategoryImages,
		"a.jpeg":    CategoryImages,
		"clip.webm": CategoryVideos,
		"song.flac": CategoryAudios,
		"notes.md":  CategoryTexts,
		"blob.bin":  CategoryOthers,
		"noext":     CategoryOthers,
		"song.m4a":  CategoryOthers,
	}
	for name, want := range cases {
		if got := CategoryFor(name); got != want {
			t.Errorf("CategoryFor(%q) = %q, want %q", name, got, want)
		}
	}
}

func TestViewerFor(t *testing.T) {
	cases := map[string]Viewer{
		"PNG":  ViewerImage,
		"json": ViewerText,
		"m4a":  ViewerAudio,
		"mov":  ViewerVideo,
		"avi":  ViewerDownload,
		"":     ViewerDownload,
	}
	for typ, want := range cases {
		if got := ViewerFor(typ); got != want {
			t.Errorf("ViewerFor(%q) = %q, want %q", typ, got, want)
		}
	}
}

func TestResultService_SaveResult(t *testing.T) {
	s, remote, dir, _ := newTestResults(t)
	ctx := context.Background()
	url := "https://cdn.example.com/out/ComfyUI_0001.png?sig=abc"
	remote.downloads[url] = "image-bytes"

	res, err := s.SaveResult(ctx, url)
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if res.Msg != "success" || res.LocalPath != "/outputs_proxy/images/ComfyUI_0001.png" || res.Viewer != ViewerImage {
		t.Errorf("result = %+v", res)
	}
	data, _ := os.ReadFile(filepath.Join(dir, "outputs", "images", "ComfyUI_0001.png"))
	if string(data) != "image-bytes" {
		t.Errorf("saved = %q", data)
	}

	// an existing non-empty file is never overwritten
	remote.downloads[url] = "newer"
	res, err = s.SaveResult(ctx, url)
	if err != nil || res.Msg != "exist" {
		t.Fatalf("second save = %+v, %v", res, err)
	}
	data, _ = os.ReadFile(filepath.Join(dir, "outputs", "images", "ComfyUI_0001.png"))
	if string(data) != "image-bytes" {
		t.Errorf("file overwritten: %q", data)
	}
}

func TestResultService_SaveResultReplacesEmptyFile(t *testing.T) {
	s, remote, dir, _ := newTestResults(t)
	target := filepath.Join(dir, "outputs", "texts")
	os.MkdirAll(target, 0o755)
	os.WriteFile(filepath.Join(target, "caption.txt"), nil, 0o644)
	remote.downloads["https://x/caption.txt"] = "a cat on a mat"

	res, err := s.SaveResult(context.Background(), "https://x/caption.txt")
	if err != nil || res.Msg != "success" {
		t.Fatalf("save = %+v, %v", res, err)
	}
}

func TestResultService_SaveResultDownloadFailure(t *testing.T) {
	s, _, _, _ := newTestResults(t)
	if _, err := s.SaveResult(context.Background(), "https://x/missing.mp4"); !errors.Is(err, ErrDownloadFailed) {
		t.Errorf("err = %v", err)
	}
	if _, err := s.SaveResult(context.Background(), ""); !errors.Is(err, ErrMissingParams) {
		t.Errorf("empty url = %v", err)
	}
}

func TestResultService_Gallery(t *testing.T) {
	s, _, dir, _ := newTestResults(t)
	images := filepath.Join(dir, "outputs", "images")
	os.MkdirAll(filepath.Join(images, "nested"), 0o755)
	now := time.Now()
	for i, name := range []string{"old.png", "new.webp", ".hidden.png", "README"} {
		p := filepath.Join(images, name)
		os.WriteFile(p, []byte("x"), 0o644)
		mtime := now.Add(time.Duration(i) * time.Minute)
		os.Chtimes(p, mtime, mtime)
	}

	files, err := s.Gallery(context.Background(), "images")
	if err != nil {
		t.Fatalf("gallery: %v", err)
	}
	if len(files) != 3 {
		t.Fatalf("files = %+v", files)
	}
	if files[0].Name != "README" || files[0].Type != "UNKNOWN" {
		t.Errorf("newest = %+v", files[0])
	}
	if files[1].Name != "new.webp" || files[1].Type != "WEBP" || files[1].Path != "/outputs_proxy/images/new.webp" {
		t.Errorf("second = %+v", files[1])
	}
	if files[2].Name != "old.png" {
		t.Errorf("oldest = %+v", files[2])
	}

	empty, err := s.Gallery(context.Background(), "videos")
	if err != nil || len(empty) != 0 {
		t.Errorf("missing dir = %+v, %v", empty, err)
	}
	if _, err := s.Gallery(context.Background(), "secrets"); !errors.Is(err, ErrUnknownCategory) {
		t.Errorf("unknown category = %v", err)
	}
}

func TestResultService_UpdateText(t *testing.T) {
	s, _, dir, _ := newTestResults(t)
	ctx := context.Background()
	content := "edited caption"

	if err := s.UpdateText(ctx, "/outputs_proxy/texts/caption.txt", &content); err != nil {
		t.Fatalf("update: %v", err)
	}
	data, _ := os.ReadFile(filepath.Join(dir, "outputs", "texts", "caption.txt"))
	if string(data) != content {
		t.Errorf("content = %q", data)
	}

	rc, err := s.Open(ctx, "texts", "caption.txt")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	got, _ := io.ReadAll(rc)
	rc.Close()
	if string(got) != content {
		t.Errorf("open = %q", got)
	}

	bad := []string{
		"/outputs_proxy/texts/../../etc/passwd",
		"/outputs_proxy/texts",
		"/static/texts/a.txt",
		"/outputs_proxy/texts/..",
	}
	for _, p := range bad {
		if err := s.UpdateText(ctx, p, &content); !errors.Is(err, ErrInvalidPath) {
			t.Errorf("UpdateText(%q) = %v", p, err)
		}
	}
	if err := s.UpdateText(ctx, "/outputs_proxy/texts/a.txt", nil); !errors.Is(err, ErrMissingParams) {
		t.Errorf("nil content = %v", err)
	}
	if _, err := s.Open(ctx, "texts", "../../go.mod"); !errors.Is(err, ErrInvalidPath) {
		t.Errorf("open traversal = %v", err)
	}
}

func TestResultService_Paths(t *testing.T) {
	s, remote, dir, saved := newTestResults(t)
	ctx := context.Background()

	next := s.Paths()
	next["images"] = "art"
	if err := s.SetPaths(ctx, next); err != nil {
		t.Fatalf("set: %v", err)
	}
	if (*saved)["images"] != "art" || s.Paths()["images"] != "art" {
		t.Errorf("paths not applied: %+v", *saved)
	}
	if info, err := os.Stat(filepath.Join(dir, "art")); err != nil || !info.IsDir() {
		t.Errorf("new directory not created: %v", err)
	}

	remote.downloads["https://x/a.png"] = "png"
	res, err := s.SaveResult(ctx, "https://x/a.png")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(filepath.Join(dir, "art", "a.png")); err != nil || res.LocalPath != "/outputs_proxy/images/a.png" {
		t.Errorf("save after path change: %v %+v", err, res)
	}

	if err := s.SetPaths(ctx, nil); !errors.Is(err, ErrMissingParams) {
		t.Errorf("empty paths = %v", err)
	}
}

func TestResultService_PartialPathsKeepDefaults(t *testing.T) {
	s, remote, dir, saved := newTestResults(t)
	ctx := context.Background()

	if err := s.SetPaths(ctx, map[string]string{"images": "imgs"}); err != nil {
		t.Fatalf("set: %v", err)
	}
	paths := s.Paths()
	if paths["images"] != "imgs" || paths["videos"] != "outputs/videos" || paths["others"] != "outputs/others" {
		t.Errorf("paths = %+v", paths)
	}
	if (*saved)["videos"] != "outputs/videos" {
		t.Errorf("persisted paths = %+v", *saved)
	}

	remote.downloads["https://x/clip.mp4"] = "mp4"
	if _, err := s.SaveResult(ctx, "https://x/clip.mp4"); err != nil {
		t.Fatalf("save video after partial update: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "outputs", "videos", "clip.mp4")); err != nil {
		t.Errorf("video not saved under default dir: %v", err)
	}
	if _, err := s.Gallery(ctx, CategoryAudios); err != nil {
		t.Errorf("gallery audios = %v", err)
	}
}

func TestResultService_EnsureDirs(t *testing.T) {
	s, _, dir, _ := newTestResults(t)
	if err := s.EnsureDirs(context.Background()); err != nil {
		t.Fatalf("ensure: %v", err)
	}
	for _, cat := range []string{"images", "videos", "audios", "texts", "others"} {
		if info, err := os.Stat(filepath.Join(dir, "outputs", cat)); err != nil || !info.IsDir() {
			t.Errorf("%s dir missing: %v", cat, err)
		}
	}
}

func TestParseProxyPath(t *testing.T) {
	cat, rel, err := ParseProxyPath("/outputs_proxy/videos/sub/clip.mp4")
	if err != nil || cat != "videos" || rel != "sub/clip.mp4" {
		t.Errorf("got %q %q %v", cat, rel, err)
	}
}
