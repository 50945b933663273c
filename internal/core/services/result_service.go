package services

import (
	"context"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"
	"sync"

	"github.com/apphub/backend/internal/config"
	"github.com/apphub/backend/internal/core/ports"
	"github.com/apphub/backend/internal/domain"
	"github.com/apphub/backend/internal/infrastructure/logger"
)

// ProxyPrefix is the URL prefix under which saved artifacts are served.
const ProxyPrefix = "/outputs_proxy"

const (
	CategoryImages = "images"
	CategoryVideos = "videos"
	CategoryAudios = "audios"
	CategoryTexts  = "texts"
	CategoryOthers = "others"
)

var categoryByExt = map[string]string{
	"png": CategoryImages, "jpg": CategoryImages, "jpeg": CategoryImages, "webp": CategoryImages, "gif": CategoryImages,
	"mp4": CategoryVideos, "avi": CategoryVideos, "mov": CategoryVideos, "webm": CategoryVideos,
	"mp3": CategoryAudios, "wav": CategoryAudios, "flac": CategoryAudios,
	"txt": CategoryTexts, "json": CategoryTexts, "md": CategoryTexts, "xml": CategoryTexts,
}

// Viewer names the preview a result is shown with.
type Viewer string

const (
	ViewerImage    Viewer = "image"
	ViewerVideo    Viewer = "video"
	ViewerAudio    Viewer = "audio"
	ViewerText     Viewer = "text"
	ViewerDownload Viewer = "download"
)

// ViewerFor picks the preview for an output type or file extension.
func ViewerFor(fileType string) Viewer {
	switch strings.ToLower(strings.TrimPrefix(fileType, ".")) {
	case "png", "jpg", "jpeg", "webp", "gif":
		return ViewerImage
	case "txt", "json", "md", "xml":
		return ViewerText
	case "mp3", "wav", "flac", "aac", "m4a", "ogg", "wma":
		return ViewerAudio
	case "mp4", "webm", "mov":
		return ViewerVideo
	}
	return ViewerDownload
}

// CategoryFor maps a file name to the gallery category it is saved in.
func CategoryFor(name string) string {
	if c, ok := categoryByExt[extOf(name)]; ok {
		return c
	}
	return CategoryOthers
}

func extOf(name string) string {
	i := strings.LastIndex(name, ".")
	if i < 0 {
		return ""
	}
	return strings.ToLower(name[i+1:])
}

// SavedResult is the outcome of SaveResult.
type SavedResult struct {
	Msg       string `json:"msg"`
	LocalPath string `json:"localPath"`
	Viewer    Viewer `json:"viewer"`
}

// ResultService materialises task outputs into the configured category
// directories and serves them back.
type ResultService struct {
	storage ports.ResultStorage
	remote  ports.RemoteClient
	persist func(map[string]string) error
	logger  *logger.Logger

	mu    sync.RWMutex
	paths map[string]string
}

func NewResultService(storage ports.ResultStorage, remote ports.RemoteClient, paths map[string]string, persist func(map[string]string) error, logger *logger.Logger) *ResultService {
	return &ResultService{
		storage: storage,
		remote:  remote,
		persist: persist,
		logger:  logger,
		paths:   withDefaultPaths(paths),
	}
}

// SaveResult downloads fileURL into its category directory. A non-empty
// file of the same name is left alone so local edits survive.
func (s *ResultService) SaveResult(ctx context.Context, fileURL string) (*SavedResult, error) {
	if strings.TrimSpace(fileURL) == "" {
		return nil, ErrMissingParams
	}
	name := domain.TaskOutput{FileURL: fileURL}.FileName()
	if name == "" || name == "." || name == ".." {
		return nil, ErrInvalidPath
	}
	category := CategoryFor(name)
	dir, err := s.dir(category)
	if err != nil {
		return nil, err
	}
	res := &SavedResult{
		LocalPath: ProxyPath(category, name),
		Viewer:    ViewerFor(extOf(name)),
	}

	size, exists, err := s.storage.Stat(ctx, dir, name)
	if err != nil {
		return nil, err
	}
	if exists && size > 0 {
		s.logger.Infow("result_exists", "file", name, "category", category)
		res.Msg = "exist"
		return res, nil
	}

	body, err := s.remote.Download(ctx, fileURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDownloadFailed, err)
	}
	defer body.Close()
	if err := s.storage.Write(ctx, dir, name, body); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDownloadFailed, err)
	}
	s.logger.Infow("result_saved", "file", name, "category", category)
	res.Msg = "success"
	return res, nil
}

// Gallery lists the visible files of a category, newest first.
func (s *ResultService) Gallery(ctx context.Context, category string) ([]domain.GalleryFile, error) {
	dir, err := s.dir(category)
	if err != nil {
		return nil, err
	}
	stored, err := s.storage.List(ctx, dir)
	if err != nil {
		return nil, err
	}
	files := make([]domain.GalleryFile, 0, len(stored))
	for _, f := range stored {
		if strings.HasPrefix(f.Name, ".") {
			continue
		}
		typ := "UNKNOWN"
		if strings.Contains(f.Name, ".") {
			typ = strings.ToUpper(f.Name[strings.LastIndex(f.Name, ".")+1:])
		}
		files = append(files, domain.GalleryFile{
			Name:  f.Name,
			Path:  ProxyPath(category, f.Name),
			Size:  f.Size,
			MTime: float64(f.ModTime.UnixNano()) / 1e9,
			Type:  typ,
		})
	}
	sort.SliceStable(files, func(i, j int) bool { return files[i].MTime > files[j].MTime })
	return files, nil
}

// UpdateText overwrites a saved file addressed by its proxy path.
func (s *ResultService) UpdateText(ctx context.Context, proxyPath string, content *string) error {
	if proxyPath == "" || content == nil {
		return ErrMissingParams
	}
	category, rel, err := ParseProxyPath(proxyPath)
	if err != nil {
		return err
	}
	dir, err := s.dir(category)
	if err != nil {
		return err
	}
	sub, name := path.Split(rel)
	if err := s.storage.Write(ctx, path.Join(dir, sub), name, strings.NewReader(*content)); err != nil {
		return err
	}
	s.logger.Infow("result_text_updated", "file", rel, "category", category, "bytes", len(*content))
	return nil
}

// Open returns the content of a saved file. rel is relative to the
// category directory and may not leave it.
func (s *ResultService) Open(ctx context.Context, category, rel string) (io.ReadCloser, error) {
	rel, err := cleanRel(rel)
	if err != nil {
		return nil, err
	}
	dir, err := s.dir(category)
	if err != nil {
		return nil, err
	}
	sub, name := path.Split(rel)
	return s.storage.Open(ctx, path.Join(dir, sub), name)
}

func (s *ResultService) Paths() map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return copyPaths(s.paths)
}

// SetPaths replaces the category→directory mapping and writes it back to
// the config file. Categories missing from paths use their default
// directory.
func (s *ResultService) SetPaths(ctx context.Context, paths map[string]string) error {
	if len(paths) == 0 {
		return ErrMissingParams
	}
	for cat, p := range paths {
		if strings.TrimSpace(cat) == "" || strings.TrimSpace(p) == "" {
			return ErrMissingParams
		}
	}
	next := withDefaultPaths(paths)
	if s.persist != nil {
		if err := s.persist(next); err != nil {
			return err
		}
	}
	s.mu.Lock()
	s.paths = next
	s.mu.Unlock()

	for cat, p := range next {
		if err := s.storage.MkdirAll(ctx, p); err != nil {
			s.logger.Warnw("result_dir_create_failed", "category", cat, "path", p, "error", err)
		}
	}
	s.logger.Infow("result_paths_updated", "paths", next)
	return nil
}

// EnsureDirs creates every configured category directory and returns the
// first failure.
func (s *ResultService) EnsureDirs(ctx context.Context) error {
	var first error
	for cat, p := range s.Paths() {
		if err := s.storage.MkdirAll(ctx, p); err != nil {
			s.logger.Warnw("result_dir_create_failed", "category", cat, "path", p, "error", err)
			if first == nil {
				first = fmt.Errorf("create %s dir: %w", cat, err)
			}
		}
	}
	return first
}

func (s *ResultService) dir(category string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.paths[category]
	if !ok || p == "" {
		return "", ErrUnknownCategory
	}
	return p, nil
}

func ProxyPath(category, name string) string {
	return ProxyPrefix + "/" + category + "/" + name
}

// ParseProxyPath splits /outputs_proxy/<category>/<rel> and rejects paths
// that would leave the category directory.
func ParseProxyPath(p string) (category, rel string, err error) {
	parts := strings.Split(strings.Trim(p, "/"), "/")
	if len(parts) < 3 || "/"+parts[0] != ProxyPrefix || parts[1] == "" {
		return "", "", ErrInvalidPath
	}
	rel, err = cleanRel(strings.Join(parts[2:], "/"))
	if err != nil {
		return "", "", err
	}
	return parts[1], rel, nil
}

func cleanRel(rel string) (string, error) {
	if rel == "" || path.IsAbs(rel) || strings.Contains(rel, `\`) {
		return "", ErrInvalidPath
	}
	clean := path.Clean(rel)
	if clean == "." || clean == ".." || strings.HasPrefix(clean, "../") {
		return "", ErrInvalidPath
	}
	return clean, nil
}

// withDefaultPaths overlays in on the default category directories.
func withDefaultPaths(in map[string]string) map[string]string {
	out := config.DefaultPaths()
	for k, v := range in {
		if strings.TrimSpace(v) != "" {
			out[k] = v
		}
	}
	return out
}

func copyPaths(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
