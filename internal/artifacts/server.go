package artifacts

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"

	"github.com/camerafleet/orchestrator/internal/config"
	"github.com/camerafleet/orchestrator/internal/errs"
	"github.com/camerafleet/orchestrator/internal/pagination"
)

// ImagesSubdir and MetadataSubdir are the fixed folder names under a
// device's root that the two artifact sides land in.
const (
	ImagesSubdir   = "Images"
	MetadataSubdir = "Metadata"
)

// Server is the artifact webserver: devices PUT captures into it, the
// GUI and tooling read them back out. Uploads are written atomically;
// the incoming-file callback runs after the write and its errors
// never fail the HTTP response.
type Server struct {
	root       string
	cfg        *config.Config
	preview    *PreviewRegistry
	onIncoming func(path string)
	log        *logrus.Entry

	router chi.Router
}

// NewServer builds a Server writing uploads under root. onIncoming
// may be nil.
func NewServer(root string, cfg *config.Config, preview *PreviewRegistry, onIncoming func(path string), log *logrus.Logger) *Server {
	if log == nil {
		log = logrus.New()
	}
	s := &Server{
		root:       root,
		cfg:        cfg,
		preview:    preview,
		onIncoming: onIncoming,
		log:        log.WithField("component", "artifacts.server"),
	}

	r := chi.NewRouter()
	r.Get("/images/devices/{deviceID}/preview", s.handlePreview)
	r.Get("/images/devices/{deviceID}/directories", s.handleListImages)
	r.Get("/images/devices/{deviceID}/image/{name}", s.handleGetImage)
	r.Get("/inferenceresults/devices/{deviceID}/json", s.handleListInferences)
	r.Put("/*", s.handleUpload)
	s.router = r
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Router exposes the underlying mux so callers can mount additional
// handlers (e.g. the notification WebSocket) on the same listener.
func (s *Server) Router() chi.Router { return s.router }

// handleUpload accepts PUT /<subpath>/<filename>, writing the body to
// <root>/<subpath>/<filename> via a temp file + rename so a reader
// never observes a half-written artifact. 200 is returned only after
// the body has been fully written and synced.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	rel, err := sanitizeUploadPath(r.URL.Path)
	if err != nil {
		s.writeError(w, err)
		return
	}
	dst := filepath.Join(s.root, rel)

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		s.writeError(w, errs.Wrap(errs.InternalUnexpected, err, "create upload folder"))
		return
	}

	tmp, err := os.CreateTemp(filepath.Dir(dst), ".upload-*.tmp")
	if err != nil {
		s.writeError(w, errs.Wrap(errs.InternalUnexpected, err, "create upload temp file"))
		return
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := io.Copy(tmp, r.Body); err != nil {
		tmp.Close()
		s.writeError(w, errs.Wrap(errs.InternalUnexpected, err, "write upload body"))
		return
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		s.writeError(w, errs.Wrap(errs.InternalUnexpected, err, "sync upload"))
		return
	}
	if err := tmp.Close(); err != nil {
		s.writeError(w, errs.Wrap(errs.InternalUnexpected, err, "close upload"))
		return
	}
	if err := os.Rename(tmpName, dst); err != nil {
		s.writeError(w, errs.Wrap(errs.InternalUnexpected, err, "finalize upload"))
		return
	}

	if s.onIncoming != nil {
		// Callback failures are the callback's problem; the device
		// already delivered its artifact successfully.
		func() {
			defer func() {
				if p := recover(); p != nil {
					s.log.WithField("panic", p).Error("incoming-file callback panicked")
				}
			}()
			s.onIncoming(dst)
		}()
	}

	w.WriteHeader(http.StatusOK)
}

func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	deviceID, err := s.deviceID(r)
	if err != nil {
		s.writeError(w, err)
		return
	}

	buf := s.preview.For(deviceID)
	if !buf.Active() {
		s.writeError(w, errs.External(errs.ExternalFileNotFound, "preview mode is off for device %d", deviceID))
		return
	}
	frame, _ := buf.Get()
	if len(frame) == 0 {
		s.writeError(w, errs.External(errs.ExternalFileNotFound, "no preview frame received yet from device %d", deviceID))
		return
	}

	w.Header().Set("Content-Type", "image/jpeg")
	_, _ = w.Write(frame)
}

func (s *Server) handleListImages(w http.ResponseWriter, r *http.Request) {
	s.listFiles(w, r, ImagesSubdir)
}

func (s *Server) handleGetImage(w http.ResponseWriter, r *http.Request) {
	deviceID, err := s.deviceID(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	name := chi.URLParam(r, "name")
	if name != filepath.Base(name) || strings.HasPrefix(name, ".") {
		s.writeError(w, errs.External(errs.ExternalFileNotFound, "invalid image name %q", name))
		return
	}

	path := filepath.Join(s.deviceDir(deviceID), ImagesSubdir, name)
	if _, err := os.Stat(path); err != nil {
		s.writeError(w, errs.External(errs.ExternalFileNotFound, "image %q does not exist", name))
		return
	}
	http.ServeFile(w, r, path)
}

func (s *Server) handleListInferences(w http.ResponseWriter, r *http.Request) {
	deviceID, err := s.deviceID(r)
	if err != nil {
		s.writeError(w, err)
		return
	}

	names, err := s.listDir(deviceID, MetadataSubdir)
	if err != nil {
		s.writeError(w, err)
		return
	}

	limit, token := pageParams(r)
	page, next := pagination.Paginate(names, limit, token, func(n string) string { return n })

	type row struct {
		Name      string     `json:"name"`
		Inference *Inference `json:"inference,omitempty"`
	}
	rows := make([]row, 0, len(page))
	for _, name := range page {
		entry := row{Name: name}
		if inf, err := ReadInferenceFile(filepath.Join(s.deviceDir(deviceID), MetadataSubdir, name)); err == nil {
			entry.Inference = &inf
		}
		rows = append(rows, entry)
	}

	s.writeJSON(w, map[string]any{
		"data":               rows,
		"continuation_token": next,
	})
}

func (s *Server) listFiles(w http.ResponseWriter, r *http.Request, subdir string) {
	deviceID, err := s.deviceID(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	names, err := s.listDir(deviceID, subdir)
	if err != nil {
		s.writeError(w, err)
		return
	}

	limit, token := pageParams(r)
	page, next := pagination.Paginate(names, limit, token, func(n string) string { return n })
	s.writeJSON(w, map[string]any{
		"data":               page,
		"continuation_token": next,
	})
}

func (s *Server) listDir(deviceID int, subdir string) ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(s.deviceDir(deviceID), subdir))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, errs.Wrap(errs.InternalUnexpected, err, "list device %d %s folder", deviceID, subdir)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	// Newest first, matching how captures are browsed.
	sort.Sort(sort.Reverse(sort.StringSlice(names)))
	return names, nil
}

// deviceDir resolves a device's artifact root, preferring a declared
// per-device path over the server root convention.
func (s *Server) deviceDir(deviceID int) string {
	if s.cfg != nil {
		if conn, ok := s.cfg.Device(deviceID); ok && conn.DeviceDirPath != "" {
			return conn.DeviceDirPath
		}
	}
	return filepath.Join(s.root, strconv.Itoa(deviceID))
}

func (s *Server) deviceID(r *http.Request) (int, error) {
	raw := chi.URLParam(r, "deviceID")
	id, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errs.External(errs.ExternalDeviceNotFound, "invalid device id %q", raw)
	}
	if s.cfg != nil {
		if _, ok := s.cfg.Device(id); !ok {
			return 0, errs.External(errs.ExternalDeviceNotFound, "device %d not declared", id)
		}
	}
	return id, nil
}

func pageParams(r *http.Request) (int, string) {
	limit := -1
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			limit = v
		}
	}
	return limit, r.URL.Query().Get("starting_after")
}

// sanitizeUploadPath validates a PUT path, requiring at least a
// parent folder and a file name and rejecting traversal.
func sanitizeUploadPath(urlPath string) (string, error) {
	rel := strings.TrimPrefix(urlPath, "/")
	clean := filepath.Clean(filepath.FromSlash(rel))
	if clean == "." || strings.HasPrefix(clean, "..") || filepath.IsAbs(clean) {
		return "", errs.External(errs.ExternalFileNotFound, "invalid upload path %q", urlPath)
	}
	if filepath.Dir(clean) == "." {
		return "", errs.External(errs.ExternalFileNotFound, "upload path %q must include a folder", urlPath)
	}
	return clean, nil
}

func (s *Server) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.WithError(err).Error("encode response")
	}
}

// writeError translates tagged errors onto HTTP: external kinds map
// to 4xx with a {code, message} body, anything else becomes a 500
// whose correlation id is logged but not exposed.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	code, ok := errs.CodeOf(err)
	status := http.StatusInternalServerError
	if ok {
		switch code {
		case errs.ExternalDeviceNotFound, errs.ExternalFileNotFound:
			status = http.StatusNotFound
		case errs.ExternalInvalidMethodDuringState:
			status = http.StatusConflict
		case errs.InternalUnexpected, errs.InternalInvariantViolation:
			status = http.StatusInternalServerError
		default:
			status = http.StatusBadRequest
		}
	}

	if status == http.StatusInternalServerError {
		internal := errs.Internal("artifact server: %v", err)
		s.log.WithField("correlation_id", internal.CorrelationID).WithError(err).Error("internal error")
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(map[string]string{
			"code":    string(errs.InternalUnexpected),
			"message": "internal error",
		})
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"code":    string(code),
		"message": err.Error(),
	})
}
