package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"io"
	"log/slog"
	"net/http"
	"slices"

	"github.com/ByLCY/memegen/logging"
	"github.com/ByLCY/memegen/overlay"
	"github.com/ByLCY/memegen/renderer"
	"github.com/ByLCY/memegen/suggest"
	"github.com/ByLCY/memegen/templates"
)

const maxBodyBytes = 1 << 20

// TemplateLister lists meme templates; templates.Source implements it.
type TemplateLister interface {
	List(ctx context.Context) ([]templates.Template, error)
}

// ImageSource decodes a template image; templates.ImageLoader implements it.
type ImageSource interface {
	Load(ctx context.Context, src string) (image.Image, error)
}

// ErrImageNotListed is returned by ListedImages for URLs outside the listing.
var ErrImageNotListed = errors.New("image is not a listed template")

// ListedImages loads only images whose URL appears in the template listing,
// so clients cannot point the server at arbitrary hosts or local files.
type ListedImages struct {
	Templates TemplateLister
	Images    ImageSource
}

func (l ListedImages) Load(ctx context.Context, src string) (image.Image, error) {
	list, _ := l.Templates.List(ctx)
	if !slices.ContainsFunc(list, func(t templates.Template) bool { return t.URL == src }) {
		return nil, fmt.Errorf("%w: %q", ErrImageNotListed, src)
	}
	return l.Images.Load(ctx, src)
}

// API wires the editing sessions, template listing, suggestion proxy and
// compositor behind one http.Handler.
type API struct {
	Store      *SessionStore
	Templates  TemplateLister
	Images     ImageSource
	Compositor renderer.Compositor
	// Suggest is mounted at /api/suggest when non-nil.
	Suggest http.Handler
	// Suggester answers POST /api/sessions/{id}/suggest, eg. Proxy.Complete.
	Suggester suggest.Func
	// Defaults seed new sessions.
	Defaults overlay.Defaults
}

// Handler builds the route table.
func (a *API) Handler() http.Handler {
	if a.Store == nil {
		a.Store = NewSessionStore()
	}
	mux := http.NewServeMux()
	mux.Handle("GET /healthz", HealthHandler())

	mux.HandleFunc("GET /api/templates", a.listTemplates)
	mux.HandleFunc("GET /api/templates/random", a.randomTemplate)
	if a.Suggest != nil {
		mux.Handle(suggest.DefaultPath, a.Suggest)
	}

	mux.HandleFunc("POST /api/sessions", a.createSession)
	mux.HandleFunc("GET /api/sessions/{id}", a.getSession)
	mux.HandleFunc("DELETE /api/sessions/{id}", a.deleteSession)
	mux.HandleFunc("POST /api/sessions/{id}/template", a.selectTemplate)
	mux.HandleFunc("PATCH /api/sessions/{id}/defaults", a.updateDefaults)
	mux.HandleFunc("POST /api/sessions/{id}/labels", a.createLabel)
	mux.HandleFunc("PATCH /api/sessions/{id}/labels/{label}", a.updateLabel)
	mux.HandleFunc("DELETE /api/sessions/{id}/labels/{label}", a.deleteLabel)
	mux.HandleFunc("POST /api/sessions/{id}/pointer", a.pointer)
	mux.HandleFunc("POST /api/sessions/{id}/suggest", a.suggestSession)
	mux.HandleFunc("GET /api/sessions/{id}/suggestions", a.getSuggestions)
	mux.HandleFunc("POST /api/sessions/{id}/render", a.renderSession)
	mux.HandleFunc("POST /api/render", a.renderStateless)
	return mux
}

type errorBody struct {
	Error string `json:"error"`
}

type sessionBody struct {
	ID string `json:"id"`
	overlay.Snapshot
}

func (a *API) listTemplates(w http.ResponseWriter, r *http.Request) {
	list, _ := a.Templates.List(r.Context())
	writeJSON(w, http.StatusOK, list)
}

func (a *API) randomTemplate(w http.ResponseWriter, r *http.Request) {
	list, _ := a.Templates.List(r.Context())
	t, ok := templates.Random(list, nil)
	if !ok {
		writeError(w, http.StatusServiceUnavailable, errors.New("no templates available"))
		return
	}
	writeJSON(w, http.StatusOK, t)
}

type createSessionRequest struct {
	Image     *overlay.ImageInfo `json:"image"`
	FontSize  float64            `json:"fontSize"`
	TextAlign overlay.Align      `json:"textAlign"`
}

// createSession 创建会话；未指定图片时随机选一个模板，与首次打开页面一致。
func (a *API) createSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := decodeOptional(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	var img overlay.ImageInfo
	if req.Image != nil {
		img = *req.Image
	} else {
		list, _ := a.Templates.List(r.Context())
		if t, ok := templates.Random(list, nil); ok {
			img = t.ImageInfo()
		}
	}

	defaults := a.Defaults
	if req.FontSize > 0 {
		defaults.FontSize = req.FontSize
	}
	if req.TextAlign != "" {
		if !req.TextAlign.Valid() {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid textAlign %q", req.TextAlign))
			return
		}
		defaults.TextAlign = req.TextAlign
	}

	id, snap := a.Store.Create(img, defaults)
	logging.Logger().Debug("session created",
		slog.String("id", id), slog.String("image", img.Name), slog.Int("sessions", a.Store.Len()))
	writeJSON(w, http.StatusCreated, sessionBody{ID: id, Snapshot: snap})
}

func (a *API) getSession(w http.ResponseWriter, r *http.Request) {
	a.mutate(w, r, func(*overlay.Session) error { return nil })
}

func (a *API) deleteSession(w http.ResponseWriter, r *http.Request) {
	a.Store.Delete(r.PathValue("id"))
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) selectTemplate(w http.ResponseWriter, r *http.Request) {
	var img overlay.ImageInfo
	if err := decodeJSON(r, &img); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	a.mutate(w, r, func(s *overlay.Session) error {
		s.SelectTemplate(img)
		return nil
	})
}

type defaultsRequest struct {
	FontSize  *float64       `json:"fontSize"`
	Step      int            `json:"step"`
	TextAlign *overlay.Align `json:"textAlign"`
}

func (a *API) updateDefaults(w http.ResponseWriter, r *http.Request) {
	var req defaultsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.TextAlign != nil && !req.TextAlign.Valid() {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid textAlign %q", *req.TextAlign))
		return
	}
	a.mutate(w, r, func(s *overlay.Session) error {
		if req.FontSize != nil {
			s.SetDefaultFontSize(*req.FontSize)
		}
		if req.Step != 0 {
			s.StepDefaultFontSize(req.Step)
		}
		if req.TextAlign != nil {
			s.SetDefaultAlignment(*req.TextAlign)
		}
		return nil
	})
}

type pointerRequest struct {
	Action string        `json:"action"`
	Label  string        `json:"label"`
	X      float64       `json:"x"`
	Y      float64       `json:"y"`
	Rect   *overlay.Rect `json:"rect"`
}

func (p pointerRequest) point() overlay.Point { return overlay.Point{X: p.X, Y: p.Y} }

func (a *API) createLabel(w http.ResponseWriter, r *http.Request) {
	var req pointerRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.Rect == nil {
		writeError(w, http.StatusBadRequest, errors.New("rect is required"))
		return
	}
	var created overlay.Label
	err := a.Store.With(r.PathValue("id"), func(s *overlay.Session) error {
		created = s.CreateLabelAt(req.point(), *req.Rect)
		return nil
	})
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

type labelPatch struct {
	Text       *string        `json:"text"`
	FontSize   *float64       `json:"fontSize"`
	TextAlign  *overlay.Align `json:"textAlign"`
	CycleAlign bool           `json:"cycleAlign"`
}

func (a *API) updateLabel(w http.ResponseWriter, r *http.Request) {
	var patch labelPatch
	if err := decodeJSON(r, &patch); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if patch.TextAlign != nil && !patch.TextAlign.Valid() {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid textAlign %q", *patch.TextAlign))
		return
	}
	id := r.PathValue("label")
	a.mutate(w, r, func(s *overlay.Session) error {
		if _, ok := s.Label(id); !ok {
			return errLabelNotFound
		}
		if patch.Text != nil {
			s.SetText(id, *patch.Text)
		}
		if patch.FontSize != nil {
			s.SetFontSize(id, *patch.FontSize)
		}
		if patch.TextAlign != nil {
			s.SetAlignment(id, *patch.TextAlign)
		}
		if patch.CycleAlign {
			s.CycleAlignment(id)
		}
		return nil
	})
}

// deleteLabel 对不存在的标签也返回成功，与会话层的空操作语义一致。
func (a *API) deleteLabel(w http.ResponseWriter, r *http.Request) {
	label := r.PathValue("label")
	a.mutate(w, r, func(s *overlay.Session) error {
		s.DeleteLabel(label)
		return nil
	})
}

var (
	errLabelNotFound = errors.New("label not found")
	errBusy          = errors.New("another gesture is in progress or label not found")
)

func (a *API) pointer(w http.ResponseWriter, r *http.Request) {
	var req pointerRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	switch req.Action {
	case "drag-move", "resize-move":
		if req.Rect == nil {
			writeError(w, http.StatusBadRequest, errors.New("rect is required"))
			return
		}
	case "drag-start", "resize-start", "drag-end", "resize-end":
	default:
		writeError(w, http.StatusBadRequest, fmt.Errorf("unknown pointer action %q", req.Action))
		return
	}

	a.mutate(w, r, func(s *overlay.Session) error {
		switch req.Action {
		case "drag-start":
			if !s.BeginDrag(req.Label) {
				return errBusy
			}
		case "drag-move":
			s.ContinueDrag(req.point(), *req.Rect)
		case "drag-end":
			s.EndDrag()
		case "resize-start":
			if !s.BeginResize(req.Label) {
				return errBusy
			}
		case "resize-move":
			s.ContinueResize(req.point(), *req.Rect)
		case "resize-end":
			s.EndResize()
		}
		return nil
	})
}

func (a *API) renderSession(w http.ResponseWriter, r *http.Request) {
	var snap overlay.Snapshot
	err := a.Store.With(r.PathValue("id"), func(s *overlay.Session) error {
		snap = s.Snapshot()
		return nil
	})
	if err != nil {
		writeStoreError(w, err)
		return
	}
	a.render(w, r, snap.Image, snap.Labels)
}

type renderRequest struct {
	Image  overlay.ImageInfo `json:"image"`
	Labels []overlay.Label   `json:"labels"`
}

func (a *API) renderStateless(w http.ResponseWriter, r *http.Request) {
	var req renderRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	a.render(w, r, req.Image, req.Labels)
}

func (a *API) render(w http.ResponseWriter, r *http.Request, img overlay.ImageInfo, labels []overlay.Label) {
	base, err := a.Images.Load(r.Context(), img.URL)
	if err != nil {
		status := http.StatusBadGateway
		switch {
		case errors.Is(err, ErrImageNotListed), errors.Is(err, templates.ErrNotRemote):
			status = http.StatusForbidden
		case errors.Is(err, templates.ErrImageTooLarge):
			status = http.StatusRequestEntityTooLarge
		}
		writeError(w, status, err)
		return
	}
	data, err := a.Compositor.Render(base, labels)
	if err != nil {
		logging.Logger().Error("render failed", slog.String("image", img.URL), slog.Any("err", err))
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Content-Disposition", `attachment; filename="meme.png"`)
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

type suggestRequest struct {
	// Prompt overrides the prompt built from the session.
	Prompt string `json:"prompt"`
}

type suggestResponse struct {
	Suggestions []string `json:"suggestions"`
	Applied     bool     `json:"applied"`
	Error       string   `json:"error,omitempty"`
}

// suggestSession 请求字幕建议。同一会话的多个请求并发时，只有最后发出的请求结果生效。
func (a *API) suggestSession(w http.ResponseWriter, r *http.Request) {
	if a.Suggester == nil {
		writeError(w, http.StatusNotImplemented, errors.New("suggestions not configured"))
		return
	}
	var req suggestRequest
	if err := decodeOptional(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	id := r.PathValue("id")
	prompt := req.Prompt
	err := a.Store.With(id, func(s *overlay.Session) error {
		if prompt == "" {
			var existing []string
			for _, l := range s.Labels() {
				existing = append(existing, l.Text)
			}
			prompt = suggest.BuildPrompt(s.Image().Name, existing)
		}
		return nil
	})
	if err != nil {
		writeStoreError(w, err)
		return
	}
	tracker, err := a.Store.Suggestions(id)
	if err != nil {
		writeStoreError(w, err)
		return
	}

	// 网络请求期间不持有会话锁，编辑操作不受影响。
	applied, err := tracker.Run(r.Context(), prompt, a.Suggester)
	resp := suggestResponse{Suggestions: tracker.Current(), Applied: applied}
	if err != nil {
		logging.Logger().Warn("session suggestion failed", slog.String("id", id), slog.Any("err", err))
		resp.Error = err.Error()
		writeJSON(w, http.StatusBadGateway, resp)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) getSuggestions(w http.ResponseWriter, r *http.Request) {
	tracker, err := a.Store.Suggestions(r.PathValue("id"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, suggestResponse{Suggestions: tracker.Current(), Applied: true})
}

// mutate 在会话锁内执行 fn，成功后返回最新快照。
func (a *API) mutate(w http.ResponseWriter, r *http.Request, fn func(*overlay.Session) error) {
	id := r.PathValue("id")
	var snap overlay.Snapshot
	err := a.Store.With(id, func(s *overlay.Session) error {
		if err := fn(s); err != nil {
			return err
		}
		snap = s.Snapshot()
		return nil
	})
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionBody{ID: id, Snapshot: snap})
}

func writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrNotFound), errors.Is(err, errLabelNotFound):
		writeError(w, http.StatusNotFound, err)
	case errors.Is(err, errBusy):
		writeError(w, http.StatusConflict, err)
	default:
		writeError(w, http.StatusInternalServerError, err)
	}
}

func decodeJSON(r *http.Request, v any) error {
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(v); err != nil {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	return nil
}

// decodeOptional accepts an empty body.
func decodeOptional(r *http.Request, v any) error {
	err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(v)
	if err == nil || errors.Is(err, io.EOF) {
		return nil
	}
	return fmt.Errorf("invalid JSON body: %w", err)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorBody{Error: err.Error()})
}
