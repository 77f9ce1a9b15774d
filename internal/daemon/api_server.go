package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"toolbox/internal/api"
	"toolbox/internal/config"
	"toolbox/internal/convert"
	"toolbox/internal/fileutil"
	"toolbox/internal/imaging"
	"toolbox/internal/logging"
	"toolbox/internal/services"
)

const (
	multipartMemory   = 32 << 20
	multipartSlack    = 1 << 20
	uploadReadTimeout = 5 * time.Minute
	defaultJobLimit   = 50
	maxJobLimit       = 500
	sseKeepAlive      = 15 * time.Second
	shutdownTimeout   = 5 * time.Second
)

type apiServer struct {
	bind    string
	logger  *slog.Logger
	daemon  *Daemon
	handler http.Handler

	listener net.Listener
	server   *http.Server
}

func newAPIServer(cfg *config.Config, d *Daemon, logger *slog.Logger) (*apiServer, error) {
	if cfg == nil || d == nil {
		return nil, errors.New("api server requires config and daemon")
	}
	auth, err := authMiddleware(cfg.Paths.APIToken, cfg.Paths.APITokenHash)
	if err != nil {
		return nil, err
	}
	srv := &apiServer{
		bind:   strings.TrimSpace(cfg.Paths.APIBind),
		logger: logging.NewComponentLogger(logger, "api"),
		daemon: d,
	}
	limiter := newRateLimiter(cfg.Server.RateLimitPerMinute, cfg.Server.RateLimitBurst)

	router := mux.NewRouter()
	router.NotFoundHandler = http.HandlerFunc(srv.handleNotFound)
	router.MethodNotAllowedHandler = http.HandlerFunc(srv.handleMethodNotAllowed)
	router.Handle("/metrics", d.metrics.Handler()).Methods(http.MethodGet)

	apiRouter := router.PathPrefix("/api").Subrouter()
	apiRouter.Use(auth)
	apiRouter.Handle("/jobs", limiter.middleware(http.HandlerFunc(srv.handleSubmit))).Methods(http.MethodPost)
	apiRouter.HandleFunc("/jobs", srv.handleListJobs).Methods(http.MethodGet)
	apiRouter.HandleFunc("/jobs/current", srv.handleCurrentJob).Methods(http.MethodGet)
	apiRouter.HandleFunc("/jobs/{id}", srv.handleJob).Methods(http.MethodGet)
	apiRouter.HandleFunc("/jobs/{id}/events", srv.handleEvents).Methods(http.MethodGet)
	apiRouter.HandleFunc("/downloads/{token}", srv.handleDownload).Methods(http.MethodGet)
	apiRouter.HandleFunc("/downloads/{token}", srv.handleRevoke).Methods(http.MethodDelete)
	apiRouter.Handle("/images/compress", limiter.middleware(http.HandlerFunc(srv.handleCompressImage))).Methods(http.MethodPost)
	apiRouter.HandleFunc("/status", srv.handleStatus).Methods(http.MethodGet)

	var handler http.Handler = router
	handler = observeMiddleware(srv.logger, handler)
	handler = requestIDMiddleware(handler)
	handler = crossOriginMiddleware(cfg.Server.CrossOriginIsolation, handler)
	srv.handler = handler

	srv.server = &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return srv, nil
}

func (s *apiServer) start(ctx context.Context) error {
	if s == nil || s.bind == "" {
		return nil
	}
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	s.listener = listener

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log().Error("api server error", logging.Error(err))
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}()

	s.log().Info("api server listening", logging.String("address", listener.Addr().String()))
	return nil
}

func (s *apiServer) stop() {
	if s == nil || s.listener == nil {
		return
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	_ = s.server.Shutdown(shutdownCtx)
	_ = s.listener.Close()
	s.listener = nil
}

// addr returns the bound listener address, or "" before start.
func (s *apiServer) addr() string {
	if s == nil || s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *apiServer) handleSubmit(w http.ResponseWriter, r *http.Request) {
	maxBytes := s.daemon.runner.MaxInputBytes()
	name, data, size, err := readUpload(w, r, "file", maxBytes)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	spec, err := specFromForm(r)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}

	job, err := s.daemon.Submit(r.Context(), convert.Input{Name: name, Data: data, Size: size}, spec)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	w.Header().Set("Location", "/api/jobs/"+job.ID())
	s.writeJSON(w, http.StatusAccepted, api.JobResponse{Job: api.FromSnapshot(job.Snapshot())})
}

func (s *apiServer) handleListJobs(w http.ResponseWriter, r *http.Request) {
	limit := defaultJobLimit
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			s.writeFailure(w, r, services.Wrap(services.ErrInvalidInput, "", "list jobs", "limit must be a positive integer", nil))
			return
		}
		limit = min(n, maxJobLimit)
	}
	jobs, err := s.daemon.Jobs(r.Context(), limit)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, api.JobListResponse{Jobs: jobs})
}

func (s *apiServer) handleCurrentJob(w http.ResponseWriter, r *http.Request) {
	job, ok := s.daemon.CurrentJob(r.Context())
	if !ok {
		s.writeFailure(w, r, services.Wrap(services.ErrNotFound, "", "current job", "no job has run yet", nil))
		return
	}
	s.writeJSON(w, http.StatusOK, api.JobResponse{Job: job})
}

func (s *apiServer) handleJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.daemon.Job(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, api.JobResponse{Job: job})
}

// handleEvents streams a job's progress as Server-Sent Events, ending with a
// "state" event once the job settles. A settled job gets the state event only.
func (s *apiServer) handleEvents(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	ctx := r.Context()

	job, live := s.daemon.LiveJob(id)
	if !live {
		final, err := s.daemon.Job(ctx, id)
		if err != nil {
			s.writeFailure(w, r, err)
			return
		}
		stream := s.openStream(w)
		_ = stream.send("state", api.JobResponse{Job: final})
		return
	}

	updates := make(chan convert.ProgressEvent, 1)
	unsubscribe, err := job.Progress().Subscribe(func(ev convert.ProgressEvent) {
		for {
			select {
			case updates <- ev:
				return
			default:
			}
			select {
			case <-updates:
			default:
			}
		}
	})
	switch {
	case errors.Is(err, convert.ErrAlreadySubscribed):
		s.writeFailure(w, r, services.Wrap(services.ErrJobInProgress, "", "stream events",
			fmt.Sprintf("job %s already has an event stream", id), nil))
		return
	case errors.Is(err, convert.ErrChannelClosed):
		stream := s.openStream(w)
		_ = stream.send("state", api.JobResponse{Job: s.finalState(ctx, job)})
		return
	case err != nil:
		s.writeFailure(w, r, err)
		return
	}
	defer unsubscribe()

	stream := s.openStream(w)
	keepAlive := time.NewTicker(sseKeepAlive)
	defer keepAlive.Stop()
	for {
		select {
		case ev := <-updates:
			if err := stream.send("progress", progressPayload(id, ev)); err != nil {
				return
			}
		case <-job.Done():
			select {
			case ev := <-updates:
				_ = stream.send("progress", progressPayload(id, ev))
			default:
			}
			_ = stream.send("state", api.JobResponse{Job: s.finalState(ctx, job)})
			return
		case <-keepAlive.C:
			if err := stream.comment("keepalive"); err != nil {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

// finalState waits for the job to settle so the state event carries the
// published download.
func (s *apiServer) finalState(ctx context.Context, job *convert.Job) api.Job {
	select {
	case <-job.Done():
	case <-ctx.Done():
	}
	dto, err := s.daemon.Job(ctx, job.ID())
	if err != nil {
		return api.FromSnapshot(job.Snapshot())
	}
	return dto
}

func progressPayload(id string, ev convert.ProgressEvent) api.ProgressEvent {
	return api.ProgressEvent{JobID: id, Percent: ev.Percent, Time: api.FormatTime(ev.Time)}
}

type eventStream struct {
	w  http.ResponseWriter
	rc *http.ResponseController
}

func (s *apiServer) openStream(w http.ResponseWriter) *eventStream {
	rc := http.NewResponseController(w)
	_ = rc.SetWriteDeadline(time.Time{})
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	_ = rc.Flush()
	return &eventStream{w: w, rc: rc}
}

func (e *eventStream) send(event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(e.w, "event: %s\ndata: %s\n\n", event, data); err != nil {
		return err
	}
	return e.rc.Flush()
}

func (e *eventStream) comment(text string) error {
	if _, err := fmt.Fprintf(e.w, ": %s\n\n", text); err != nil {
		return err
	}
	return e.rc.Flush()
}

func (s *apiServer) handleDownload(w http.ResponseWriter, r *http.Request) {
	entry, file, err := s.daemon.Download(r.Context(), mux.Vars(r)["token"])
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	defer file.Close()

	w.Header().Set("Content-Type", entry.MIMEType)
	w.Header().Set("Content-Disposition", attachment(entry.Name))
	w.Header().Set("Cache-Control", "no-store")
	http.ServeContent(w, r, entry.Name, entry.CreatedAt, file)
}

func (s *apiServer) handleRevoke(w http.ResponseWriter, r *http.Request) {
	if err := s.daemon.RevokeDownload(r.Context(), mux.Vars(r)["token"]); err != nil {
		s.writeFailure(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *apiServer) handleCompressImage(w http.ResponseWriter, r *http.Request) {
	name, data, _, err := readUpload(w, r, "file", s.daemon.cfg.MaxImageBytes())
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	opts, err := imageOptionsFromForm(r)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}

	result, err := s.daemon.CompressImage(r.Context(), imaging.Input{Name: name, Data: data}, opts)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}

	if r.URL.Query().Get("meta") == "1" {
		s.writeJSON(w, http.StatusOK, api.ImageResult{
			Name:           result.Name,
			Format:         result.Format,
			MIMEType:       result.MIMEType,
			Width:          result.Width,
			Height:         result.Height,
			OriginalSize:   result.OriginalSize,
			CompressedSize: result.CompressedSize,
			Ratio:          result.Ratio(),
		})
		return
	}
	w.Header().Set("Content-Type", result.MIMEType)
	w.Header().Set("Content-Disposition", attachment(result.Name))
	w.Header().Set("Content-Length", strconv.Itoa(len(result.Data)))
	w.Header().Set("X-Original-Size", strconv.FormatInt(result.OriginalSize, 10))
	w.Header().Set("X-Compressed-Size", strconv.FormatInt(result.CompressedSize, 10))
	w.Header().Set("X-Compression-Ratio", strconv.FormatFloat(result.Ratio(), 'f', 4, 64))
	w.Header().Set("X-Image-Width", strconv.Itoa(result.Width))
	w.Header().Set("X-Image-Height", strconv.Itoa(result.Height))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(result.Data)
}

func (s *apiServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.daemon.Status(r.Context()))
}

func (s *apiServer) handleNotFound(w http.ResponseWriter, r *http.Request) {
	s.writeError(w, http.StatusNotFound, services.KindNotFound, "no route for "+r.URL.Path)
}

func (s *apiServer) handleMethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	s.writeError(w, http.StatusMethodNotAllowed, services.KindInvalidInput, "method not allowed")
}

// readUpload reads one multipart file field no larger than limit bytes.
func readUpload(w http.ResponseWriter, r *http.Request, field string, limit int64) (string, []byte, int64, error) {
	invalid := func(message string, err error) error {
		return services.Wrap(services.ErrInvalidInput, "", "read upload", message, err)
	}
	_ = http.NewResponseController(w).SetReadDeadline(time.Now().Add(uploadReadTimeout))
	r.Body = http.MaxBytesReader(w, r.Body, limit+multipartSlack)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return "", nil, 0, invalid(fmt.Sprintf("upload exceeds the %d MiB limit", limit>>20), nil)
		}
		return "", nil, 0, invalid("expected a multipart/form-data body", err)
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile(field)
	if err != nil {
		return "", nil, 0, invalid(fmt.Sprintf("missing %q file field", field), nil)
	}
	defer file.Close()
	data, err := fileutil.ReadLimited(file, limit)
	if err != nil {
		if errors.Is(err, fileutil.ErrTooLarge) {
			return "", nil, 0, invalid(fmt.Sprintf("upload exceeds the %d MiB limit", limit>>20), nil)
		}
		return "", nil, 0, invalid("could not read upload", err)
	}
	return header.Filename, data, header.Size, nil
}

// specFromForm builds a command from form fields. Extra engine arguments are
// not accepted over HTTP.
func specFromForm(r *http.Request) (convert.CommandSpec, error) {
	spec := convert.CommandSpec{
		Format:     strings.TrimSpace(r.FormValue("format")),
		AudioCodec: strings.TrimSpace(r.FormValue("audio_codec")),
		VideoCodec: strings.TrimSpace(r.FormValue("video_codec")),
		Bitrate:    strings.TrimSpace(r.FormValue("bitrate")),
	}
	if raw := strings.TrimSpace(r.FormValue("quality")); raw != "" {
		q, err := strconv.Atoi(raw)
		if err != nil {
			return convert.CommandSpec{}, services.Wrap(services.ErrInvalidInput, "", "parse form", "quality must be an integer", nil)
		}
		spec.Quality = convert.Quality(q)
	}
	return spec, nil
}

func imageOptionsFromForm(r *http.Request) (imaging.Options, error) {
	opts := imaging.Options{Format: strings.TrimSpace(r.FormValue("format"))}
	for field, dst := range map[string]*int{"quality": &opts.Quality, "max_dimension": &opts.MaxDimension} {
		raw := strings.TrimSpace(r.FormValue(field))
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return imaging.Options{}, services.Wrap(services.ErrInvalidInput, "", "parse form",
				fmt.Sprintf("%s must be a non-negative integer", field), nil)
		}
		*dst = n
	}
	return opts, nil
}

func attachment(name string) string {
	return mime.FormatMediaType("attachment", map[string]string{"filename": name})
}

func (s *apiServer) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.log().Warn("api encode failed", logging.Error(err))
	}
}

func (s *apiServer) writeError(w http.ResponseWriter, status int, kind services.Kind, message string) {
	s.writeJSON(w, status, api.ErrorResponse{Error: api.JobError{Kind: string(kind), Message: message}})
}

// writeFailure maps err onto its status code and error payload.
func (s *apiServer) writeFailure(w http.ResponseWriter, r *http.Request, err error) {
	status := services.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		logging.ErrorWithContext(logging.WithContext(r.Context(), s.log()), "api request failed", "api_request_failed",
			logging.Error(err),
			logging.String("path", r.URL.Path),
		)
	}
	if services.KindOf(err) == services.KindJobInProgress {
		w.Header().Set("Retry-After", "1")
	}
	s.writeJSON(w, status, api.FromError(err))
}

func (s *apiServer) log() *slog.Logger {
	if s == nil || s.logger == nil {
		return logging.NewNop()
	}
	return s.logger
}
