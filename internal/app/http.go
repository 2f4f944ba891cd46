package app

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"time"

	"github.com/rs/cors"
	"github.com/sirupsen/logrus"
	"github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/store/memory"

	"proppy/api/internal/auth"
	"proppy/api/internal/logging"
	"proppy/api/internal/metrics"
	"proppy/api/internal/render"
	"proppy/api/internal/signing"
	"proppy/api/internal/store"
)

type HTTPServer struct {
	service    *Service
	corsOrigin string
	events     *limiter.Limiter
	proxies    []netip.Prefix
}

func NewHTTPServer(service *Service, corsOrigin string) *HTTPServer {
	perMinute := service.config.EventsPerMinute
	if perMinute <= 0 {
		perMinute = 120
	}
	rate := limiter.Rate{Period: time.Minute, Limit: perMinute}
	return &HTTPServer{
		service:    service,
		corsOrigin: corsOrigin,
		events:     limiter.New(memory.NewStore(), rate),
		proxies:    parseProxies(service.config.TrustedProxies),
	}
}

// parseProxies reads IPs and CIDRs, skipping entries that are neither.
func parseProxies(entries []string) []netip.Prefix {
	out := make([]netip.Prefix, 0, len(entries))
	for _, entry := range entries {
		if prefix, err := netip.ParsePrefix(entry); err == nil {
			out = append(out, prefix.Masked())
			continue
		}
		if addr, err := netip.ParseAddr(entry); err == nil {
			addr = addr.Unmap()
			out = append(out, netip.PrefixFrom(addr, addr.BitLen()))
			continue
		}
		logging.Log.WithField("entry", entry).Warn("ignoring invalid trusted proxy")
	}
	return out
}

func (s *HTTPServer) Handler() http.Handler {
	origins := strings.Split(s.corsOrigin, ",")
	for i := range origins {
		origins[i] = strings.TrimSpace(origins[i])
	}
	corsHandler := cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type", "Authorization", "X-Request-ID"},
		ExposedHeaders: []string{"X-Request-ID"},
	})
	return corsHandler.Handler(s.withMiddleware(http.HandlerFunc(s.handle)))
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/health" {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/ready" {
		s.handleReady(w, r)
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/metrics" {
		metrics.Handler().ServeHTTP(w, r)
		return
	}

	parts := splitPath(r.URL.Path)
	if len(parts) >= 2 && parts[0] == "p" && r.Method == http.MethodGet {
		s.handleSharedPage(w, r, parts[1:])
		return
	}
	if len(parts) < 2 || parts[0] != "api" {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}

	// Public routes of the shared page
	if parts[1] == "shared" && len(parts) >= 3 {
		s.handleShared(w, r, parts[2:])
		return
	}
	if parts[1] == "analytics" && len(parts) >= 3 && r.Method == http.MethodPost {
		s.handleEventIngest(w, r, parts[2:])
		return
	}

	session, ok := s.requireSession(w, r)
	if !ok {
		return
	}

	switch {
	case parts[1] == "session" && len(parts) == 2 && r.Method == http.MethodGet:
		decision, err := s.service.PublishState(r.Context(), session)
		if err != nil {
			s.writeMappedError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"authenticated": true,
			"userId":        session.UserID,
			"companyId":     session.CompanyID,
			"userName":      session.Username,
			"publishState":  decision.State,
			"ceiling":       decision.Ceiling,
		})
	case parts[1] == "proposals":
		s.handleProposals(w, r, session, parts[2:])
	case parts[1] == "analytics" && len(parts) == 3 && r.Method == http.MethodGet:
		overview, err := s.service.AnalyticsOverview(r.Context(), session, parts[2])
		if err != nil {
			s.writeMappedError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"versions": overview})
	case parts[1] == "threads" && len(parts) == 4 && parts[3] == "resolve" && r.Method == http.MethodPost:
		if err := s.service.ResolveThread(r.Context(), session, parts[2]); err != nil {
			s.writeMappedError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	case parts[1] == "hooks":
		s.handleHooks(w, r, session, parts[2:])
	case parts[1] == "clients":
		s.handleClients(w, r, session, parts[2:])
	case parts[1] == "templates":
		s.handleTemplates(w, r, session, parts[2:])
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "ready"
	statusCode := http.StatusOK
	checks := map[string]any{
		"database": map[string]any{"status": "ok"},
	}

	if err := s.service.Ping(ctx); err != nil {
		status = "not_ready"
		statusCode = http.StatusServiceUnavailable
		checks["database"] = map[string]any{
			"status": "error",
			"error":  err.Error(),
		}
	}

	writeJSON(w, statusCode, map[string]any{
		"ok":     status == "ready",
		"status": status,
		"checks": checks,
	})
}

func (s *HTTPServer) handleProposals(w http.ResponseWriter, r *http.Request, session Session, parts []string) {
	ctx := r.Context()

	if len(parts) == 0 {
		switch r.Method {
		case http.MethodGet:
			proposals, err := s.service.ListProposals(ctx, session)
			if err != nil {
				s.writeMappedError(w, r, err)
				return
			}
			items := make([]map[string]any, 0, len(proposals))
			for _, proposal := range proposals {
				items = append(items, proposalJSON(proposal))
			}
			writeJSON(w, http.StatusOK, map[string]any{"proposals": items})
		case http.MethodPost:
			var body struct {
				Title string `json:"title"`
			}
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			detail, err := s.service.CreateProposal(ctx, session, body.Title)
			if err != nil {
				s.writeMappedError(w, r, err)
				return
			}
			writeJSON(w, http.StatusCreated, detailJSON(detail))
		default:
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		}
		return
	}

	if parts[0] == "sections" && len(parts) == 2 && parts[1] == "search" && r.Method == http.MethodGet {
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		writeJSON(w, http.StatusOK, s.service.SearchSections(ctx, session, r.URL.Query().Get("q"), limit))
		return
	}

	proposalID := parts[0]
	if len(parts) == 1 {
		switch r.Method {
		case http.MethodGet:
			detail, err := s.service.GetProposal(ctx, session, proposalID)
			if err != nil {
				s.writeMappedError(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, detailJSON(detail))
		case http.MethodPut:
			var input SaveProposalInput
			if err := decodeBody(r, &input); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			detail, err := s.service.SaveProposal(ctx, session, proposalID, input)
			if err != nil {
				s.writeMappedError(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, detailJSON(detail))
		case http.MethodDelete:
			if err := s.service.DeleteProposal(ctx, session, proposalID); err != nil {
				s.writeMappedError(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"id": proposalID})
		default:
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		}
		return
	}

	action := strings.Join(parts[1:], "/")
	switch {
	case action == "status" && r.Method == http.MethodPut:
		var body struct {
			Status string `json:"status"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		proposal, err := s.service.ChangeStatus(ctx, session, proposalID, body.Status)
		if err != nil {
			s.writeMappedError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"proposal": proposalJSON(proposal)})
	case action == "duplicate" && r.Method == http.MethodPost:
		detail, err := s.service.Duplicate(ctx, session, proposalID)
		if err != nil {
			s.writeMappedError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, detailJSON(detail))
	case action == "share" && r.Method == http.MethodPost:
		snapshot, err := s.service.Share(ctx, session, proposalID)
		if err != nil {
			s.writeMappedError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"shared": snapshotJSON(snapshot)})
	case action == "share-email" && r.Method == http.MethodPost:
		var input ShareEmailInput
		if err := decodeBody(r, &input); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		snapshot, err := s.service.ShareEmail(ctx, session, proposalID, input)
		if err != nil {
			s.writeMappedError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"shared": snapshotJSON(snapshot)})
	case action == "mark-as-sent" && r.Method == http.MethodPost:
		proposal, err := s.service.MarkAsSent(ctx, session, proposalID)
		if err != nil {
			s.writeMappedError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"proposal": proposalJSON(proposal)})
	case action == "sections/import" && r.Method == http.MethodPost:
		var body struct {
			UID string `json:"uidToImport"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		clipped, err := s.service.ImportSection(ctx, session, proposalID, body.UID)
		if err != nil {
			s.writeMappedError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"blocks": blocksJSON(clipped, "")})
	case action == "signature" && r.Method == http.MethodGet:
		verification, err := s.service.VerifyOwnedSignature(ctx, session, proposalID)
		if err != nil {
			s.writeMappedError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, verification)
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

// handleShared serves /api/shared/{token}[/{version}][/action].
func (s *HTTPServer) handleShared(w http.ResponseWriter, r *http.Request, parts []string) {
	ctx := r.Context()
	token := parts[0]
	rest := parts[1:]

	version := 0
	if len(rest) > 0 {
		if parsed, err := strconv.Atoi(rest[0]); err == nil {
			if parsed <= 0 {
				writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
				return
			}
			version = parsed
			rest = rest[1:]
		}
	}

	switch {
	case len(rest) == 0 && r.Method == http.MethodGet:
		view, err := s.service.GetShared(ctx, token, version)
		if err != nil {
			s.writeMappedError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, sharedJSON(view))
	case len(rest) == 1 && rest[0] == "pdf" && r.Method == http.MethodGet:
		data, filename, err := s.service.SharedPDF(ctx, token, version)
		if err != nil {
			if errors.Is(err, errRenderingDisabled) || errors.Is(err, render.ErrPDFDependencyMissing) {
				writeError(w, http.StatusServiceUnavailable, "PDF_UNAVAILABLE", "PDF rendering is unavailable", nil)
				return
			}
			s.writeMappedError(w, r, err)
			return
		}
		w.Header().Set("Content-Type", "application/pdf")
		w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, filename))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(data)
	case len(rest) == 1 && rest[0] == "sign" && r.Method == http.MethodPost:
		var input SignInput
		if err := decodeBody(r, &input); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		view, err := s.service.Sign(ctx, token, version, input, s.clientIP(r))
		if err != nil {
			s.writeMappedError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, sharedJSON(view))
	case len(rest) == 1 && rest[0] == "payment" && r.Method == http.MethodPost:
		var body struct {
			Charge map[string]any `json:"charge"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		view, err := s.service.RecordPayment(ctx, token, version, body.Charge)
		if err != nil {
			s.writeMappedError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, sharedJSON(view))
	case len(rest) == 1 && rest[0] == "comments" && r.Method == http.MethodPost:
		var input PostCommentInput
		if err := decodeBody(r, &input); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		if version > 0 {
			input.Version = version
		}
		var viewer *Session
		if token := bearerToken(r); token != "" {
			if session, err := s.service.SessionFromToken(ctx, token); err == nil {
				viewer = &session
			}
		}
		threads, err := s.service.PostComment(ctx, viewer, token, input)
		if err != nil {
			s.writeMappedError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"threads": threadsJSON(threads)})
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

// handleEventIngest serves POST /api/analytics/{token}[/{version}], rate
// limited per client address.
func (s *HTTPServer) handleEventIngest(w http.ResponseWriter, r *http.Request, parts []string) {
	ip := s.clientIP(r)
	limit, err := s.events.Get(r.Context(), ip)
	if err != nil {
		s.writeMappedError(w, r, err)
		return
	}
	w.Header().Set("X-RateLimit-Limit", strconv.FormatInt(limit.Limit, 10))
	w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(limit.Remaining, 10))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(limit.Reset, 10))
	if limit.Reached {
		metrics.EventsIngested.WithLabelValues("", "rate_limited").Inc()
		writeError(w, http.StatusTooManyRequests, "RATE_LIMITED", "Too many requests", nil)
		return
	}

	version := 0
	if len(parts) > 1 {
		parsed, err := strconv.Atoi(parts[1])
		if err != nil || parsed <= 0 || len(parts) > 2 {
			writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
			return
		}
		version = parsed
	}

	var body struct {
		Event EventInput `json:"event"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	client := Client{IP: ip, UserAgent: r.UserAgent()}
	if err := s.service.IngestEvent(r.Context(), parts[0], version, body.Event, client); err != nil {
		s.writeMappedError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{})
}

// handleSharedPage serves the printable HTML page at /p/{token}[/{version}].
func (s *HTTPServer) handleSharedPage(w http.ResponseWriter, r *http.Request, parts []string) {
	version := 0
	if len(parts) > 1 {
		parsed, err := strconv.Atoi(parts[1])
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
			return
		}
		version = parsed
	}
	page, err := s.service.SharedPage(r.Context(), parts[0], version)
	if err != nil {
		s.writeMappedError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(page))
}

func (s *HTTPServer) handleHooks(w http.ResponseWriter, r *http.Request, session Session, parts []string) {
	ctx := r.Context()
	switch {
	case len(parts) == 0 && r.Method == http.MethodGet:
		hooks, err := s.service.ListHooks(ctx, session)
		if err != nil {
			s.writeMappedError(w, r, err)
			return
		}
		items := make([]map[string]any, 0, len(hooks))
		for _, hook := range hooks {
			items = append(items, hookJSON(hook))
		}
		writeJSON(w, http.StatusOK, map[string]any{"hooks": items})
	case len(parts) == 0 && r.Method == http.MethodPost:
		var input HookInput
		if err := decodeBody(r, &input); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		hook, err := s.service.SubscribeHook(ctx, session, input)
		if err != nil {
			s.writeMappedError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, hookJSON(hook))
	case len(parts) == 1 && r.Method == http.MethodDelete:
		if err := s.service.UnsubscribeHook(ctx, session, parts[0]); err != nil {
			s.writeMappedError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"id": parts[0]})
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) handleClients(w http.ResponseWriter, r *http.Request, session Session, parts []string) {
	ctx := r.Context()
	switch {
	case len(parts) == 0 && r.Method == http.MethodGet:
		clients, err := s.service.ListClients(ctx, session)
		if err != nil {
			s.writeMappedError(w, r, err)
			return
		}
		items := make([]map[string]any, 0, len(clients))
		for _, client := range clients {
			items = append(items, clientJSON(client))
		}
		writeJSON(w, http.StatusOK, map[string]any{"clients": items})
	case len(parts) == 0 && r.Method == http.MethodPost:
		var input ClientInput
		if err := decodeBody(r, &input); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		client, err := s.service.CreateClient(ctx, session, input)
		if err != nil {
			s.writeMappedError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"client": clientJSON(client)})
	case len(parts) == 1 && r.Method == http.MethodPut:
		var input ClientInput
		if err := decodeBody(r, &input); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		client, err := s.service.RenameClient(ctx, session, parts[0], input)
		if err != nil {
			s.writeMappedError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"client": clientJSON(client)})
	case len(parts) == 1 && r.Method == http.MethodDelete:
		if err := s.service.DeleteClient(ctx, session, parts[0]); err != nil {
			s.writeMappedError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"id": parts[0]})
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) handleTemplates(w http.ResponseWriter, r *http.Request, session Session, parts []string) {
	ctx := r.Context()
	switch {
	case len(parts) == 0 && r.Method == http.MethodGet:
		templates, err := s.service.ListTemplates(ctx)
		if err != nil {
			s.writeMappedError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"templates": templates})
	case len(parts) == 2 && parts[1] == "duplicate" && r.Method == http.MethodPost:
		detail, err := s.service.DuplicateTemplate(ctx, session, parts[0])
		if err != nil {
			s.writeMappedError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, detailJSON(detail))
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) requireSession(w http.ResponseWriter, r *http.Request) (Session, bool) {
	token := bearerToken(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
		return Session{}, false
	}
	session, err := s.service.SessionFromToken(r.Context(), token)
	if err != nil {
		s.writeMappedError(w, r, err)
		return Session{}, false
	}
	return session, true
}

func (s *HTTPServer) writeMappedError(w http.ResponseWriter, r *http.Request, err error) {
	status, code, message, details := mapError(err)
	if status >= http.StatusInternalServerError {
		logging.Log.WithFields(logrus.Fields{
			"request_id": requestID(r.Context()),
			"path":       r.URL.Path,
		}).WithError(err).Error("request failed")
	}
	writeError(w, status, code, message, details)
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = randomRequestID()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, id)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		writer.Header().Set("Cache-Control", "no-store")
		writer.Header().Set("X-Request-ID", id)

		next.ServeHTTP(writer, r)

		logging.Log.WithFields(logrus.Fields{
			"request_id":  id,
			"method":      r.Method,
			"path":        r.URL.Path,
			"status":      writer.status,
			"duration_ms": time.Since(started).Milliseconds(),
		}).Info("request")
	})
}

type requestIDKey struct{}

func requestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func randomRequestID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, http.ErrBodyReadAfterClose) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}

// clientIP is the socket peer unless the peer is a trusted proxy. Behind
// trusted proxies X-Forwarded-For is read from the right, and the first hop
// that is not a trusted proxy is the client.
func (s *HTTPServer) clientIP(r *http.Request) string {
	client := r.RemoteAddr
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		client = host
	}
	if !s.trustedProxy(client) {
		return client
	}
	hops := strings.Split(r.Header.Get("X-Forwarded-For"), ",")
	for i := len(hops) - 1; i >= 0; i-- {
		hop := strings.TrimSpace(hops[i])
		if _, err := netip.ParseAddr(hop); err != nil {
			break
		}
		client = hop
		if !s.trustedProxy(hop) {
			break
		}
	}
	return client
}

func (s *HTTPServer) trustedProxy(ip string) bool {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	for _, prefix := range s.proxies {
		if prefix.Contains(addr) {
			return true
		}
	}
	return false
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	if errors.Is(err, store.ErrNotFound) {
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	}
	if errors.Is(err, auth.ErrInvalidToken) || errors.Is(err, auth.ErrExpiredToken) {
		return http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil
	}
	if errors.Is(err, signing.ErrBadSignature) || errors.Is(err, signing.ErrNonCanonical) {
		return http.StatusConflict, "SIGNATURE_INVALID", "Stored signature does not verify", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
