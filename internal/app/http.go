package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"orbit/api/internal/auth"
	"orbit/api/internal/search"
	"orbit/api/internal/store"
	"orbit/api/internal/util"
)

type HTTPConfig struct {
	JWTSecret  string
	AccessTTL  time.Duration
	CORSOrigin string
}

type HTTPServer struct {
	sessions   *Sessions
	users      store.UserRepository
	ping       func(context.Context) error
	presence   Presence
	secret     []byte
	accessTTL  time.Duration
	corsOrigin string
	log        *zap.Logger
	metrics    http.Handler
}

func NewHTTPServer(sessions *Sessions, cfg HTTPConfig) *HTTPServer {
	deps := sessions.deps
	accessTTL := cfg.AccessTTL
	if accessTTL <= 0 {
		accessTTL = time.Hour
	}
	s := &HTTPServer{
		sessions:   sessions,
		users:      deps.Repos,
		ping:       deps.Repos.Ping,
		presence:   deps.Presence,
		secret:     []byte(cfg.JWTSecret),
		accessTTL:  accessTTL,
		corsOrigin: cfg.CORSOrigin,
		log:        deps.Log.Named("http"),
	}
	if deps.Metrics != nil {
		s.metrics = deps.Metrics.Handler()
	}
	return s
}

func (s *HTTPServer) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(s.withMiddleware)

	r.Get("/api/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	})
	r.Get("/api/ready", s.handleReady)
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics)
	}

	r.Post("/api/session/login", s.handleLogin)
	r.Get("/api/session", s.handleSession)

	r.Group(func(pr chi.Router) {
		pr.Use(s.requireUser)

		pr.Get("/api/me", s.handleMe)
		pr.Patch("/api/me", s.handleUpdateProfile)
		pr.Post("/api/presence/heartbeat", s.handleHeartbeat)

		pr.Get("/api/projects", s.handleListProjects)
		pr.Post("/api/projects", s.handleCreateProject)
		pr.Post("/api/projects/join", s.handleJoinProject)
		pr.Patch("/api/projects/{projectID}", s.handleUpdateProject)
		pr.Delete("/api/projects/{projectID}", s.handleDeleteProject)
		pr.Get("/api/projects/{projectID}/code", s.handleActiveCode)
		pr.Post("/api/projects/{projectID}/code", s.handleRotateCode)
		pr.Get("/api/projects/{projectID}/tasks", s.handleListTasks)
		pr.Post("/api/projects/{projectID}/tasks", s.handleCreateTask)
		pr.Get("/api/projects/{projectID}/board", s.handleBoard)
		pr.Get("/api/projects/{projectID}/online", s.handleOnline)
		pr.Post("/api/projects/{projectID}/invitations", s.handleInvite)

		pr.Patch("/api/tasks/{taskID}", s.handleUpdateTask)
		pr.Post("/api/tasks/{taskID}/move", s.handleMoveTask)
		pr.Delete("/api/tasks/{taskID}", s.handleDeleteTask)

		pr.Get("/api/members", s.handleListMembers)
		pr.Patch("/api/members/{membershipID}", s.handleUpdateMemberRole)
		pr.Delete("/api/members/{membershipID}", s.handleRemoveMember)

		pr.Get("/api/activity", s.handleListActivity)
		pr.Post("/api/activity", s.handleLogActivity)

		pr.Get("/api/search", s.handleSearch)
	})
	return r
}

func (s *HTTPServer) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "ready"
	statusCode := http.StatusOK
	checks := map[string]any{
		"database": map[string]any{"status": "ok"},
		"realtime": map[string]any{"status": "ok"},
	}

	if err := s.ping(ctx); err != nil {
		status = "not_ready"
		statusCode = http.StatusServiceUnavailable
		checks["database"] = map[string]any{
			"status": "error",
			"error":  err.Error(),
		}
	}
	// presence is optional; a failing Redis degrades but does not block
	if err := s.presence.Ping(ctx); err != nil {
		checks["realtime"] = map[string]any{
			"status": "degraded",
			"error":  err.Error(),
		}
	}

	writeJSON(w, statusCode, map[string]any{
		"ok":     status == "ready",
		"status": status,
		"checks": checks,
	})
}

func (s *HTTPServer) handleLogin(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email       string `json:"email"`
		DisplayName string `json:"displayName"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	email := strings.ToLower(strings.TrimSpace(body.Email))
	if email == "" || !strings.Contains(email, "@") {
		writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "email is required", nil)
		return
	}
	displayName := strings.TrimSpace(body.DisplayName)
	if displayName == "" {
		displayName = strings.SplitN(email, "@", 2)[0]
	}

	user, err := s.users.EnsureUser(r.Context(), email, displayName)
	if err != nil {
		s.log.Error("ensure user", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "LOGIN_FAILED", "Login failed", nil)
		return
	}
	token, err := auth.IssueToken(s.secret, auth.NewClaims(user.ID, user.DisplayName, user.Email, util.NewID("jti"), s.accessTTL))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "LOGIN_FAILED", "Login failed", nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"token":    token,
		"userId":   user.ID,
		"userName": user.DisplayName,
		"user":     userView(user),
	})
}

func (s *HTTPServer) handleSession(w http.ResponseWriter, r *http.Request) {
	token := bearerToken(r)
	if token == "" {
		writeJSON(w, http.StatusOK, map[string]any{"authenticated": false, "userName": nil})
		return
	}
	claims, err := auth.ParseToken(s.secret, token)
	if err != nil {
		writeJSON(w, http.StatusOK, map[string]any{"authenticated": false, "userName": nil})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"authenticated": true, "userName": claims.Name, "userId": claims.Subject})
}

func (s *HTTPServer) handleMe(w http.ResponseWriter, r *http.Request) {
	user, err := s.coordinator(r).CurrentUser(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user": userView(user)})
}

func (s *HTTPServer) handleUpdateProfile(w http.ResponseWriter, r *http.Request) {
	var body struct {
		DisplayName string `json:"displayName"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	user, err := s.coordinator(r).UpdateProfile(r.Context(), body.DisplayName)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user": userView(user)})
}

func (s *HTTPServer) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	if err := s.coordinator(r).Heartbeat(r.Context()); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) handleListProjects(w http.ResponseWriter, r *http.Request) {
	list, err := s.coordinator(r).FetchProjects(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"projects": projectViews(list.Projects),
		"state":    list.State,
	})
}

func (s *HTTPServer) handleCreateProject(w http.ResponseWriter, r *http.Request) {
	var input CreateProjectInput
	if err := decodeBody(r, &input); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	result, err := s.coordinator(r).CreateProject(r.Context(), input)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	payload := map[string]any{
		"project":    projectView(result.Project),
		"membership": membershipView(result.Membership),
		"joinCode":   nil,
	}
	if result.JoinCode != nil {
		payload["joinCode"] = joinCodeView(*result.JoinCode)
	}
	if result.CodeErr != nil {
		_, code, message, _ := mapError(result.CodeErr)
		payload["joinCodeError"] = map[string]any{"code": code, "error": message}
	}
	writeJSON(w, http.StatusCreated, payload)
}

func (s *HTTPServer) handleJoinProject(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Code string `json:"code"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	redemption, err := s.coordinator(r).JoinProject(r.Context(), body.Code)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"project":    projectView(redemption.Project),
		"membership": membershipView(redemption.Membership),
	})
}

func (s *HTTPServer) handleUpdateProject(w http.ResponseWriter, r *http.Request) {
	var patch ProjectPatch
	if err := decodeBody(r, &patch); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	project, err := s.coordinator(r).UpdateProject(r.Context(), chi.URLParam(r, "projectID"), patch)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"project": projectView(project)})
}

func (s *HTTPServer) handleDeleteProject(w http.ResponseWriter, r *http.Request) {
	if err := s.coordinator(r).DeleteProject(r.Context(), chi.URLParam(r, "projectID")); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) handleActiveCode(w http.ResponseWriter, r *http.Request) {
	code, err := s.coordinator(r).ActiveJoinCode(r.Context(), chi.URLParam(r, "projectID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"joinCode": joinCodeView(code)})
}

func (s *HTTPServer) handleRotateCode(w http.ResponseWriter, r *http.Request) {
	code, err := s.coordinator(r).RotateJoinCode(r.Context(), chi.URLParam(r, "projectID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"joinCode": joinCodeView(code)})
}

func (s *HTTPServer) handleListTasks(w http.ResponseWriter, r *http.Request) {
	tasks, err := s.coordinator(r).FetchTasks(r.Context(), chi.URLParam(r, "projectID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tasks": taskViews(tasks)})
}

func (s *HTTPServer) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	var input CreateTaskInput
	if err := decodeBody(r, &input); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	input.ProjectID = chi.URLParam(r, "projectID")
	task, err := s.coordinator(r).CreateTask(r.Context(), input)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"task": taskView(task)})
}

func (s *HTTPServer) handleBoard(w http.ResponseWriter, r *http.Request) {
	coordinator := s.coordinator(r)
	projectID := chi.URLParam(r, "projectID")
	if coordinator.State().ActiveProject() != projectID {
		if _, err := coordinator.FetchTasks(r.Context(), projectID); err != nil {
			s.fail(w, r, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"board": boardView(coordinator.State().TaskBoard())})
}

func (s *HTTPServer) handleOnline(w http.ResponseWriter, r *http.Request) {
	online, err := s.coordinator(r).OnlineMembers(r.Context(), chi.URLParam(r, "projectID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"online": online})
}

func (s *HTTPServer) handleInvite(w http.ResponseWriter, r *http.Request) {
	var input InviteInput
	if err := decodeBody(r, &input); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	input.ProjectID = chi.URLParam(r, "projectID")
	invite, err := s.coordinator(r).InviteMember(r.Context(), input)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	payload := map[string]any{
		"email":      invite.Email,
		"pending":    invite.Pending,
		"code":       invite.Code,
		"mailed":     invite.Mailed,
		"membership": nil,
	}
	if invite.Membership != nil {
		payload["membership"] = membershipView(*invite.Membership)
	}
	writeJSON(w, http.StatusCreated, payload)
}

func (s *HTTPServer) handleUpdateTask(w http.ResponseWriter, r *http.Request) {
	var patch TaskPatch
	if err := decodeBody(r, &patch); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	task, err := s.coordinator(r).UpdateTask(r.Context(), chi.URLParam(r, "taskID"), patch)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"task": taskView(task)})
}

func (s *HTTPServer) handleMoveTask(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Status   store.TaskStatus `json:"status"`
		Position int              `json:"position"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	task, err := s.coordinator(r).MoveTask(r.Context(), chi.URLParam(r, "taskID"), body.Status, body.Position)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"task": taskView(task)})
}

func (s *HTTPServer) handleDeleteTask(w http.ResponseWriter, r *http.Request) {
	if err := s.coordinator(r).DeleteTask(r.Context(), chi.URLParam(r, "taskID")); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) handleListMembers(w http.ResponseWriter, r *http.Request) {
	members, err := s.coordinator(r).FetchMembers(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"members": membershipViews(members)})
}

func (s *HTTPServer) handleUpdateMemberRole(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Role string `json:"role"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	membership, err := s.coordinator(r).UpdateMemberRole(r.Context(), chi.URLParam(r, "membershipID"), body.Role)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"membership": membershipView(membership)})
}

func (s *HTTPServer) handleRemoveMember(w http.ResponseWriter, r *http.Request) {
	if err := s.coordinator(r).RemoveMember(r.Context(), chi.URLParam(r, "membershipID")); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) handleListActivity(w http.ResponseWriter, r *http.Request) {
	var projectID *string
	if value := strings.TrimSpace(r.URL.Query().Get("projectId")); value != "" {
		projectID = &value
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	items, err := s.coordinator(r).FetchActivities(r.Context(), projectID, limit)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"activity": feedViews(items)})
}

func (s *HTTPServer) handleLogActivity(w http.ResponseWriter, r *http.Request) {
	var input ActivityInput
	if err := decodeBody(r, &input); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	entry, err := s.coordinator(r).LogActivity(r.Context(), input)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"activity": activityView(entry)})
}

func (s *HTTPServer) handleSearch(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	limit, _ := strconv.Atoi(query.Get("limit"))
	offset, _ := strconv.Atoi(query.Get("offset"))
	resp, err := s.coordinator(r).SearchTasks(r.Context(), search.Query{
		Text:   strings.TrimSpace(query.Get("q")),
		Status: strings.TrimSpace(query.Get("status")),
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, searchView(resp))
}

type userIDKey struct{}

// requireUser resolves the bearer token to a user id.
func (s *HTTPServer) requireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
			return
		}
		claims, err := auth.ParseToken(s.secret, token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
			return
		}
		ctx := context.WithValue(r.Context(), userIDKey{}, claims.Subject)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *HTTPServer) coordinator(r *http.Request) *Coordinator {
	userID, _ := r.Context().Value(userIDKey{}).(string)
	return s.sessions.For(userID)
}

func (s *HTTPServer) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, code, message, details := mapError(err)
	if status >= http.StatusInternalServerError {
		s.log.Error("request failed",
			zap.String("request_id", requestID(r.Context())),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
	}
	writeError(w, status, code, message, details)
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = util.NewID("req")
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", reqID)

		if r.Method == http.MethodOptions {
			writer.WriteHeader(http.StatusNoContent)
		} else {
			next.ServeHTTP(writer, r)
		}

		s.log.Info("request",
			zap.String("request_id", reqID),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", writer.status),
			zap.Int64("duration_ms", time.Since(started).Milliseconds()),
		)
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

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PATCH,DELETE,OPTIONS")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
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
		if errors.Is(err, http.ErrBodyReadAfterClose) || errors.Is(err, io.EOF) {
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

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) && domainErr.Status != 0 {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	if errors.Is(err, auth.ErrInvalidToken) || errors.Is(err, auth.ErrExpiredToken) {
		return http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
