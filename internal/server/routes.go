package server

import (
	"net/http"
	"strings"

	"github.com/molflow/microq/internal/handlers"
	"github.com/molflow/microq/internal/models"
)

// apiVersions lists the version segments the REST tree answers to. Only the
// latest is documented; the older ones are kept for deployed workers.
var apiVersions = map[string]bool{
	"v1": true, "v2": true, "v3": true, "v4": true,
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	// The REST tree is routed by hand: nearly every path carries a dynamic
	// {project} segment.
	mux.HandleFunc("/rest_api/", s.handleRestRoutes)

	// System endpoints
	mux.HandleFunc("/health", s.app.APIHandler.HealthHandler)
	mux.HandleFunc("/version", s.app.APIHandler.VersionHandler)

	return mux
}

// handleRestRoutes dispatches everything under /rest_api/.
func (s *Server) handleRestRoutes(w http.ResponseWriter, r *http.Request) {
	// DB init failure degrades the whole REST surface to 503.
	if s.app.StorageErr != nil {
		handlers.WriteError(w, http.StatusServiceUnavailable, "Service unavailable")
		return
	}

	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/rest_api/"), "/")
	if path == "" {
		s.app.APIHandler.NotFoundHandler(w, r)
		return
	}
	parts := strings.Split(path, "/")

	// Token and admin endpoints live at the REST root; they are also
	// reachable under the version segment.
	switch parts[0] {
	case "token":
		s.handleToken(w, r, parts[1:])
		return
	case "admin":
		s.handleAdminRoutes(w, r, parts[1:])
		return
	}

	if !apiVersions[parts[0]] {
		s.app.APIHandler.NotFoundHandler(w, r)
		return
	}
	s.handleVersionedRoutes(w, r, parts[1:])
}

func (s *Server) handleToken(w http.ResponseWriter, r *http.Request, rest []string) {
	if len(rest) != 0 {
		s.app.APIHandler.NotFoundHandler(w, r)
		return
	}
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	s.app.AdminHandler.TokenHandler(w, r)
}

// handleAdminRoutes dispatches admin/users[/{id}].
func (s *Server) handleAdminRoutes(w http.ResponseWriter, r *http.Request, rest []string) {
	if len(rest) == 0 || rest[0] != "users" {
		s.app.APIHandler.NotFoundHandler(w, r)
		return
	}

	switch len(rest) {
	case 1:
		if r.Method != http.MethodPost {
			methodNotAllowed(w)
			return
		}
		s.app.AdminHandler.CreateUserHandler(w, r)
	case 2:
		userID := rest[1]
		switch r.Method {
		case http.MethodGet:
			s.app.AdminHandler.GetUserHandler(w, r, userID)
		case http.MethodDelete:
			s.app.AdminHandler.DeleteUserHandler(w, r, userID)
		default:
			methodNotAllowed(w)
		}
	default:
		s.app.APIHandler.NotFoundHandler(w, r)
	}
}

// handleVersionedRoutes dispatches the tree under /rest_api/v4/.
func (s *Server) handleVersionedRoutes(w http.ResponseWriter, r *http.Request, rest []string) {
	if len(rest) == 0 {
		s.app.APIHandler.NotFoundHandler(w, r)
		return
	}

	switch rest[0] {
	case "token":
		s.handleToken(w, r, rest[1:])
		return
	case "admin":
		s.handleAdminRoutes(w, r, rest[1:])
		return
	case "projects":
		switch {
		case len(rest) == 1:
			if r.Method != http.MethodGet {
				methodNotAllowed(w)
				return
			}
			s.app.ProjectHandler.ListHandler(w, r)
		case len(rest) == 3 && rest[1] == "jobs" && rest[2] == "fetch":
			if r.Method != http.MethodGet {
				methodNotAllowed(w)
				return
			}
			s.app.JobHandler.FetchAnyHandler(w, r)
		default:
			s.app.APIHandler.NotFoundHandler(w, r)
		}
		return
	}

	project := rest[0]
	if !models.ValidProjectID(project) {
		s.app.APIHandler.NotFoundHandler(w, r)
		return
	}
	s.handleProjectRoutes(w, r, project, rest[1:])
}

// handleProjectRoutes dispatches the tree under /rest_api/v4/{project}/.
func (s *Server) handleProjectRoutes(w http.ResponseWriter, r *http.Request, project string, rest []string) {
	switch len(rest) {
	case 0:
		switch r.Method {
		case http.MethodGet, http.MethodHead:
			s.app.ProjectHandler.StatusHandler(w, r, project)
		case http.MethodPut:
			s.app.ProjectHandler.UpdateHandler(w, r, project)
		case http.MethodDelete:
			s.app.ProjectHandler.DeleteHandler(w, r, project)
		default:
			methodNotAllowed(w)
		}

	case 1:
		switch rest[0] {
		case "jobs":
			switch r.Method {
			case http.MethodGet:
				s.app.JobHandler.ListHandler(w, r, project)
			case http.MethodPost:
				s.app.JobHandler.CreateHandler(w, r, project)
			default:
				methodNotAllowed(w)
			}
		case "workers":
			s.app.ProjectHandler.WorkersHandler(w, r, project)
		case "failures":
			if r.Method != http.MethodGet {
				methodNotAllowed(w)
				return
			}
			s.app.AnalyticsHandler.FailuresHandler(w, r, project)
		default:
			s.app.APIHandler.NotFoundHandler(w, r)
		}

	case 2:
		if rest[0] != "jobs" {
			s.app.APIHandler.NotFoundHandler(w, r)
			return
		}
		switch rest[1] {
		case "fetch":
			if r.Method != http.MethodGet {
				methodNotAllowed(w)
				return
			}
			s.app.JobHandler.FetchHandler(w, r, project)
		case "count":
			if r.Method != http.MethodGet {
				methodNotAllowed(w)
				return
			}
			s.app.AnalyticsHandler.CountHandler(w, r, project)
		default:
			s.app.APIHandler.NotFoundHandler(w, r)
		}

	case 3:
		if rest[0] != "jobs" {
			s.app.APIHandler.NotFoundHandler(w, r)
			return
		}
		jobID := rest[1]
		switch rest[2] {
		case "fetch":
			if r.Method != http.MethodGet {
				methodNotAllowed(w)
				return
			}
			s.app.JobHandler.FetchSpecificHandler(w, r, project, jobID)
		case "claim":
			switch r.Method {
			case http.MethodGet:
				s.app.JobHandler.ClaimGetHandler(w, r, project, jobID)
			case http.MethodPut:
				s.app.JobHandler.ClaimPutHandler(w, r, project, jobID)
			case http.MethodDelete:
				s.app.JobHandler.ClaimDeleteHandler(w, r, project, jobID)
			default:
				methodNotAllowed(w)
			}
		case "status":
			switch r.Method {
			case http.MethodGet:
				s.app.JobHandler.StatusGetHandler(w, r, project, jobID)
			case http.MethodPut:
				s.app.JobHandler.StatusPutHandler(w, r, project, jobID)
			default:
				methodNotAllowed(w)
			}
		case "output":
			switch r.Method {
			case http.MethodGet:
				s.app.JobHandler.OutputGetHandler(w, r, project, jobID)
			case http.MethodPut:
				s.app.JobHandler.OutputPutHandler(w, r, project, jobID)
			default:
				methodNotAllowed(w)
			}
		default:
			s.app.APIHandler.NotFoundHandler(w, r)
		}

	default:
		s.app.APIHandler.NotFoundHandler(w, r)
	}
}

func methodNotAllowed(w http.ResponseWriter) {
	handlers.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
}
