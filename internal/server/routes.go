package server

import (
	"net/http"
	"strings"
)

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	// WebSocket route - campaign event stream, ?campaign_id= scopes the feed
	mux.HandleFunc("/ws", s.app.WSHandler.HandleWebSocket)

	// API routes - Campaigns
	mux.HandleFunc("/api/campaigns", s.handleCampaignsRoute)  // GET (list), POST (create)
	mux.HandleFunc("/api/campaigns/", s.handleCampaignRoutes) // GET/DELETE /{id}, POST /{id}/{action}

	// API routes - Jobs (external worker claim protocol)
	mux.HandleFunc("/api/jobs", s.app.JobHandler.ListJobsHandler)
	mux.HandleFunc("/api/jobs/dequeue", s.requirePOST(s.app.JobHandler.DequeueHandler))
	mux.HandleFunc("/api/jobs/complete", s.requirePOST(s.app.JobHandler.CompleteHandler))
	mux.HandleFunc("/api/jobs/cleanup", s.requirePOST(s.app.JobHandler.CleanupHandler))

	// API routes - System
	mux.HandleFunc("/api/status", s.app.StatusHandler.GetStatusHandler)

	// 404 handler for unmatched API routes
	mux.HandleFunc("/api/", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "Not found", http.StatusNotFound)
	})

	return mux
}

func (s *Server) requirePOST(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		next(w, r)
	}
}

// handleCampaignsRoute routes /api/campaigns by method
func (s *Server) handleCampaignsRoute(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.app.CampaignHandler.ListCampaignsHandler(w, r)
	case http.MethodPost:
		s.app.CampaignHandler.CreateCampaignHandler(w, r)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleCampaignRoutes routes /api/campaigns/{id} and action subpaths
func (s *Server) handleCampaignRoutes(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path

	if r.Method == http.MethodPost {
		switch {
		case strings.HasSuffix(path, "/start"):
			s.app.CampaignHandler.StartCampaignHandler(w, r)
		case strings.HasSuffix(path, "/advance"):
			s.app.CampaignHandler.AdvanceCampaignHandler(w, r)
		case strings.HasSuffix(path, "/pause"):
			s.app.CampaignHandler.PauseCampaignHandler(w, r)
		case strings.HasSuffix(path, "/resume"):
			s.app.CampaignHandler.ResumeCampaignHandler(w, r)
		default:
			http.Error(w, "Not found", http.StatusNotFound)
		}
		return
	}

	if r.Method == http.MethodGet {
		switch {
		case strings.HasSuffix(path, "/phases"):
			s.app.CampaignHandler.GetPhasesHandler(w, r)
		case strings.HasSuffix(path, "/completion"):
			s.app.CampaignHandler.CompletionHandler(w, r)
		default:
			s.app.CampaignHandler.GetCampaignHandler(w, r)
		}
		return
	}

	if r.Method == http.MethodDelete {
		s.app.CampaignHandler.DeleteCampaignHandler(w, r)
		return
	}

	http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
}
