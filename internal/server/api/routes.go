package api

import "github.com/go-chi/chi/v5"

// Routes mounts every handler on a fresh router. Middleware is left to
// the caller.
func (s *Server) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/health", s.HealthCheck)

	r.Route("/api", func(r chi.Router) {
		r.Post("/memories", s.StoreMemory)
		r.Get("/memories", s.RecallMemories)
		r.Get("/memories/{id}/related", s.RelatedMemories)
		r.Post("/memories/{id}/access", s.IncrementAccess)
		r.Post("/links", s.LinkMemories)
		r.Get("/patterns", s.FindPatterns)
		r.Get("/agents/{id}/knowledge", s.AgentKnowledge)
		r.Post("/gists", s.ExtractGists)
	})

	return r
}
