package web

func (s *Server) setupRoutes() {
	s.router.Get("/health", HealthCheck)

	s.router.Post("/register", s.handler.Register)
	s.router.Post("/infer", s.handler.Infer)
	s.router.Get("/evals", s.handler.Evals)
	s.router.Get("/students", s.handler.Students)
}
