package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/yuchenzhao/emolens/backend/internal/handler/live"
	sessionhandler "github.com/yuchenzhao/emolens/backend/internal/handler/session"
	middlewarePkg "github.com/yuchenzhao/emolens/backend/internal/middleware"
	"github.com/yuchenzhao/emolens/backend/internal/service/classify"
	sessionservice "github.com/yuchenzhao/emolens/backend/internal/service/session"
	"github.com/yuchenzhao/emolens/backend/pkg/utils"
)

// NewRouter wires HTTP routes to core services.
func NewRouter(sessionSvc *sessionservice.Service, classifySvc *classify.Service) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS)

	sessionHandler := sessionhandler.New(sessionSvc, classifySvc)
	liveHandler := live.New(sessionSvc)

	r.Route("/api", func(api chi.Router) {
		api.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			utils.RespondJSON(w, http.StatusOK, map[string]string{
				"status":  "healthy",
				"message": "EmoLens engine is running",
			})
		})

		sessionHandler.RegisterRoutes(api)
		liveHandler.RegisterRoutes(api)
	})

	return r
}
