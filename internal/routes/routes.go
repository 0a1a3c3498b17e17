package routes

import (
	"net/http"

	"clubhouse/internal/handlers"
	"clubhouse/internal/middleware"
	helpers "clubhouse/internal/utils/helpers"

	"github.com/gorilla/mux"
)

func InitRoutes(router *mux.Router, jwtSecret string, orderingH *handlers.OrderingHandler, health http.HandlerFunc) {
	router.Use(middleware.RequestID, middleware.Recoverer, middleware.Logging)

	router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		helpers.Error(w, http.StatusNotFound, "route not found")
	})

	api := router.PathPrefix("/api").Subrouter()

	// --- Публичные маршруты ---
	api.HandleFunc("/health", health).Methods("GET")

	// --- Защищённые JWT ---
	protected := api.PathPrefix("").Subrouter()
	protected.Use(middleware.JWTAuth(jwtSecret))

	srv := protected.PathPrefix("/servers/{serverId}").Subrouter()
	srv.HandleFunc("/tree", orderingH.ServerTree).Methods("GET")
	srv.HandleFunc("/ordering", orderingH.Apply).Methods("POST")

	// Секции
	srv.HandleFunc("/sections", orderingH.CreateSection).Methods("POST")
	srv.HandleFunc("/sections/reorder", orderingH.ReorderSection).Methods("PUT")
	srv.HandleFunc("/sections/order", orderingH.ReorderSections).Methods("PUT")
	srv.HandleFunc("/sections/{sectionId}", orderingH.RenameSection).Methods("PATCH")
	srv.HandleFunc("/sections/{sectionId}", orderingH.DeleteSection).Methods("DELETE")

	// Каналы
	srv.HandleFunc("/channels", orderingH.CreateChannel).Methods("POST")
	srv.HandleFunc("/channels/reorder", orderingH.ReorderChannels).Methods("PUT")
	srv.HandleFunc("/channels/order", orderingH.ReorderChannelsBulk).Methods("PUT")
	srv.HandleFunc("/channels/{channelId}", orderingH.DeleteChannel).Methods("DELETE")
}
